package recognition

import (
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

var markdownParser = goldmark.New(goldmark.WithExtensions(extension.Table))

// ParseTables pulls pipe tables and HTML tables out of engine page text.
func ParseTables(content string) ([]domain.RawTable, error) {
	tables := parseMarkdownTables(content)
	if strings.Contains(strings.ToLower(content), "<table") {
		htmlTables, err := parseHTMLTables(content)
		if err != nil {
			return tables, err
		}
		tables = append(tables, htmlTables...)
	}
	return tables, nil
}

func parseMarkdownTables(content string) []domain.RawTable {
	src := []byte(content)
	doc := markdownParser.Parser().Parse(text.NewReader(src))

	var tables []domain.RawTable
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		table, ok := n.(*east.Table)
		if !ok {
			return ast.WalkContinue, nil
		}

		var raw domain.RawTable
		for row := table.FirstChild(); row != nil; row = row.NextSibling() {
			cells := make([]string, 0, 8)
			for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
				cells = append(cells, strings.TrimSpace(inlineText(cell, src)))
			}
			switch row.(type) {
			case *east.TableHeader:
				raw.Headers = cells
			case *east.TableRow:
				raw.Rows = append(raw.Rows, cells)
			}
		}
		tables = append(tables, raw)
		return ast.WalkSkipChildren, nil
	})
	return tables
}

func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := child.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

func parseHTMLTables(content string) ([]domain.RawTable, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, err
	}

	var tables []domain.RawTable
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Table {
			tables = append(tables, htmlTable(n))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return tables, nil
}

func htmlTable(table *html.Node) domain.RawTable {
	var raw domain.RawTable
	var walkRows func(*html.Node, bool)
	walkRows = func(n *html.Node, inHead bool) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Thead:
				walkRows(c, true)
			case atom.Tbody, atom.Tfoot:
				walkRows(c, false)
			case atom.Tr:
				cells, allHeader := htmlRow(c)
				if raw.Headers == nil && len(raw.Rows) == 0 && (inHead || allHeader) {
					raw.Headers = cells
					continue
				}
				raw.Rows = append(raw.Rows, cells)
			case atom.Table:
				// Nested tables are reported on their own.
			}
		}
	}
	walkRows(table, false)
	return raw
}

func htmlRow(tr *html.Node) ([]string, bool) {
	var cells []string
	allHeader := true
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
			continue
		}
		if c.DataAtom == atom.Td {
			allHeader = false
		}
		cells = append(cells, strings.Join(strings.Fields(nodeText(c)), " "))
		for range colspan(c) - 1 {
			cells = append(cells, "")
		}
	}
	return cells, allHeader && len(cells) > 0
}

func colspan(n *html.Node) int {
	for _, attr := range n.Attr {
		if attr.Key != "colspan" {
			continue
		}
		span, err := strconv.Atoi(strings.TrimSpace(attr.Val))
		if err != nil || span < 1 {
			return 1
		}
		return min(span, 64)
	}
	return 1
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch {
		case node.Type == html.TextNode:
			b.WriteString(node.Data)
		case node.Type == html.ElementNode && node.DataAtom == atom.Br:
			b.WriteByte(' ')
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

package correction

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

var errInvalidUTF8 = errors.New("value is not valid utf-8")

// Headers that mark a column of money amounts.
var currencyHeaderKeywords = []string{
	"amount", "baht", "thb", "value", "balance", "total",
	"บาท", "จำนวนเงิน", "ยอด", "รวม", "มูลค่า",
}

var tableLabelKeywords = []struct {
	label    domain.TableLabel
	keywords []string
}{
	{domain.LabelBalanceSheet, []string{"สินทรัพย์", "หนี้สิน", "ทุน", "สินทรัพย์รวม"}},
	{domain.LabelIncomeStatement, []string{"รายได้", "ค่าใช้จ่าย", "กำไร", "ขาดทุน"}},
	{domain.LabelCashFlow, []string{"กระแสเงินสด", "เงินสดจาก", "เงินสดรับ", "เงินสดจ่าย"}},
	{domain.LabelRatio, []string{"อัตราส่วน", "เปอร์เซ็นต์", "roe", "roa"}},
}

type Options struct {
	Format NumberFormat
	// CurrencyColumns promotes plain numbers under amount headers to currency.
	CurrencyColumns bool
}

type Engine struct {
	rules *Ruleset
	opts  Options
}

func NewEngine(rules *Ruleset, opts Options) *Engine {
	if opts.Format == (NumberFormat{}) {
		opts.Format = ThaiNumberFormat
	}
	return &Engine{rules: rules, opts: opts}
}

// Correct canonicalizes script and numerals, then applies the ruleset once.
func (e *Engine) Correct(value string) (string, error) {
	if !utf8.ValidString(value) {
		return strings.ToValidUTF8(value, ""), errInvalidUTF8
	}
	return e.rules.Apply(Canonicalize(value)), nil
}

// CorrectOutcome turns recognized tables into dense, typed cell grids.
func (e *Engine) CorrectOutcome(outcome domain.RecognitionOutcome) (domain.CorrectedOutcome, error) {
	if outcome.Failed() {
		return domain.CorrectedOutcome{}, domain.WrapError(domain.ErrInvalidInput, "correct outcome", errors.New("cannot correct a failed outcome"))
	}

	text, err := e.Correct(outcome.Text)
	warnings := append([]string(nil), outcome.Warnings...)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("text: %v", err))
	}

	result := domain.CorrectedOutcome{
		Kind:      outcome.Kind,
		Text:      text,
		PageCount: outcome.PageCount,
		Tables:    make([]domain.ExtractedTable, 0, len(outcome.Tables)),
	}
	for i, raw := range outcome.Tables {
		table, tableWarnings, ok := e.correctTable(raw)
		warnings = append(warnings, tableWarnings...)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("table %d: empty grid dropped", i))
			continue
		}
		table.Index = len(result.Tables)
		result.Tables = append(result.Tables, table)
	}
	result.Warnings = warnings
	return result, nil
}

func (e *Engine) correctTable(raw domain.RawTable) (domain.ExtractedTable, []string, bool) {
	headers := raw.Headers
	rows := raw.Rows
	if len(headers) == 0 && len(rows) > 1 {
		headers, rows = rows[0], rows[1:]
	}

	cols := len(headers)
	for _, row := range rows {
		cols = max(cols, len(row))
	}
	if cols == 0 {
		return domain.ExtractedTable{}, nil, false
	}

	confidence := clampConfidence(raw.Confidence)
	var warnings []string
	grid := make([][]string, 0, len(rows)+1)
	hasHeader := len(headers) > 0
	if hasHeader {
		grid = append(grid, pad(headers, cols))
	}
	for _, row := range rows {
		grid = append(grid, pad(row, cols))
	}

	cells := make([]domain.TableCell, 0, len(grid)*cols)
	corrected := make([][]string, len(grid))
	for r, row := range grid {
		corrected[r] = make([]string, cols)
		for c, value := range row {
			cell := domain.TableCell{
				Row:        r,
				Col:        c,
				Confidence: confidence,
				IsHeader:   hasHeader && r == 0,
			}
			fixed, err := e.Correct(value)
			cell.Value = fixed
			corrected[r][c] = fixed
			if err != nil {
				slog.Warn("correction_value_skipped", "row", r, "col", c, "error", err)
				warnings = append(warnings, fmt.Sprintf("cell %d,%d: %v", r, c, err))
				cell.Kind = domain.KindUnknown
			}
			cells = append(cells, cell)
		}
	}

	currencyCols := make([]bool, cols)
	if hasHeader && e.opts.CurrencyColumns {
		for c := range cols {
			currencyCols[c] = isCurrencyHeader(corrected[0][c])
		}
	}
	for i := range cells {
		cell := &cells[i]
		if cell.Kind == domain.KindUnknown {
			continue
		}
		if cell.IsHeader {
			cell.Kind = domain.KindText
			continue
		}
		cell.Kind = InferKind(cell.Value, e.opts.Format)
		if cell.Kind == domain.KindNumber && currencyCols[cell.Col] {
			cell.Kind = domain.KindCurrency
		}
		switch cell.Kind {
		case domain.KindNumber, domain.KindCurrency, domain.KindPercentage:
			if v, ok := ParseAmount(cell.Value, e.opts.Format); ok {
				cell.Numeric = &v
			}
		}
	}

	var tableHeaders []string
	if hasHeader {
		tableHeaders = corrected[0]
	}
	return domain.ExtractedTable{
		Label:      classifyTable(corrected),
		Headers:    tableHeaders,
		RowCount:   len(grid),
		ColCount:   cols,
		Markdown:   RenderMarkdown(corrected, hasHeader),
		Confidence: confidence,
		Cells:      cells,
	}, warnings, true
}

func pad(row []string, cols int) []string {
	out := make([]string, cols)
	copy(out, row)
	return out
}

func clampConfidence(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func isCurrencyHeader(header string) bool {
	h := strings.ToLower(header)
	for _, keyword := range currencyHeaderKeywords {
		if strings.Contains(h, keyword) {
			return true
		}
	}
	return false
}

func classifyTable(grid [][]string) domain.TableLabel {
	var b strings.Builder
	for _, row := range grid {
		for _, v := range row {
			b.WriteString(strings.ToLower(v))
			b.WriteByte(' ')
		}
	}
	text := b.String()
	for _, family := range tableLabelKeywords {
		for _, keyword := range family.keywords {
			if strings.Contains(text, keyword) {
				return family.label
			}
		}
	}
	return domain.LabelNone
}

// RenderMarkdown renders a grid as a pipe table.
func RenderMarkdown(grid [][]string, hasHeader bool) string {
	if len(grid) == 0 {
		return ""
	}
	cols := len(grid[0])
	var b strings.Builder
	writeRow := func(row []string) {
		b.WriteString("|")
		for _, v := range row {
			b.WriteString(" ")
			b.WriteString(strings.ReplaceAll(strings.ReplaceAll(v, "|", `\|`), "\n", " "))
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}

	body := grid
	if hasHeader {
		writeRow(grid[0])
		body = grid[1:]
	} else {
		writeRow(make([]string, cols))
	}
	b.WriteString("|")
	for range cols {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, row := range body {
		writeRow(row)
	}
	return strings.TrimRight(b.String(), "\n")
}

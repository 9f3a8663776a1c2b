package usecase

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
	"github.com/kirillkom/thai-fin-ocr/internal/core/ports"
)

// utf8BOM lets spreadsheet tools detect UTF-8 in delimited files.
const utf8BOM = "\xEF\xBB\xBF"

const documentSheet = "Document"

type ExportUseCase struct {
	store   ports.DocumentStore
	storage ports.ObjectStorage
}

func NewExportUseCase(store ports.DocumentStore, storage ports.ObjectStorage) *ExportUseCase {
	return &ExportUseCase{store: store, storage: storage}
}

type exportCell struct {
	Value      string           `json:"value"`
	Kind       domain.ValueKind `json:"kind"`
	Numeric    *float64         `json:"numeric,omitempty"`
	Confidence float64          `json:"confidence"`
	IsHeader   bool             `json:"is_header"`
}

type exportTable struct {
	Index      int               `json:"table_index"`
	Label      domain.TableLabel `json:"label,omitempty"`
	Headers    []string          `json:"headers"`
	RowCount   int               `json:"row_count"`
	ColCount   int               `json:"col_count"`
	Confidence float64           `json:"confidence"`
	Markdown   string            `json:"markdown"`
	Rows       [][]exportCell    `json:"rows"`
}

type exportDocument struct {
	ID          string                `json:"id"`
	FileName    string                `json:"file_name"`
	OrgCode     string                `json:"org_code"`
	OrgName     string                `json:"org_name"`
	Period      string                `json:"period"`
	Category    domain.Category       `json:"category"`
	Status      domain.DocumentStatus `json:"status"`
	Outcome     domain.OutcomeKind    `json:"outcome,omitempty"`
	PageCount   *int                  `json:"page_count,omitempty"`
	ProcessedAt *time.Time            `json:"processed_at,omitempty"`
	Tables      []exportTable         `json:"tables"`
}

func (uc *ExportUseCase) load(ctx context.Context, documentID string) (*domain.Document, []domain.ExtractedTable, error) {
	doc, err := uc.store.GetByID(ctx, documentID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch document by id: %w", err)
	}
	tables, err := uc.store.ListTables(ctx, documentID)
	if err != nil {
		return nil, nil, fmt.Errorf("list tables: %w", err)
	}
	return doc, tables, nil
}

// ExportJSON renders document metadata plus every table with typed rows.
func (uc *ExportUseCase) ExportJSON(ctx context.Context, documentID string) ([]byte, error) {
	doc, tables, err := uc.load(ctx, documentID)
	if err != nil {
		return nil, err
	}

	out := exportDocument{
		ID:          doc.ID,
		FileName:    doc.FileName,
		OrgCode:     doc.OrgCode,
		OrgName:     doc.OrgName,
		Period:      doc.Period,
		Category:    doc.Category,
		Status:      doc.Status,
		Outcome:     doc.Outcome,
		PageCount:   doc.PageCount,
		ProcessedAt: doc.ProcessedAt,
		Tables:      make([]exportTable, 0, len(tables)),
	}
	for _, table := range tables {
		rows := make([][]exportCell, 0, table.RowCount)
		for _, row := range table.Grid() {
			cells := make([]exportCell, 0, len(row))
			for _, cell := range row {
				cells = append(cells, exportCell{
					Value:      cell.Value,
					Kind:       cell.Kind,
					Numeric:    cell.Numeric,
					Confidence: cell.Confidence,
					IsHeader:   cell.IsHeader,
				})
			}
			rows = append(rows, cells)
		}
		out.Tables = append(out.Tables, exportTable{
			Index:      table.Index,
			Label:      table.Label,
			Headers:    table.Headers,
			RowCount:   table.RowCount,
			ColCount:   table.ColCount,
			Confidence: table.Confidence,
			Markdown:   table.Markdown,
			Rows:       rows,
		})
	}

	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}
	return raw, nil
}

// ExportCSV renders one table with a UTF-8 byte-order mark and returns the
// suggested file name.
func (uc *ExportUseCase) ExportCSV(ctx context.Context, documentID string, tableIndex int) ([]byte, string, error) {
	doc, tables, err := uc.load(ctx, documentID)
	if err != nil {
		return nil, "", err
	}
	for _, table := range tables {
		if table.Index != tableIndex {
			continue
		}
		raw, err := renderCSV(table)
		if err != nil {
			return nil, "", err
		}
		return raw, csvName(doc, table.Index), nil
	}
	return nil, "", domain.WrapError(domain.ErrTableNotFound, "export csv", fmt.Errorf("document %s has no table %d", documentID, tableIndex))
}

func renderCSV(table domain.ExtractedTable) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(utf8BOM)
	w := csv.NewWriter(&buf)
	for _, row := range table.Grid() {
		record := make([]string, len(row))
		for i, cell := range row {
			record[i] = cell.Value
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportXLSX builds a workbook with a Document sheet and one sheet per table.
func (uc *ExportUseCase) ExportXLSX(ctx context.Context, documentID string) ([]byte, error) {
	doc, tables, err := uc.load(ctx, documentID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()
	if err := f.SetSheetName("Sheet1", documentSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	processed := ""
	if doc.ProcessedAt != nil {
		processed = doc.ProcessedAt.UTC().Format(time.RFC3339)
	}
	meta := [][2]any{
		{"id", doc.ID},
		{"file_name", doc.FileName},
		{"org_code", doc.OrgCode},
		{"org_name", doc.OrgName},
		{"period", doc.Period},
		{"category", string(doc.Category)},
		{"status", string(doc.Status)},
		{"processed_at", processed},
		{"tables", len(tables)},
	}
	for i, kv := range meta {
		if err := f.SetSheetRow(documentSheet, fmt.Sprintf("A%d", i+1), &[]any{kv[0], kv[1]}); err != nil {
			return nil, fmt.Errorf("write document sheet: %w", err)
		}
	}
	_ = f.SetCellStyle(documentSheet, "A1", fmt.Sprintf("A%d", len(meta)), headerStyle)
	_ = f.SetColWidth(documentSheet, "A", "A", 16)
	_ = f.SetColWidth(documentSheet, "B", "B", 48)

	for _, table := range tables {
		sheet := fmt.Sprintf("Table %d", table.Index+1)
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", sheet, err)
		}
		for r, row := range table.Grid() {
			for c, cell := range row {
				name, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					return nil, fmt.Errorf("cell name: %w", err)
				}
				if err := f.SetCellValue(sheet, name, xlsxValue(cell)); err != nil {
					return nil, fmt.Errorf("write %s!%s: %w", sheet, name, err)
				}
				if cell.IsHeader {
					_ = f.SetCellStyle(sheet, name, name, headerStyle)
				}
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func xlsxValue(cell domain.TableCell) any {
	switch cell.Kind {
	case domain.KindNumber, domain.KindCurrency:
		if cell.Numeric != nil {
			return *cell.Numeric
		}
	}
	return cell.Value
}

// WriteAll stores the JSON, XLSX and per-table CSV renderings and returns
// their storage keys.
func (uc *ExportUseCase) WriteAll(ctx context.Context, documentID string) ([]string, error) {
	doc, tables, err := uc.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	prefix := exportPrefix(doc)
	stem := fileStem(doc)

	jsonRaw, err := uc.ExportJSON(ctx, documentID)
	if err != nil {
		return nil, err
	}
	xlsxRaw, err := uc.ExportXLSX(ctx, documentID)
	if err != nil {
		return nil, err
	}
	files := []struct {
		key  string
		data []byte
	}{
		{path.Join(prefix, stem+".json"), jsonRaw},
		{path.Join(prefix, stem+".xlsx"), xlsxRaw},
	}
	for _, table := range tables {
		raw, err := renderCSV(table)
		if err != nil {
			return nil, err
		}
		files = append(files, struct {
			key  string
			data []byte
		}{path.Join(prefix, csvName(doc, table.Index)), raw})
	}

	keys := make([]string, 0, len(files))
	for _, file := range files {
		if err := uc.storage.Save(ctx, file.key, bytes.NewReader(file.data)); err != nil {
			return keys, fmt.Errorf("save %s: %w", file.key, err)
		}
		keys = append(keys, file.key)
	}
	slog.Info("document_exported", "document_id", doc.ID, "files", len(keys))
	return keys, nil
}

func fileStem(doc *domain.Document) string {
	name := doc.FileName
	if name == "" {
		name = doc.ID
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func csvName(doc *domain.Document, index int) string {
	return fmt.Sprintf("%s_table_%d.csv", fileStem(doc), index)
}

func exportPrefix(doc *domain.Document) string {
	org := safeSegment(doc.OrgCode)
	if org == "" {
		org = "unclassified"
	}
	period := safeSegment(doc.Period)
	if period == "" {
		return org
	}
	return path.Join(org, period)
}

func safeSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	return s
}

package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

type exportStoreFake struct {
	doc    *domain.Document
	tables []domain.ExtractedTable
}

func (f *exportStoreFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.doc == nil || f.doc.ID != id {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", io.EOF)
	}
	copyDoc := *f.doc
	return &copyDoc, nil
}

func (f *exportStoreFake) List(context.Context, domain.DocumentFilter) ([]domain.Document, error) {
	return nil, nil
}

func (f *exportStoreFake) ListTables(context.Context, string) ([]domain.ExtractedTable, error) {
	return f.tables, nil
}

func (f *exportStoreFake) GetText(context.Context, string) (string, error) { return "", nil }

func (f *exportStoreFake) Summary(context.Context, domain.DocumentFilter) (domain.StatusSummary, error) {
	return domain.StatusSummary{}, nil
}

func (f *exportStoreFake) CleanupFailed(context.Context, time.Time) (int64, error) { return 0, nil }
func (f *exportStoreFake) Delete(context.Context, string) error { return nil }
func (f *exportStoreFake) RecoverInterrupted(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type objectStorageFake struct {
	files map[string][]byte
}

func (f *objectStorageFake) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.files == nil {
		f.files = make(map[string][]byte)
	}
	f.files[key] = raw
	return nil
}

func (f *objectStorageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.files[key])), nil
}

func exportFixture() *exportStoreFake {
	amount := 1234.56
	processed := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	return &exportStoreFake{
		doc: &domain.Document{
			ID:          "doc-1",
			FileName:    "Acme_BS67.pdf",
			OrgCode:     "42",
			OrgName:     "Acme",
			Period:      "Y67",
			Category:    domain.CategoryBalanceSheet,
			Status:      domain.StatusCompleted,
			ProcessedAt: &processed,
		},
		tables: []domain.ExtractedTable{{
			Index:    0,
			Label:    domain.LabelBalanceSheet,
			Headers:  []string{"รายการ", "จำนวนเงิน"},
			RowCount: 2,
			ColCount: 2,
			Cells: []domain.TableCell{
				{Row: 0, Col: 0, Value: "รายการ", Kind: domain.KindText, IsHeader: true},
				{Row: 0, Col: 1, Value: "จำนวนเงิน", Kind: domain.KindText, IsHeader: true},
				{Row: 1, Col: 0, Value: "เงินสด, ธนาคาร", Kind: domain.KindText},
				{Row: 1, Col: 1, Value: "1,234.56", Kind: domain.KindCurrency, Numeric: &amount},
			},
		}},
	}
}

func TestExportCSVWritesBOMAndQuotes(t *testing.T) {
	uc := NewExportUseCase(exportFixture(), &objectStorageFake{})

	raw, name, err := uc.ExportCSV(context.Background(), "doc-1", 0)
	if err != nil {
		t.Fatalf("ExportCSV() error = %v", err)
	}
	if name != "Acme_BS67_table_0.csv" {
		t.Fatalf("unexpected file name %q", name)
	}
	if !bytes.HasPrefix(raw, []byte(utf8BOM)) {
		t.Fatalf("expected BOM prefix")
	}
	want := "รายการ,จำนวนเงิน\n\"เงินสด, ธนาคาร\",\"1,234.56\"\n"
	if got := string(raw[len(utf8BOM):]); got != want {
		t.Fatalf("unexpected csv:\n%s", got)
	}
}

func TestExportCSVUnknownTable(t *testing.T) {
	uc := NewExportUseCase(exportFixture(), &objectStorageFake{})
	if _, _, err := uc.ExportCSV(context.Background(), "doc-1", 7); !domain.IsKind(err, domain.ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
	if _, _, err := uc.ExportCSV(context.Background(), "missing", 0); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestExportJSONCarriesMetadataAndRows(t *testing.T) {
	uc := NewExportUseCase(exportFixture(), &objectStorageFake{})

	raw, err := uc.ExportJSON(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("ExportJSON() error = %v", err)
	}
	var decoded exportDocument
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if decoded.OrgCode != "42" || decoded.Period != "Y67" || len(decoded.Tables) != 1 {
		t.Fatalf("unexpected export %+v", decoded)
	}
	cell := decoded.Tables[0].Rows[1][1]
	if cell.Kind != domain.KindCurrency || cell.Numeric == nil || *cell.Numeric != 1234.56 {
		t.Fatalf("unexpected amount cell %+v", cell)
	}
}

func TestExportXLSXHasDocumentAndTableSheets(t *testing.T) {
	uc := NewExportUseCase(exportFixture(), &objectStorageFake{})

	raw, err := uc.ExportXLSX(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("ExportXLSX() error = %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != documentSheet || sheets[1] != "Table 1" {
		t.Fatalf("unexpected sheets %v", sheets)
	}
	v, err := f.GetCellValue("Table 1", "A2")
	if err != nil || v != "เงินสด, ธนาคาร" {
		t.Fatalf("unexpected A2 %q (%v)", v, err)
	}
	org, _ := f.GetCellValue(documentSheet, "B3")
	if org != "42" {
		t.Fatalf("expected org code in document sheet, got %q", org)
	}
}

func TestWriteAllStoresEveryRendering(t *testing.T) {
	storage := &objectStorageFake{}
	uc := NewExportUseCase(exportFixture(), storage)

	keys, err := uc.WriteAll(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}
	want := []string{"42/Y67/Acme_BS67.json", "42/Y67/Acme_BS67.xlsx", "42/Y67/Acme_BS67_table_0.csv"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected keys %v", keys)
	}
	if len(storage.files) != 3 {
		t.Fatalf("expected 3 stored files, got %d", len(storage.files))
	}
}

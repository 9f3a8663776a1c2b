package correction

import (
	"testing"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	rules, err := DefaultRules()
	if err != nil {
		t.Fatalf("DefaultRules() error = %v", err)
	}
	return NewEngine(NewRuleset(rules), Options{CurrencyColumns: true})
}

func TestCorrectOutcomeBuildsDenseTypedGrid(t *testing.T) {
	engine := newTestEngine(t)
	outcome := domain.RecognitionOutcome{
		Kind: domain.OutcomeSuccess,
		Tables: []domain.RawTable{{
			Rows: [][]string{
				{"Item", "Amount", "Note"},
				{"A", "1,234.56", ""},
				{"B", "234.56", ""},
			},
			Confidence: 0.9,
		}},
	}

	got, err := engine.CorrectOutcome(outcome)
	if err != nil {
		t.Fatalf("CorrectOutcome() error = %v", err)
	}
	if len(got.Tables) != 1 {
		t.Fatalf("expected 1 table, got %d", len(got.Tables))
	}
	table := got.Tables[0]
	if table.RowCount != 3 || table.ColCount != 3 || len(table.Cells) != 9 {
		t.Fatalf("unexpected shape rows=%d cols=%d cells=%d", table.RowCount, table.ColCount, len(table.Cells))
	}

	grid := table.Grid()
	for r := 1; r < 3; r++ {
		kinds := []domain.ValueKind{grid[r][0].Kind, grid[r][1].Kind, grid[r][2].Kind}
		want := []domain.ValueKind{domain.KindText, domain.KindCurrency, domain.KindText}
		for c := range kinds {
			if kinds[c] != want[c] {
				t.Fatalf("row %d kinds = %v, want %v", r, kinds, want)
			}
		}
	}
	if grid[1][1].Numeric == nil || *grid[1][1].Numeric != 1234.56 {
		t.Fatalf("expected 1234.56, got %v", grid[1][1].Numeric)
	}
	if grid[2][1].Numeric == nil || *grid[2][1].Numeric != 234.56 {
		t.Fatalf("expected 234.56, got %v", grid[2][1].Numeric)
	}
	if !grid[0][0].IsHeader || grid[1][0].IsHeader {
		t.Fatalf("expected only row 0 to be header")
	}
	if table.Headers[1] != "Amount" {
		t.Fatalf("unexpected headers %v", table.Headers)
	}
}

func TestCorrectOutcomeWithoutCurrencyColumnsKeepsNumbers(t *testing.T) {
	rules, _ := DefaultRules()
	engine := NewEngine(NewRuleset(rules), Options{})
	got, err := engine.CorrectOutcome(domain.RecognitionOutcome{
		Kind:   domain.OutcomeSuccess,
		Tables: []domain.RawTable{{Headers: []string{"Item", "Amount"}, Rows: [][]string{{"A", "1,234.56"}}}},
	})
	if err != nil {
		t.Fatalf("CorrectOutcome() error = %v", err)
	}
	if kind := got.Tables[0].Grid()[1][1].Kind; kind != domain.KindNumber {
		t.Fatalf("expected number, got %s", kind)
	}
}

func TestCorrectOutcomePadsRaggedRowsAndLabels(t *testing.T) {
	engine := newTestEngine(t)
	got, err := engine.CorrectOutcome(domain.RecognitionOutcome{
		Kind: domain.OutcomePartial,
		Text: "งบกําไรขาดทุน ปี ๒๕๖๗",
		Tables: []domain.RawTable{
			{Headers: []string{"รายการ", "บาท"}, Rows: [][]string{{"รายได"}, {"ค าใช จ าย", "(๑,๐๐๐)", "extra"}}},
			{},
		},
	})
	if err != nil {
		t.Fatalf("CorrectOutcome() error = %v", err)
	}
	if got.Text != "งบกำไรขาดทุน ปี 2567" {
		t.Fatalf("unexpected text %q", got.Text)
	}
	if len(got.Tables) != 1 {
		t.Fatalf("expected empty table dropped, got %d tables", len(got.Tables))
	}
	table := got.Tables[0]
	if table.ColCount != 3 || len(table.Cells) != 9 {
		t.Fatalf("expected padded 3x3 grid, got cols=%d cells=%d", table.ColCount, len(table.Cells))
	}
	if table.Label != domain.LabelIncomeStatement {
		t.Fatalf("expected income statement label, got %q", table.Label)
	}
	grid := table.Grid()
	if grid[1][0].Value != "รายได้" || grid[2][0].Value != "ค่าใช้จ่าย" {
		t.Fatalf("unexpected corrected values %q %q", grid[1][0].Value, grid[2][0].Value)
	}
	if grid[2][1].Kind != domain.KindCurrency || *grid[2][1].Numeric != -1000 {
		t.Fatalf("expected negative currency, got %+v", grid[2][1])
	}
	if len(got.Warnings) == 0 {
		t.Fatalf("expected a warning for the dropped table")
	}
}

func TestCorrectOutcomeMarksInvalidValuesUnknown(t *testing.T) {
	engine := newTestEngine(t)
	got, err := engine.CorrectOutcome(domain.RecognitionOutcome{
		Kind:   domain.OutcomeSuccess,
		Tables: []domain.RawTable{{Headers: []string{"h"}, Rows: [][]string{{"ok\xff"}}}},
	})
	if err != nil {
		t.Fatalf("CorrectOutcome() error = %v", err)
	}
	cell := got.Tables[0].Grid()[1][0]
	if cell.Kind != domain.KindUnknown || cell.Value != "ok" {
		t.Fatalf("unexpected cell %+v", cell)
	}
}

func TestCorrectOutcomeRejectsFailure(t *testing.T) {
	engine := newTestEngine(t)
	if _, err := engine.CorrectOutcome(domain.RecognitionOutcome{Kind: domain.OutcomeFailure}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCorrectIsIdempotent(t *testing.T) {
	engine := newTestEngine(t)
	once, err := engine.Correct("บบริษัท")
	if err != nil {
		t.Fatalf("Correct() error = %v", err)
	}
	twice, _ := engine.Correct(once)
	if once != "บริษัท" || twice != once {
		t.Fatalf("Correct() = %q then %q", once, twice)
	}
}

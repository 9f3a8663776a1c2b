package domain

import "time"

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
	StatusCancelled  DocumentStatus = "cancelled"
)

// transitions lists every status change the state machine accepts.
// Terminal statuses may restart the cycle through reprocessing.
var transitions = map[DocumentStatus][]DocumentStatus{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusProcessing},
	StatusFailed:     {StatusProcessing},
	StatusCancelled:  {StatusProcessing},
}

func ParseDocumentStatus(raw string) (DocumentStatus, bool) {
	status := DocumentStatus(raw)
	_, ok := transitions[status]
	return status, ok
}

func (s DocumentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func CanTransition(from, to DocumentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor returns the statuses a document may hold right before moving to target.
func SourcesFor(target DocumentStatus) []DocumentStatus {
	out := make([]DocumentStatus, 0, len(transitions))
	for _, from := range AllStatuses() {
		if CanTransition(from, target) {
			out = append(out, from)
		}
	}
	return out
}

func AllStatuses() []DocumentStatus {
	return []DocumentStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}
}

type Document struct {
	ID           string         `json:"id"`
	OrgCode      string         `json:"org_code"`
	OrgName      string         `json:"org_name"`
	Period       string         `json:"period"`
	Category     Category       `json:"category"`
	FilePath     string         `json:"file_path"`
	FileName     string         `json:"file_name"`
	FileHash     string         `json:"file_hash,omitempty"`
	Status       DocumentStatus `json:"status"`
	Outcome      OutcomeKind    `json:"outcome,omitempty"`
	PageCount    *int           `json:"page_count,omitempty"`
	SizeBytes    *int64         `json:"size_bytes,omitempty"`
	TableCount   int            `json:"table_count"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Warnings     []string       `json:"warnings,omitempty"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type ExtractedTable struct {
	ID         string      `json:"id"`
	DocumentID string      `json:"document_id"`
	Index      int         `json:"table_index"`
	Label      TableLabel  `json:"label,omitempty"`
	Headers    []string    `json:"headers"`
	RowCount   int         `json:"row_count"`
	ColCount   int         `json:"col_count"`
	Markdown   string      `json:"markdown"`
	Confidence float64     `json:"confidence"`
	Cells      []TableCell `json:"cells,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Grid returns cell values laid out by row and column.
func (t ExtractedTable) Grid() [][]TableCell {
	grid := make([][]TableCell, t.RowCount)
	for i := range grid {
		grid[i] = make([]TableCell, t.ColCount)
	}
	for _, cell := range t.Cells {
		if cell.Row < 0 || cell.Row >= t.RowCount || cell.Col < 0 || cell.Col >= t.ColCount {
			continue
		}
		grid[cell.Row][cell.Col] = cell
	}
	return grid
}

type TableCell struct {
	Row        int       `json:"row_index"`
	Col        int       `json:"col_index"`
	Value      string    `json:"value"`
	Kind       ValueKind `json:"kind"`
	Numeric    *float64  `json:"numeric,omitempty"`
	Confidence float64   `json:"confidence"`
	IsHeader   bool      `json:"is_header"`
}

type ValueKind string

const (
	KindText       ValueKind = "text"
	KindNumber     ValueKind = "number"
	KindDate       ValueKind = "date"
	KindCurrency   ValueKind = "currency"
	KindPercentage ValueKind = "percentage"
	KindUnknown    ValueKind = "unknown"
)

type TableLabel string

const (
	LabelNone            TableLabel = ""
	LabelBalanceSheet    TableLabel = "balance_sheet"
	LabelIncomeStatement TableLabel = "income_statement"
	LabelCashFlow        TableLabel = "cash_flow"
	LabelRatio           TableLabel = "ratio"
)

type DocumentFilter struct {
	Status   DocumentStatus
	Category Category
	OrgCode  string
	Period   string
	Limit    int
	Offset   int
}

type StatusSummary struct {
	Total      int                    `json:"total"`
	ByStatus   map[DocumentStatus]int `json:"by_status"`
	ByCategory map[Category]int       `json:"by_category"`
}

package domain

import "time"

type Category string

const (
	CategoryBalanceSheet            Category = "balance_sheet"
	CategoryIncomeStatement         Category = "income_statement"
	CategoryComparativeBalanceSheet Category = "comparative_balance_sheet"
	CategoryComparativeIncome       Category = "comparative_income"
	CategoryCashFlow                Category = "cash_flow"
	CategoryGeneralInfo             Category = "general_info"
	CategoryRatio                   Category = "ratio"
	CategoryRelatedParty            Category = "related_party"
	CategoryShareholders            Category = "shareholders"
	CategoryOther                   Category = "other"
	// CategoryUnclassified marks file names outside the suffix vocabulary.
	CategoryUnclassified Category = "unclassified"
)

func (c Category) Known() bool {
	switch c {
	case CategoryBalanceSheet, CategoryIncomeStatement, CategoryComparativeBalanceSheet,
		CategoryComparativeIncome, CategoryCashFlow, CategoryGeneralInfo, CategoryRatio,
		CategoryRelatedParty, CategoryShareholders, CategoryOther, CategoryUnclassified:
		return true
	default:
		return false
	}
}

type Organization struct {
	Code string `json:"code"`
	Name string `json:"name"`
	// Classified is false when the folder did not follow "<code> <name>".
	Classified bool `json:"classified"`
}

type Period struct {
	Token  string `json:"token"`
	YearBE int    `json:"year_be,omitempty"`
	YearCE int    `json:"year_ce,omitempty"`
}

type Metadata struct {
	Organization Organization `json:"organization"`
	Period       Period       `json:"period"`
	Category     Category     `json:"category"`
}

// WorkItem is one document queued for orchestrated processing.
type WorkItem struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id,omitempty"`
	SourcePath string    `json:"source_path"`
	Metadata   Metadata  `json:"metadata"`
	SizeBytes  int64     `json:"size_bytes"`
	FileHash   string    `json:"file_hash,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`
}

type ItemState string

const (
	ItemQueued     ItemState = "queued"
	ItemDispatched ItemState = "dispatched"
	ItemCompleted  ItemState = "completed"
	ItemFailed     ItemState = "failed"
	ItemCancelled  ItemState = "cancelled"
)

func (s ItemState) Terminal() bool {
	return s == ItemCompleted || s == ItemFailed || s == ItemCancelled
}

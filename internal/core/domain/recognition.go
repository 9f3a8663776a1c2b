package domain

import "time"

type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomePartial OutcomeKind = "partial"
	OutcomeFailure OutcomeKind = "failure"
)

// RawTable is a recognized grid before correction.
type RawTable struct {
	Headers    []string   `json:"headers"`
	Rows       [][]string `json:"rows"`
	Confidence float64    `json:"confidence"`
	Page       int        `json:"page"`
}

// RecognitionOutcome is the engine result for one document.
type RecognitionOutcome struct {
	Kind      OutcomeKind   `json:"kind"`
	Text      string        `json:"text"`
	Tables    []RawTable    `json:"tables"`
	PageCount int           `json:"page_count"`
	Elapsed   time.Duration `json:"elapsed"`
	Warnings  []string      `json:"warnings,omitempty"`
	// Err is set for failure outcomes and carries a human-readable cause.
	Err error `json:"-"`
	// Cancelled is true when the failure came from an external cancel signal.
	Cancelled bool `json:"cancelled,omitempty"`
}

func (o RecognitionOutcome) Failed() bool {
	return o.Kind == OutcomeFailure
}

func (o RecognitionOutcome) ErrorMessage() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	if len(o.Warnings) > 0 {
		return o.Warnings[len(o.Warnings)-1]
	}
	return "recognition failed"
}

// CorrectedOutcome is what the persistence layer commits for one document.
type CorrectedOutcome struct {
	Kind      OutcomeKind
	Text      string
	Tables    []ExtractedTable
	PageCount int
	Warnings  []string
}

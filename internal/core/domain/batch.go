package domain

import "time"

type BatchState string

const (
	BatchSubmitted BatchState = "submitted"
	BatchRunning   BatchState = "running"
	BatchFinished  BatchState = "finished"
	BatchCancelled BatchState = "cancelled"
)

type ItemError struct {
	ItemID     string    `json:"item_id"`
	DocumentID string    `json:"document_id,omitempty"`
	SourcePath string    `json:"source_path"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

type ItemProgress struct {
	ItemID     string    `json:"item_id"`
	DocumentID string    `json:"document_id,omitempty"`
	SourcePath string    `json:"source_path"`
	State      ItemState `json:"state"`
	Skipped    bool      `json:"skipped,omitempty"`
}

// BatchSnapshot is an immutable copy of a batch's progress.
type BatchSnapshot struct {
	BatchID            string         `json:"batch_id"`
	Seq                uint64         `json:"seq"`
	State              BatchState     `json:"state"`
	Total              int            `json:"total"`
	Completed          int            `json:"completed"`
	Failed             int            `json:"failed"`
	Cancelled          int            `json:"cancelled"`
	Skipped            int            `json:"skipped"`
	Queued             int            `json:"queued"`
	InFlight           []string       `json:"in_flight"`
	Errors             []ItemError    `json:"errors"`
	Items              []ItemProgress `json:"items,omitempty"`
	StartedAt          time.Time      `json:"started_at"`
	FinishedAt         *time.Time     `json:"finished_at,omitempty"`
	Elapsed            time.Duration  `json:"elapsed_ns"`
	EstimatedRemaining time.Duration  `json:"estimated_remaining_ns"`
}

// Done is the count of items in a terminal state.
func (s BatchSnapshot) Done() int {
	return s.Completed + s.Failed + s.Cancelled
}

func (s BatchSnapshot) Percent() float64 {
	if s.Total == 0 {
		return 100
	}
	return float64(s.Done()) / float64(s.Total) * 100
}

// Clone returns a copy that shares no slices with s.
func (s BatchSnapshot) Clone() BatchSnapshot {
	out := s
	out.InFlight = append(make([]string, 0, len(s.InFlight)), s.InFlight...)
	out.Errors = append([]ItemError(nil), s.Errors...)
	out.Items = append([]ItemProgress(nil), s.Items...)
	if s.FinishedAt != nil {
		finished := *s.FinishedAt
		out.FinishedAt = &finished
	}
	return out
}

type BatchOptions struct {
	Concurrency int  `json:"concurrency"`
	Force       bool `json:"force"`
}

type DiscoveryRequest struct {
	Period     string     `json:"period,omitempty"`
	OrgCodes   []string   `json:"org_codes,omitempty"`
	Categories []Category `json:"categories,omitempty"`
	// Hash computes file fingerprints for change detection.
	Hash bool `json:"hash"`
}

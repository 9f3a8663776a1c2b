package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

// DocumentRepository owns the document status lifecycle and its table data.
type DocumentRepository interface {
	Register(ctx context.Context, doc *domain.Document) (*domain.Document, error)
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	// BeginProcessing records the hash of the file about to be recognized.
	BeginProcessing(ctx context.Context, id string, fileHash string) error
	CommitSuccess(ctx context.Context, id string, outcome domain.CorrectedOutcome) error
	CommitFailure(ctx context.Context, id string, errMessage string) error
	MarkCancelled(ctx context.Context, id string) error
}

// DocumentStore is the read and maintenance side of persisted documents.
type DocumentStore interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	List(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, error)
	ListTables(ctx context.Context, documentID string) ([]domain.ExtractedTable, error)
	GetText(ctx context.Context, id string) (string, error)
	Summary(ctx context.Context, filter domain.DocumentFilter) (domain.StatusSummary, error)
	CleanupFailed(ctx context.Context, olderThan time.Time) (int64, error)
	// Delete removes a document and its tables; processing documents are refused.
	Delete(ctx context.Context, id string) error
	// RecoverInterrupted fails documents stuck in processing since before cutoff.
	RecoverInterrupted(ctx context.Context, cutoff time.Time) (int64, error)
}

// Recognizer wraps the external recognition engine. Expected failures are
// reported through the outcome kind, never as a returned error.
type Recognizer interface {
	Recognize(ctx context.Context, item domain.WorkItem) domain.RecognitionOutcome
}

// Corrector turns a raw outcome into normalized tables and cells.
type Corrector interface {
	CorrectOutcome(outcome domain.RecognitionOutcome) (domain.CorrectedOutcome, error)
}

// SourceTree lists and fingerprints source documents.
type SourceTree interface {
	Root() string
	Walk(ctx context.Context, fn func(path string, size int64, modified time.Time) error) error
	Hash(ctx context.Context, path string) (string, error)
}

// ObjectStorage stores rendered exports.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ProgressPublisher broadcasts batch snapshots to other processes.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, snapshot domain.BatchSnapshot) error
}

// ProcessingMetrics records per-document and per-batch processing figures.
type ProcessingMetrics interface {
	StartDocument()
	FinishDocument(state domain.ItemState, duration time.Duration)
	ObserveQueueLag(lag time.Duration)
	FinishBatch(state domain.BatchState, items int)
}

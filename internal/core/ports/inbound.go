package ports

import (
	"context"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

// DocumentDiscoverer turns the source tree into work items.
type DocumentDiscoverer interface {
	Discover(ctx context.Context, req domain.DiscoveryRequest) ([]domain.WorkItem, error)
}

// BatchService is the inbound contract for orchestrated batches.
type BatchService interface {
	Start(ctx context.Context, items []domain.WorkItem, opts domain.BatchOptions) (domain.BatchSnapshot, error)
	Snapshot(batchID string) (domain.BatchSnapshot, error)
	List() []domain.BatchSnapshot
	Cancel(batchID string) (domain.BatchSnapshot, error)
}

// DocumentExporter renders persisted tables without re-recognition.
type DocumentExporter interface {
	ExportJSON(ctx context.Context, documentID string) ([]byte, error)
	ExportCSV(ctx context.Context, documentID string, tableIndex int) ([]byte, string, error)
	ExportXLSX(ctx context.Context, documentID string) ([]byte, error)
	WriteAll(ctx context.Context, documentID string) ([]string, error)
}

// DocumentReprocessor reruns stored documents as a forced batch.
type DocumentReprocessor interface {
	Reprocess(ctx context.Context, documentIDs []string) (domain.BatchSnapshot, error)
}

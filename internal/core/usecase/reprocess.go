package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
	"github.com/kirillkom/thai-fin-ocr/internal/core/ports"
)

// ReprocessUseCase rebuilds work items for stored documents and runs them as
// a forced batch.
type ReprocessUseCase struct {
	store   ports.DocumentStore
	tree    ports.SourceTree
	batches ports.BatchService
}

func NewReprocessUseCase(store ports.DocumentStore, tree ports.SourceTree, batches ports.BatchService) *ReprocessUseCase {
	return &ReprocessUseCase{store: store, tree: tree, batches: batches}
}

func (uc *ReprocessUseCase) Reprocess(ctx context.Context, documentIDs []string) (domain.BatchSnapshot, error) {
	if len(documentIDs) == 0 {
		return domain.BatchSnapshot{}, domain.WrapError(domain.ErrInvalidInput, "reprocess", errors.New("no document ids"))
	}

	items := make([]domain.WorkItem, 0, len(documentIDs))
	for _, id := range documentIDs {
		doc, err := uc.store.GetByID(ctx, id)
		if err != nil {
			return domain.BatchSnapshot{}, fmt.Errorf("fetch document by id: %w", err)
		}
		items = append(items, uc.itemFor(ctx, doc))
	}
	return uc.batches.Start(ctx, items, domain.BatchOptions{Force: true})
}

func (uc *ReprocessUseCase) itemFor(ctx context.Context, doc *domain.Document) domain.WorkItem {
	item := domain.WorkItem{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		SourcePath: doc.FilePath,
		Metadata: domain.Metadata{
			Organization: domain.Organization{Code: doc.OrgCode, Name: doc.OrgName, Classified: doc.OrgCode != doc.OrgName},
			Period:       domain.Period{Token: doc.Period},
			Category:     doc.Category,
		},
	}
	if doc.SizeBytes != nil {
		item.SizeBytes = *doc.SizeBytes
	}
	if uc.tree != nil {
		hash, err := uc.tree.Hash(ctx, doc.FilePath)
		if err != nil {
			slog.Warn("reprocess_hash_failed", "document_id", doc.ID, "path", doc.FilePath, "error", err)
		} else {
			item.FileHash = hash
		}
	}
	return item
}

package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
	"github.com/kirillkom/thai-fin-ocr/internal/core/ports"
)

type DiscoverUseCase struct {
	tree ports.SourceTree
}

func NewDiscoverUseCase(tree ports.SourceTree) *DiscoverUseCase {
	return &DiscoverUseCase{tree: tree}
}

// Discover lists PDFs under the source root and turns them into work items.
func (uc *DiscoverUseCase) Discover(ctx context.Context, req domain.DiscoveryRequest) ([]domain.WorkItem, error) {
	items := make([]domain.WorkItem, 0, 64)
	err := uc.tree.Walk(ctx, func(path string, size int64, modified time.Time) error {
		if !strings.EqualFold(filepath.Ext(path), ".pdf") {
			return nil
		}
		meta, err := ExtractMetadata(path)
		if err != nil {
			slog.Warn("discovery_skip", "path", path, "error", err)
			return nil
		}
		if !matchesRequest(meta, req) {
			return nil
		}

		item := domain.WorkItem{
			ID:         uuid.NewString(),
			SourcePath: path,
			Metadata:   meta,
			SizeBytes:  size,
			ModifiedAt: modified,
		}
		if req.Hash {
			hash, err := uc.tree.Hash(ctx, path)
			if err != nil {
				return fmt.Errorf("hash %s: %w", path, err)
			}
			item.FileHash = hash
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk source tree: %w", err)
	}

	slices.SortFunc(items, func(a, b domain.WorkItem) int {
		return strings.Compare(a.SourcePath, b.SourcePath)
	})
	return items, nil
}

func matchesRequest(meta domain.Metadata, req domain.DiscoveryRequest) bool {
	if req.Period != "" && !strings.EqualFold(meta.Period.Token, req.Period) {
		return false
	}
	if len(req.OrgCodes) > 0 && !slices.Contains(req.OrgCodes, meta.Organization.Code) {
		return false
	}
	if len(req.Categories) > 0 && !slices.Contains(req.Categories, meta.Category) {
		return false
	}
	return true
}

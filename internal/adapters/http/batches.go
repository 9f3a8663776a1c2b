package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

type startBatchRequest struct {
	Period      string            `json:"period"`
	OrgCodes    []string          `json:"org_codes"`
	Categories  []domain.Category `json:"categories"`
	Concurrency int               `json:"concurrency"`
	Force       bool              `json:"force"`
}

func (rt *Router) startBatch(w http.ResponseWriter, r *http.Request) {
	var req startBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Concurrency < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "concurrency must not be negative"})
		return
	}
	for _, category := range req.Categories {
		if !category.Known() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown category %q", category)})
			return
		}
	}

	period := strings.TrimSpace(req.Period)
	if period == "" {
		period = rt.cfg.SourcePeriod
	}
	items, err := rt.services.Discoverer.Discover(r.Context(), domain.DiscoveryRequest{
		Period:     period,
		OrgCodes:   req.OrgCodes,
		Categories: req.Categories,
		Hash:       true,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(items) == 0 {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "start batch", errors.New("no source documents matched")))
		return
	}

	snapshot, err := rt.services.Batches.Start(r.Context(), items, domain.BatchOptions{
		Concurrency: req.Concurrency,
		Force:       req.Force,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("batch_requested",
		"request_id", requestIDFromContext(r.Context()),
		"batch_id", snapshot.BatchID,
		"items", len(items),
		"period", period,
	)
	writeJSON(w, http.StatusAccepted, snapshot)
}

func (rt *Router) listBatches(w http.ResponseWriter, _ *http.Request) {
	batches := rt.services.Batches.List()
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches, "count": len(batches)})
}

func (rt *Router) getBatch(w http.ResponseWriter, r *http.Request) {
	snapshot, err := rt.services.Batches.Snapshot(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (rt *Router) cancelBatch(w http.ResponseWriter, r *http.Request) {
	snapshot, err := rt.services.Batches.Cancel(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snapshot)
}

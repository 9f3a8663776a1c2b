package httpadapter

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

const defaultCleanupAge = 30 * 24 * time.Hour

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	filter, err := parseDocumentFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	docs, err := rt.services.Documents.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.services.Documents.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) listTables(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := rt.services.Documents.GetByID(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	tables, err := rt.services.Documents.ListTables(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document_id": id, "tables": tables})
}

func (rt *Router) getText(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	text, err := rt.services.Documents.GetText(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"document_id": id, "text": text})
}

func (rt *Router) reprocessDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := rt.services.Documents.GetByID(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	if rt.services.Queue != nil {
		if err := rt.services.Queue.PublishReprocessRequested(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"document_id": id, "status": "queued"})
		return
	}
	if rt.services.Reprocessor == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reprocessing is not available"})
		return
	}
	snapshot, err := rt.services.Reprocessor.Reprocess(r.Context(), []string{id})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snapshot)
}

func (rt *Router) exportJSON(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	payload, err := rt.services.Exporter.ExportJSON(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.recordExport("json")
	writeAttachment(w, "application/json", id+".json", payload)
}

func (rt *Router) exportXLSX(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	payload, err := rt.services.Exporter.ExportXLSX(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.recordExport("xlsx")
	writeAttachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", id+".xlsx", payload)
}

func (rt *Router) exportCSV(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "table index must be a non-negative integer"})
		return
	}
	payload, name, err := rt.services.Exporter.ExportCSV(r.Context(), r.PathValue("id"), index)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.recordExport("csv")
	writeAttachment(w, "text/csv; charset=utf-8", name, payload)
}

func (rt *Router) writeExports(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	files, err := rt.services.Exporter.WriteAll(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.recordExport("bundle")
	writeJSON(w, http.StatusCreated, map[string]any{"document_id": id, "files": files})
}

func (rt *Router) summary(w http.ResponseWriter, r *http.Request) {
	filter, err := parseDocumentFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := rt.services.Documents.Summary(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := rt.services.Documents.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("document_deleted", "request_id", requestIDFromContext(r.Context()), "document_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) cleanup(w http.ResponseWriter, r *http.Request) {
	cutoff, ok := cutoffFromQuery(w, r, defaultCleanupAge)
	if !ok {
		return
	}
	removed, err := rt.services.Documents.CleanupFailed(r.Context(), cutoff)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed, "cutoff": cutoff})
}

func (rt *Router) recoverInterrupted(w http.ResponseWriter, r *http.Request) {
	cutoff, ok := cutoffFromQuery(w, r, rt.cfg.RecoverProcessingAfter)
	if !ok {
		return
	}
	recovered, err := rt.services.Documents.RecoverInterrupted(r.Context(), cutoff)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recovered": recovered, "cutoff": cutoff})
}

// cutoffFromQuery turns an optional older_than duration into an absolute
// cutoff. It answers 400 itself on a bad value.
func cutoffFromQuery(w http.ResponseWriter, r *http.Request, fallback time.Duration) (time.Time, bool) {
	age := fallback
	if raw := strings.TrimSpace(r.URL.Query().Get("older_than")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "older_than must be a positive duration"})
			return time.Time{}, false
		}
		age = parsed
	}
	return time.Now().UTC().Add(-age), true
}

func (rt *Router) recordExport(format string) {
	if rt.services.Metrics != nil {
		rt.services.Metrics.RecordExport(serviceName, format)
	}
}

func writeAttachment(w http.ResponseWriter, contentType, fileName string, payload []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": fileName}))
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func parseDocumentFilter(r *http.Request) (domain.DocumentFilter, error) {
	q := r.URL.Query()
	filter := domain.DocumentFilter{
		OrgCode: strings.TrimSpace(q.Get("org")),
		Period:  strings.TrimSpace(q.Get("period")),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, ok := domain.ParseDocumentStatus(raw)
		if !ok {
			return filter, domain.WrapError(domain.ErrInvalidInput, "parse filter", fmt.Errorf("unknown status %q", raw))
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(q.Get("category")); raw != "" {
		category := domain.Category(raw)
		if !category.Known() {
			return filter, domain.WrapError(domain.ErrInvalidInput, "parse filter", fmt.Errorf("unknown category %q", raw))
		}
		filter.Category = category
	}

	var err error
	if filter.Limit, err = nonNegativeInt(q.Get("limit")); err != nil {
		return filter, domain.WrapError(domain.ErrInvalidInput, "parse filter", fmt.Errorf("limit: %w", err))
	}
	if filter.Offset, err = nonNegativeInt(q.Get("offset")); err != nil {
		return filter, domain.WrapError(domain.ErrInvalidInput, "parse filter", fmt.Errorf("offset: %w", err))
	}
	return filter, nil
}

func nonNegativeInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("must not be negative")
	}
	return n, nil
}

package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kirillkom/thai-fin-ocr/internal/config"
	"github.com/kirillkom/thai-fin-ocr/internal/core/ports"
	"github.com/kirillkom/thai-fin-ocr/internal/observability/metrics"
)

const serviceName = "api"

type reprocessPublisher interface {
	PublishReprocessRequested(ctx context.Context, documentID string) error
}

// Services groups the use cases the router exposes. Queue is optional; when
// nil, reprocess requests run in-process through Reprocessor.
type Services struct {
	Documents   ports.DocumentStore
	Discoverer  ports.DocumentDiscoverer
	Batches     ports.BatchService
	Exporter    ports.DocumentExporter
	Reprocessor ports.DocumentReprocessor
	Queue       reprocessPublisher
	Metrics     *metrics.HTTPServerMetrics
}

type Router struct {
	cfg      config.Config
	services Services
}

func NewRouter(cfg config.Config, services Services) *Router {
	return &Router{cfg: cfg, services: services}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.services.Metrics != nil {
		mux.Handle("GET /metrics", rt.services.Metrics.Handler())
	}

	mux.HandleFunc("GET /v1/documents", rt.listDocuments)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	mux.HandleFunc("DELETE /v1/documents/{id}", rt.deleteDocument)
	mux.HandleFunc("GET /v1/documents/{id}/tables", rt.listTables)
	mux.HandleFunc("GET /v1/documents/{id}/text", rt.getText)
	mux.HandleFunc("POST /v1/documents/{id}/reprocess", rt.reprocessDocument)
	mux.HandleFunc("GET /v1/documents/{id}/export.json", rt.exportJSON)
	mux.HandleFunc("GET /v1/documents/{id}/export.xlsx", rt.exportXLSX)
	mux.HandleFunc("GET /v1/documents/{id}/tables/{index}/export.csv", rt.exportCSV)
	mux.HandleFunc("POST /v1/documents/{id}/exports", rt.writeExports)

	mux.HandleFunc("GET /v1/summary", rt.summary)
	mux.HandleFunc("POST /v1/maintenance/cleanup", rt.cleanup)
	mux.HandleFunc("POST /v1/maintenance/recover", rt.recoverInterrupted)

	mux.HandleFunc("POST /v1/batches", rt.startBatch)
	mux.HandleFunc("GET /v1/batches", rt.listBatches)
	mux.HandleFunc("GET /v1/batches/{id}", rt.getBatch)
	mux.HandleFunc("POST /v1/batches/{id}/cancel", rt.cancelBatch)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIBackpressureMaxInFlight, rt.cfg.APIBackpressureWait)
	handler = rt.rateLimitMiddleware(handler)
	handler = authMiddleware(handler, rt.cfg.APIAuthToken)
	if rt.services.Metrics != nil {
		handler = rt.services.Metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

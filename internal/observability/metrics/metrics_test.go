package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/v1/documents/abc":              "/v1/documents/{document_id}",
		"/v1/documents/abc/tables":       "/v1/documents/{document_id}/tables",
		"/v1/documents/abc/tables/3/csv": "/v1/documents/{document_id}/tables/{index}/csv",
		"/v1/documents/abc/export.xlsx":  "/v1/documents/{document_id}/export.xlsx",
		"/v1/batches/b-1/cancel":         "/v1/batches/{batch_id}/cancel",
		"/v1/batches":                    "/v1/batches",
		"/healthz":                       "/healthz",
		"/v1/unknown/thing":              "/v1/unknown/thing",
	}
	for in, want := range tests {
		if got := normalizePath(in); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMiddlewareCountsRequestsByStatus(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	got := testutil.ToFloat64(m.requestTotal.WithLabelValues("api", http.MethodGet, "/v1/documents/{document_id}", "404"))
	if got != 1 {
		t.Fatalf("expected one 404 request, got %v", got)
	}
}

func TestProcessingMetricsShareRegistry(t *testing.T) {
	httpMetrics := NewHTTPServerMetrics("api")
	m := NewProcessingMetrics("api", httpMetrics.Registry())

	m.StartDocument()
	if got := testutil.ToFloat64(m.processInFlight); got != 1 {
		t.Fatalf("expected one in-flight document, got %v", got)
	}
	m.FinishDocument(domain.ItemCompleted, 2*time.Second)
	m.ObserveQueueLag(-time.Second)
	m.FinishBatch(domain.BatchFinished, 3)

	if got := testutil.ToFloat64(m.processInFlight); got != 0 {
		t.Fatalf("expected in-flight back to zero, got %v", got)
	}
	if got := testutil.ToFloat64(m.processTotal.WithLabelValues("api", string(domain.ItemCompleted))); got != 1 {
		t.Fatalf("expected one completed document, got %v", got)
	}
	if got := testutil.ToFloat64(m.batchesTotal.WithLabelValues("api", string(domain.BatchFinished))); got != 1 {
		t.Fatalf("expected one finished batch, got %v", got)
	}
	if n := testutil.CollectAndCount(httpMetrics.Registry(), "ocr_worker_queue_lag_seconds"); n != 0 {
		t.Fatalf("negative lag must not be observed, got %d series", n)
	}
}

func TestProcessingMetricsObservesResilienceEvents(t *testing.T) {
	m := NewProcessingMetrics("worker", nil)

	m.ObserveRetry("engine.recognize")
	m.ObserveRetry("engine.recognize")
	m.ObserveBreakerState("engine.recognize", "open")

	if got := testutil.ToFloat64(m.retriesTotal.WithLabelValues("worker", "engine.recognize")); got != 2 {
		t.Fatalf("expected two retries, got %v", got)
	}
	if got := testutil.ToFloat64(m.breakerState.WithLabelValues("worker", "engine.recognize")); got != 2 {
		t.Fatalf("expected open breaker gauge 2, got %v", got)
	}
	m.ObserveBreakerState("engine.recognize", "closed")
	if got := testutil.ToFloat64(m.breakerState.WithLabelValues("worker", "engine.recognize")); got != 0 {
		t.Fatalf("expected closed breaker gauge 0, got %v", got)
	}
}

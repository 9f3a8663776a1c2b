package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

type ProcessingMetrics struct {
	registry *prometheus.Registry
	service  string

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	queueLag        *prometheus.HistogramVec
	batchesTotal    *prometheus.CounterVec
	batchItems      *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
}

// NewProcessingMetrics registers document and batch collectors on registry,
// or on a fresh registry when nil.
func NewProcessingMetrics(service string, registry *prometheus.Registry) *ProcessingMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocr",
			Subsystem: "worker",
			Name:      "document_process_total",
			Help:      "Total processed documents by final item state.",
		},
		[]string{"service", "state"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ocr",
			Subsystem: "worker",
			Name:      "document_process_duration_seconds",
			Help:      "Document processing duration in seconds by final item state.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "state"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ocr",
			Subsystem: "worker",
			Name:      "document_process_in_flight",
			Help:      "Number of in-flight document processing tasks.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ocr",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between batch submission and item dispatch.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"service"},
	)
	batchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocr",
			Subsystem: "batch",
			Name:      "finished_total",
			Help:      "Total finished batches by final state.",
		},
		[]string{"service", "state"},
	)
	batchItems := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ocr",
			Subsystem: "batch",
			Name:      "items",
			Help:      "Distribution of work items per finished batch.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service"},
	)

	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocr",
			Subsystem: "resilience",
			Name:      "retries_total",
			Help:      "Total retried calls by operation.",
		},
		[]string{"service", "operation"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ocr",
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state by operation: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		processTotal,
		processDuration,
		processInFlight,
		queueLag,
		batchesTotal,
		batchItems,
		retriesTotal,
		breakerState,
	)

	return &ProcessingMetrics{
		registry:        registry,
		service:         service,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
		queueLag:        queueLag,
		batchesTotal:    batchesTotal,
		batchItems:      batchItems,
		retriesTotal:    retriesTotal,
		breakerState:    breakerState,
	}
}

func (m *ProcessingMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *ProcessingMetrics) StartDocument() {
	m.processInFlight.Inc()
}

func (m *ProcessingMetrics) FinishDocument(state domain.ItemState, duration time.Duration) {
	m.processInFlight.Dec()

	label := string(state)
	if label == "" {
		label = "unknown"
	}
	m.processTotal.WithLabelValues(m.service, label).Inc()
	m.processDuration.WithLabelValues(m.service, label).Observe(duration.Seconds())
}

func (m *ProcessingMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

func (m *ProcessingMetrics) FinishBatch(state domain.BatchState, items int) {
	m.batchesTotal.WithLabelValues(m.service, string(state)).Inc()
	m.batchItems.WithLabelValues(m.service).Observe(float64(items))
}

func (m *ProcessingMetrics) ObserveRetry(operation string) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
}

func (m *ProcessingMetrics) ObserveBreakerState(operation string, state string) {
	value := 0.0
	switch state {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(value)
}

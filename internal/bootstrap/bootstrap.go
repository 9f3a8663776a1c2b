package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/thai-fin-ocr/internal/config"
	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
	"github.com/kirillkom/thai-fin-ocr/internal/core/ports"
	"github.com/kirillkom/thai-fin-ocr/internal/core/usecase"
	"github.com/kirillkom/thai-fin-ocr/internal/infrastructure/correction"
	"github.com/kirillkom/thai-fin-ocr/internal/infrastructure/queue/nats"
	"github.com/kirillkom/thai-fin-ocr/internal/infrastructure/recognition"
	"github.com/kirillkom/thai-fin-ocr/internal/infrastructure/repository/sqlstore"
	"github.com/kirillkom/thai-fin-ocr/internal/infrastructure/resilience"
	"github.com/kirillkom/thai-fin-ocr/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/thai-fin-ocr/internal/observability/metrics"
)

type App struct {
	Config config.Config

	// Queue is nil when NATS is disabled.
	Queue   *nats.Queue
	Store   *sqlstore.Store
	Metrics *metrics.ProcessingMetrics

	Orchestrator *usecase.Orchestrator
	DiscoverUC   *usecase.DiscoverUseCase
	ExportUC     *usecase.ExportUseCase
	ReprocessUC  *usecase.ReprocessUseCase

	closeFn func()
}

// New wires storage, the recognition pipeline and the orchestrator. Processing
// metrics register on registry, or on their own registry when nil.
func New(ctx context.Context, cfg config.Config, service string, registry *prometheus.Registry) (*App, error) {
	dialect, err := sqlstore.ParseDialect(cfg.DBDriver)
	if err != nil {
		return nil, fmt.Errorf("parse db driver: %w", err)
	}
	dsn := cfg.PostgresDSN
	if dialect == sqlstore.DialectSQLite {
		dsn = cfg.SQLitePath
	}
	db, err := sqlstore.OpenDB(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	store := sqlstore.NewStore(db, dialect)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	RecoverInterrupted(ctx, store, cfg.RecoverProcessingAfter)

	rules, err := correction.LoadRules(cfg.CorrectionRulesPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load correction rules: %w", err)
	}
	ruleset := correction.NewRuleset(rules)
	corrector := correction.NewEngine(ruleset, correction.Options{CurrencyColumns: cfg.CorrectionCurrency})

	processMetrics := metrics.NewProcessingMetrics(service, registry)

	engineResilience := resilience.DefaultConfig()
	engineResilience.RetryMaxAttempts = cfg.OCRRetryMaxAttempts
	engineResilience.RetryInitialBackoff = cfg.OCRRetryInitialBackoff
	engineResilience.RetryMaxBackoff = 4 * cfg.OCRRetryInitialBackoff
	engineResilience.BreakerEnabled = cfg.OCRBreakerEnabled
	client := recognition.NewClient(cfg.OCREngineURL, recognition.ClientOptions{
		APIKey:          cfg.OCREngineAPIKey,
		Languages:       cfg.OCRLanguages,
		TableMode:       recognition.ParseTableMode(cfg.OCRTableMode),
		RequestInterval: cfg.OCRRateLimitInterval,
		HTTPTimeout:     cfg.OCRHTTPTimeout,
		Executor:        resilience.NewExecutor(engineResilience).WithObserver(processMetrics),
	})
	recognizer := recognition.NewRecognizer(client, cfg.DocumentTimeout)

	tree, err := localfs.NewSourceTree(cfg.SourceRoot)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init source tree: %w", err)
	}
	exports, err := localfs.New(cfg.ExportsPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init export storage: %w", err)
	}

	var queue *nats.Queue
	var publisher ports.ProgressPublisher
	if cfg.NATSEnabled {
		queue, err = nats.New(cfg.NATSURL, nats.Options{
			ReprocessSubject:   cfg.NATSReprocessSubject,
			ProgressSubject:    cfg.NATSProgressSubject,
			ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()).WithObserver(processMetrics),
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		publisher = queue
	}

	processUC := usecase.NewProcessDocumentUseCase(store, recognizer, corrector)
	orchestrator := usecase.NewOrchestrator(store, processUC, processMetrics, publisher, usecase.OrchestratorOptions{
		Concurrency: cfg.BatchConcurrency,
		History:     cfg.BatchHistory,
	})

	slog.Info("bootstrap_ready",
		"service", service,
		"db_driver", string(dialect),
		"source_root", tree.Root(),
		"correction_rules", ruleset.Len(),
		"nats_enabled", queue != nil,
		"concurrency", cfg.BatchConcurrency,
	)

	return &App{
		Config:  cfg,
		Queue:   queue,
		Store:   store,
		Metrics: processMetrics,

		Orchestrator: orchestrator,
		DiscoverUC:   usecase.NewDiscoverUseCase(tree),
		ExportUC:     usecase.NewExportUseCase(store, exports),
		ReprocessUC:  usecase.NewReprocessUseCase(store, tree, orchestrator),

		closeFn: func() {
			if queue != nil {
				queue.Close()
			}
			_ = db.Close()
		},
	}, nil
}

// Drain cancels unfinished batches and waits for each to settle until ctx ends.
// RecoverInterrupted releases documents whose processing run was lost, for
// example when a process exited before committing.
func RecoverInterrupted(ctx context.Context, store *sqlstore.Store, after time.Duration) {
	cutoff := time.Now().UTC().Add(-after)
	recovered, err := store.RecoverInterrupted(ctx, cutoff)
	if err != nil {
		slog.Warn("interrupted_recovery_failed", "error", err)
		return
	}
	if recovered > 0 {
		slog.Info("interrupted_documents_recovered", "count", recovered, "cutoff", cutoff)
	}
}

func (a *App) Drain(ctx context.Context) {
	for _, snapshot := range a.Orchestrator.List() {
		if snapshot.State != domain.BatchRunning && snapshot.State != domain.BatchSubmitted {
			continue
		}
		batch, err := a.Orchestrator.Get(snapshot.BatchID)
		if err != nil {
			continue
		}
		batch.Cancel()
		if _, err := batch.Wait(ctx); err != nil {
			slog.Warn("batch_drain_incomplete", "batch_id", snapshot.BatchID, "error", err)
			return
		}
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

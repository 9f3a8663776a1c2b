package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kirillkom/thai-fin-ocr/internal/bootstrap"
	"github.com/kirillkom/thai-fin-ocr/internal/config"
	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
	"github.com/kirillkom/thai-fin-ocr/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewLogger(os.Stdout, "worker", cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "worker", nil)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := startMetricsServer(cfg.WorkerMetricsPort, app.Metrics.Handler())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if cfg.WorkerRunOnStart {
		go runFullScan(ctx, app, "start")
	}

	if cfg.WorkerSchedule != "" {
		scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{})))
		if _, err := scheduler.AddFunc(cfg.WorkerSchedule, func() { runFullScan(ctx, app, "schedule") }); err != nil {
			slog.Error("worker_schedule_invalid", "schedule", cfg.WorkerSchedule, "error", err)
			os.Exit(1)
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
		slog.Info("worker_schedule_enabled", "schedule", cfg.WorkerSchedule)
	}

	if app.Queue != nil {
		slog.Info("worker_subscribed", "subject", cfg.NATSReprocessSubject)
		err = app.Queue.SubscribeReprocessRequested(ctx, func(handlerCtx context.Context, documentID string) error {
			snapshot, err := app.ReprocessUC.Reprocess(handlerCtx, []string{documentID})
			if err != nil {
				return err
			}
			slog.Info("reprocess_started", "document_id", documentID, "batch_id", snapshot.BatchID)
			return nil
		})
		if err != nil {
			slog.Error("worker_subscribe_failed", "error", err)
		}
	} else {
		<-ctx.Done()
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	app.Drain(drainCtx)
}

// runFullScan discovers the whole source root and runs it as one batch,
// returning when the batch ends. A run is skipped while another batch is
// still in progress.
func runFullScan(ctx context.Context, app *bootstrap.App, trigger string) {
	if app.Orchestrator.Running() {
		slog.Info("full_scan_skipped", "trigger", trigger, "reason", "batch in progress")
		return
	}
	bootstrap.RecoverInterrupted(ctx, app.Store, app.Config.RecoverProcessingAfter)
	items, err := app.DiscoverUC.Discover(ctx, domain.DiscoveryRequest{
		Period: app.Config.SourcePeriod,
		Hash:   true,
	})
	if err != nil {
		slog.Error("full_scan_discovery_failed", "trigger", trigger, "error", err)
		return
	}
	if len(items) == 0 {
		slog.Info("full_scan_empty", "trigger", trigger)
		return
	}

	snapshot, err := app.Orchestrator.Start(ctx, items, domain.BatchOptions{})
	if err != nil {
		slog.Error("full_scan_start_failed", "trigger", trigger, "error", err)
		return
	}
	batch, err := app.Orchestrator.Get(snapshot.BatchID)
	if err != nil {
		return
	}
	final, err := batch.Wait(ctx)
	if err != nil {
		return
	}
	slog.Info("full_scan_finished",
		"trigger", trigger,
		"batch_id", final.BatchID,
		"completed", final.Completed,
		"skipped", final.Skipped,
		"failed", final.Failed,
		"cancelled", final.Cancelled,
	)
}

func startMetricsServer(port string, handler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", handler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("worker_metrics_listening", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	return server
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron_"+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron_"+msg, append(keysAndValues, "error", err)...)
}

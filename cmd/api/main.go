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

	httpadapter "github.com/kirillkom/thai-fin-ocr/internal/adapters/http"
	"github.com/kirillkom/thai-fin-ocr/internal/bootstrap"
	"github.com/kirillkom/thai-fin-ocr/internal/config"
	"github.com/kirillkom/thai-fin-ocr/internal/observability/logging"
	"github.com/kirillkom/thai-fin-ocr/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewLogger(os.Stdout, "api", cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, "api", httpMetrics.Registry())
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	services := httpadapter.Services{
		Documents:   app.Store,
		Discoverer:  app.DiscoverUC,
		Batches:     app.Orchestrator,
		Exporter:    app.ExportUC,
		Reprocessor: app.ReprocessUC,
		Metrics:     httpMetrics,
	}
	if app.Queue != nil {
		services.Queue = app.Queue
	}

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      httpadapter.NewRouter(cfg, services).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
	app.Drain(shutdownCtx)
}

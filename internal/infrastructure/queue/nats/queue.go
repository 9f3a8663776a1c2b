package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
	"github.com/kirillkom/thai-fin-ocr/internal/infrastructure/resilience"
)

type Queue struct {
	conn             *nats.Conn
	reprocessSubject string
	progressSubject  string
	executor         *resilience.Executor
}

type Options struct {
	ReprocessSubject     string
	ProgressSubject      string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	reprocessSubject := strings.TrimSpace(options.ReprocessSubject)
	if reprocessSubject == "" {
		reprocessSubject = "ocr.documents.reprocess"
	}
	progressSubject := strings.TrimSpace(options.ProgressSubject)
	if progressSubject == "" {
		progressSubject = "ocr.batches.progress"
	}

	conn, err := nats.Connect(
		url,
		nats.Name("thai-fin-ocr"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:             conn,
		reprocessSubject: reprocessSubject,
		progressSubject:  progressSubject,
		executor:         options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// PublishProgress broadcasts a batch snapshot as JSON. Per-item detail is
// left out to keep messages small; consumers fetch it over the API.
func (q *Queue) PublishProgress(ctx context.Context, snapshot domain.BatchSnapshot) error {
	payload, err := encodeProgress(snapshot)
	if err != nil {
		return err
	}
	return q.publish(ctx, "nats.publish_progress", q.progressSubject, payload)
}

func (q *Queue) PublishReprocessRequested(ctx context.Context, documentID string) error {
	if strings.TrimSpace(documentID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "publish reprocess", errors.New("empty document id"))
	}
	return q.publish(ctx, "nats.publish_reprocess", q.reprocessSubject, []byte(documentID))
}

func (q *Queue) publish(ctx context.Context, operation, subject string, payload []byte) error {
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, operation, call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(operation, err)
	}
	return nil
}

// SubscribeReprocessRequested joins the worker queue group and blocks until
// ctx ends, then drains the subscription.
func (q *Queue) SubscribeReprocessRequested(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.reprocessSubject, "workers", func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		documentID := strings.TrimSpace(string(msg.Data))
		if err := handler(handlerCtx, documentID); err != nil {
			slog.Error("reprocess_handler_failed", "document_id", documentID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func encodeProgress(snapshot domain.BatchSnapshot) ([]byte, error) {
	snapshot.Items = nil
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal progress: %w", err)
	}
	return payload, nil
}

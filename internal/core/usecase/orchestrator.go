package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
	"github.com/kirillkom/thai-fin-ocr/internal/core/ports"
)

const (
	defaultBatchHistory = 100
	publishTimeout      = 5 * time.Second
)

type itemProcessor interface {
	Process(ctx context.Context, item domain.WorkItem, force bool) ItemResult
}

// ProgressListener receives a private copy of every snapshot, in order.
// Listeners run on the batch's delivery goroutine, never on a worker.
type ProgressListener func(domain.BatchSnapshot)

type OrchestratorOptions struct {
	// Concurrency applies when a batch does not set its own.
	Concurrency int
	// History bounds how many batches stay queryable.
	History int
}

type Orchestrator struct {
	repo      ports.DocumentRepository
	processor itemProcessor
	metrics   ports.ProcessingMetrics
	publisher ports.ProgressPublisher
	opts      OrchestratorOptions

	mu        sync.Mutex
	batches   map[string]*Batch
	order     []string
	listeners []ProgressListener
}

func NewOrchestrator(
	repo ports.DocumentRepository,
	processor itemProcessor,
	metrics ports.ProcessingMetrics,
	publisher ports.ProgressPublisher,
	opts OrchestratorOptions,
) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.History <= 0 {
		opts.History = defaultBatchHistory
	}
	return &Orchestrator{
		repo:      repo,
		processor: processor,
		metrics:   metrics,
		publisher: publisher,
		opts:      opts,
		batches:   make(map[string]*Batch),
	}
}

// OnProgress registers a listener for every batch run by this orchestrator.
func (o *Orchestrator) OnProgress(listener ProgressListener) {
	if listener == nil {
		return
	}
	o.mu.Lock()
	o.listeners = append(o.listeners, listener)
	o.mu.Unlock()
}

// Submit registers every item's document as pending and returns a handle in
// the submitted state. Items whose document cannot be registered are failed
// right away; the rest are queued.
func (o *Orchestrator) Submit(ctx context.Context, items []domain.WorkItem, opts domain.BatchOptions) (*Batch, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = o.opts.Concurrency
	}
	b := newBatch(uuid.NewString(), len(items), opts)

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("submit batch: %w", err)
		}
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		registered, err := o.register(ctx, item)
		b.items[i] = registered
		b.progress[i] = domain.ItemProgress{
			ItemID:     registered.ID,
			DocumentID: registered.DocumentID,
			SourcePath: registered.SourcePath,
			State:      domain.ItemQueued,
		}
		if err != nil {
			slog.Warn("batch_item_register_failed", "batch_id", b.id, "path", item.SourcePath, "error", err)
			b.mu.Lock()
			b.progress[i].State = domain.ItemFailed
			b.recordErrorLocked(i, err)
			b.mu.Unlock()
		}
	}

	o.mu.Lock()
	o.batches[b.id] = b
	o.order = append(o.order, b.id)
	o.evictLocked()
	o.mu.Unlock()

	slog.Info("batch_submitted", "batch_id", b.id, "items", len(items), "concurrency", opts.Concurrency, "force", opts.Force)
	return b, nil
}

func (o *Orchestrator) register(ctx context.Context, item domain.WorkItem) (domain.WorkItem, error) {
	if item.Metadata.Category == "" {
		meta, err := ExtractMetadata(item.SourcePath)
		if err != nil {
			return item, err
		}
		item.Metadata = meta
	}
	doc := &domain.Document{
		ID:       uuid.NewString(),
		OrgCode:  item.Metadata.Organization.Code,
		OrgName:  item.Metadata.Organization.Name,
		Period:   item.Metadata.Period.Token,
		Category: item.Metadata.Category,
		FilePath: item.SourcePath,
		FileName: filepath.Base(item.SourcePath),
		FileHash: item.FileHash,
	}
	if item.SizeBytes > 0 {
		size := item.SizeBytes
		doc.SizeBytes = &size
	}
	stored, err := o.repo.Register(ctx, doc)
	if err != nil {
		return item, fmt.Errorf("register document: %w", err)
	}
	item.DocumentID = stored.ID
	return item, nil
}

// Run dispatches queued items to at most the batch's concurrency workers and
// returns once every item is terminal. A second Run of the same batch is a no-op.
func (o *Orchestrator) Run(ctx context.Context, b *Batch) domain.BatchSnapshot {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !b.start(cancel, func(s domain.BatchSnapshot) { o.deliver(b, s) }) {
		<-b.done
		return b.Snapshot()
	}
	b.transition(func() {})
	slog.Info("batch_started", "batch_id", b.id, "items", len(b.items))

	var g errgroup.Group
	g.SetLimit(b.opts.Concurrency)
	for i := range b.items {
		if b.stateOf(i) != domain.ItemQueued {
			continue
		}
		if runCtx.Err() != nil {
			o.cancelItem(b, i)
			continue
		}
		g.Go(func() error {
			o.runItem(runCtx, b, i)
			return nil
		})
	}
	_ = g.Wait()

	snapshot := b.transition(func() {
		now := time.Now()
		b.finishedAt = &now
		if b.cancelRequested {
			b.state = domain.BatchCancelled
		} else {
			b.state = domain.BatchFinished
		}
	})
	close(b.done)

	if o.metrics != nil {
		o.metrics.FinishBatch(snapshot.State, snapshot.Total)
	}
	slog.Info("batch_finished",
		"batch_id", b.id,
		"state", snapshot.State,
		"completed", snapshot.Completed,
		"failed", snapshot.Failed,
		"cancelled", snapshot.Cancelled,
		"skipped", snapshot.Skipped,
		"elapsed_ms", snapshot.Elapsed.Milliseconds(),
	)
	b.feed.close()
	return snapshot
}

// Start submits and runs the batch in the background.
func (o *Orchestrator) Start(ctx context.Context, items []domain.WorkItem, opts domain.BatchOptions) (domain.BatchSnapshot, error) {
	b, err := o.Submit(ctx, items, opts)
	if err != nil {
		return domain.BatchSnapshot{}, err
	}
	go o.Run(context.WithoutCancel(ctx), b)
	return b.Snapshot(), nil
}

func (o *Orchestrator) Get(batchID string) (*Batch, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.batches[batchID]
	if !ok {
		return nil, domain.WrapError(domain.ErrBatchNotFound, "get batch", fmt.Errorf("id=%s", batchID))
	}
	return b, nil
}

func (o *Orchestrator) Snapshot(batchID string) (domain.BatchSnapshot, error) {
	b, err := o.Get(batchID)
	if err != nil {
		return domain.BatchSnapshot{}, err
	}
	return b.Snapshot(), nil
}

// List returns snapshots of retained batches, newest first.
func (o *Orchestrator) List() []domain.BatchSnapshot {
	o.mu.Lock()
	batches := make([]*Batch, 0, len(o.order))
	for i := len(o.order) - 1; i >= 0; i-- {
		batches = append(batches, o.batches[o.order[i]])
	}
	o.mu.Unlock()

	out := make([]domain.BatchSnapshot, 0, len(batches))
	for _, b := range batches {
		out = append(out, b.Snapshot())
	}
	return out
}

func (o *Orchestrator) Cancel(batchID string) (domain.BatchSnapshot, error) {
	b, err := o.Get(batchID)
	if err != nil {
		return domain.BatchSnapshot{}, err
	}
	b.Cancel()
	return b.Snapshot(), nil
}

// Running reports whether any retained batch has not finished yet.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, b := range o.batches {
		select {
		case <-b.done:
		default:
			return true
		}
	}
	return false
}

func (o *Orchestrator) runItem(ctx context.Context, b *Batch, i int) {
	if ctx.Err() != nil {
		o.cancelItem(b, i)
		return
	}
	item := b.items[i]
	b.transition(func() {
		b.progress[i].State = domain.ItemDispatched
	})
	if o.metrics != nil {
		o.metrics.StartDocument()
		o.metrics.ObserveQueueLag(time.Since(b.startedAt))
	}

	start := time.Now()
	result := o.process(ctx, b, item)
	if o.metrics != nil {
		o.metrics.FinishDocument(result.State, time.Since(start))
	}
	if result.Err != nil {
		slog.Warn("batch_item_failed",
			"batch_id", b.id,
			"item_id", item.ID,
			"document_id", item.DocumentID,
			"state", result.State,
			"error", result.Err,
		)
	}

	b.transition(func() {
		b.progress[i].State = result.State
		b.progress[i].Skipped = result.Skipped
		if result.Err != nil {
			b.recordErrorLocked(i, result.Err)
		}
	})
}

// process converts a panic inside one item into a failed result so the rest
// of the batch keeps going.
func (o *Orchestrator) process(ctx context.Context, b *Batch, item domain.WorkItem) (result ItemResult) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("worker panic: %v", r)
			slog.Error("batch_item_panic", "batch_id", b.id, "item_id", item.ID, "panic", r)
			commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultCommitTimeout)
			defer cancel()
			if failErr := o.repo.CommitFailure(commitCtx, item.DocumentID, err.Error()); failErr != nil {
				err = errors.Join(err, failErr)
			}
			result = failedResult(err)
		}
	}()
	return o.processor.Process(ctx, item, b.opts.Force)
}

func (o *Orchestrator) cancelItem(b *Batch, i int) {
	item := b.items[i]
	ctx, cancel := context.WithTimeout(context.Background(), defaultCommitTimeout)
	defer cancel()

	err := o.repo.MarkCancelled(ctx, item.DocumentID)
	// A document that already finished an earlier run keeps that status.
	if domain.IsKind(err, domain.ErrInvalidTransition) {
		err = nil
	}
	b.transition(func() {
		b.progress[i].State = domain.ItemCancelled
		if err != nil {
			b.recordErrorLocked(i, fmt.Errorf("mark cancelled: %w", err))
		}
	})
}

// deliver runs on the batch's feed goroutine; a slow publisher delays later
// snapshots, not workers.
func (o *Orchestrator) deliver(b *Batch, snapshot domain.BatchSnapshot) {
	o.mu.Lock()
	listeners := append([]ProgressListener(nil), o.listeners...)
	o.mu.Unlock()

	for _, listener := range listeners {
		listener(snapshot.Clone())
	}
	if o.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := o.publisher.PublishProgress(ctx, snapshot.Clone()); err != nil {
			slog.Debug("batch_progress_publish_failed", "batch_id", b.id, "seq", snapshot.Seq, "error", err)
		}
		cancel()
	}
}

func (o *Orchestrator) evictLocked() {
	for len(o.order) > o.opts.History {
		oldest := o.batches[o.order[0]]
		select {
		case <-oldest.done:
		default:
			// Never evict a batch that is still running.
			return
		}
		delete(o.batches, o.order[0])
		o.order = o.order[1:]
	}
}

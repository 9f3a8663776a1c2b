package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

// Batch is the caller's handle on a submitted batch. All progress fields are
// written under mu; readers only ever see copies.
type Batch struct {
	id    string
	items []domain.WorkItem
	opts  domain.BatchOptions
	done  chan struct{}

	mu              sync.Mutex
	state           domain.BatchState
	progress        []domain.ItemProgress
	errors          []domain.ItemError
	seq             uint64
	startedAt       time.Time
	finishedAt      *time.Time
	cancel          context.CancelFunc
	cancelRequested bool
	// feed receives every snapshot in seq order once the batch runs.
	feed *progressFeed
}

func newBatch(id string, size int, opts domain.BatchOptions) *Batch {
	return &Batch{
		id:       id,
		items:    make([]domain.WorkItem, size),
		opts:     opts,
		done:     make(chan struct{}),
		state:    domain.BatchSubmitted,
		progress: make([]domain.ItemProgress, size),
	}
}

func (b *Batch) ID() string {
	return b.id
}

// Done is closed once every item is terminal.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch finishes or ctx ends.
func (b *Batch) Wait(ctx context.Context) (domain.BatchSnapshot, error) {
	select {
	case <-b.done:
		return b.Snapshot(), nil
	case <-ctx.Done():
		return b.Snapshot(), ctx.Err()
	}
}

// Cancel stops dispatching. In-flight items wind down through their own
// cancellation path; queued items become cancelled.
func (b *Batch) Cancel() {
	b.mu.Lock()
	if b.state == domain.BatchFinished || b.state == domain.BatchCancelled || b.cancelRequested {
		b.mu.Unlock()
		return
	}
	b.cancelRequested = true
	cancel := b.cancel
	b.mu.Unlock()

	slog.Info("batch_cancel_requested", "batch_id", b.id)
	if cancel != nil {
		cancel()
	}
}

func (b *Batch) Snapshot() domain.BatchSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Batch) start(cancel context.CancelFunc, deliver func(domain.BatchSnapshot)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != domain.BatchSubmitted {
		return false
	}
	b.state = domain.BatchRunning
	b.startedAt = time.Now()
	b.cancel = cancel
	b.feed = newProgressFeed(deliver)
	if b.cancelRequested {
		cancel()
	}
	return true
}

// transition applies fn under the lock, queues the resulting snapshot for
// delivery and returns it. Queueing under the lock keeps delivery in seq order.
func (b *Batch) transition(fn func()) domain.BatchSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn()
	b.seq++
	snapshot := b.snapshotLocked()
	if b.feed != nil {
		b.feed.push(snapshot)
	}
	return snapshot
}

func (b *Batch) stateOf(i int) domain.ItemState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.progress[i].State
}

func (b *Batch) recordErrorLocked(i int, err error) {
	item := b.items[i]
	b.errors = append(b.errors, domain.ItemError{
		ItemID:     item.ID,
		DocumentID: item.DocumentID,
		SourcePath: item.SourcePath,
		Message:    err.Error(),
		At:         time.Now().UTC(),
	})
}

func (b *Batch) snapshotLocked() domain.BatchSnapshot {
	s := domain.BatchSnapshot{
		BatchID:    b.id,
		Seq:        b.seq,
		State:      b.state,
		Total:      len(b.progress),
		InFlight:   make([]string, 0),
		Errors:     append([]domain.ItemError(nil), b.errors...),
		Items:      append([]domain.ItemProgress(nil), b.progress...),
		StartedAt:  b.startedAt,
		FinishedAt: b.finishedAt,
	}
	for _, p := range b.progress {
		switch p.State {
		case domain.ItemQueued:
			s.Queued++
		case domain.ItemDispatched:
			s.InFlight = append(s.InFlight, p.ItemID)
		case domain.ItemCompleted:
			s.Completed++
			if p.Skipped {
				s.Skipped++
			}
		case domain.ItemFailed:
			s.Failed++
		case domain.ItemCancelled:
			s.Cancelled++
		}
	}

	if !b.startedAt.IsZero() {
		end := time.Now()
		if b.finishedAt != nil {
			end = *b.finishedAt
		}
		s.Elapsed = end.Sub(b.startedAt)
		if done := s.Done(); done > 0 && done < s.Total {
			s.EstimatedRemaining = s.Elapsed / time.Duration(done) * time.Duration(s.Total-done)
		}
	}
	return s
}

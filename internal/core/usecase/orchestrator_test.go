package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
	"github.com/kirillkom/thai-fin-ocr/internal/core/ports"
)

type metricsFake struct {
	mu       sync.Mutex
	started  int
	finished map[domain.ItemState]int
	batches  []domain.BatchState
}

func (m *metricsFake) StartDocument() {
	m.mu.Lock()
	m.started++
	m.mu.Unlock()
}

func (m *metricsFake) FinishDocument(state domain.ItemState, _ time.Duration) {
	m.mu.Lock()
	if m.finished == nil {
		m.finished = make(map[domain.ItemState]int)
	}
	m.finished[state]++
	m.mu.Unlock()
}

func (m *metricsFake) ObserveQueueLag(time.Duration) {}

func (m *metricsFake) FinishBatch(state domain.BatchState, _ int) {
	m.mu.Lock()
	m.batches = append(m.batches, state)
	m.mu.Unlock()
}

type publisherFake struct {
	delay     time.Duration
	mu        sync.Mutex
	snapshots []domain.BatchSnapshot
}

func (p *publisherFake) PublishProgress(_ context.Context, snapshot domain.BatchSnapshot) error {
	time.Sleep(p.delay)
	p.mu.Lock()
	p.snapshots = append(p.snapshots, snapshot)
	p.mu.Unlock()
	return nil
}

func batchItems(n int) []domain.WorkItem {
	items := make([]domain.WorkItem, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, domain.WorkItem{
			ID:         fmt.Sprintf("item-%d", i),
			SourcePath: fmt.Sprintf("/data/42 Acme/Y67/Acme_%d_BS67.pdf", i),
		})
	}
	return items
}

func newTestOrchestrator(repo *docRepoFake, rec *recognizerFake, metrics ports.ProcessingMetrics) *Orchestrator {
	uc := NewProcessDocumentUseCase(repo, rec, &correctorFake{})
	return NewOrchestrator(repo, uc, metrics, nil, OrchestratorOptions{Concurrency: 1})
}

func assertAllTerminal(t *testing.T, repo *docRepoFake, snapshot domain.BatchSnapshot) {
	t.Helper()
	if snapshot.Done() != snapshot.Total {
		t.Fatalf("expected every item terminal, got %+v", snapshot)
	}
	for _, p := range snapshot.Items {
		if !p.State.Terminal() {
			t.Fatalf("item %s not terminal: %s", p.ItemID, p.State)
		}
		if p.DocumentID == "" {
			continue
		}
		if status := repo.status(p.DocumentID); !status.Terminal() {
			t.Fatalf("document %s left in %s", p.DocumentID, status)
		}
	}
}

func TestOrchestratorIsolatesFailingItem(t *testing.T) {
	repo := newDocRepoFake()
	items := batchItems(5)
	rec := &recognizerFake{fn: func(_ context.Context, item domain.WorkItem) domain.RecognitionOutcome {
		if item.SourcePath == items[2].SourcePath {
			return domain.RecognitionOutcome{Kind: domain.OutcomeFailure, Err: errors.New("engine timeout")}
		}
		return successOutcome()
	}}
	metrics := &metricsFake{}
	o := newTestOrchestrator(repo, rec, metrics)

	b, err := o.Submit(context.Background(), items, domain.BatchOptions{Concurrency: 2})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	snapshot := o.Run(context.Background(), b)

	if snapshot.State != domain.BatchFinished || snapshot.Failed != 1 || snapshot.Completed != 4 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if len(snapshot.Errors) != 1 || snapshot.Errors[0].SourcePath != items[2].SourcePath {
		t.Fatalf("expected one error for the failing item, got %+v", snapshot.Errors)
	}
	assertAllTerminal(t, repo, snapshot)
	if metrics.started != 5 || metrics.finished[domain.ItemFailed] != 1 || len(metrics.batches) != 1 {
		t.Fatalf("unexpected metrics %+v", metrics)
	}
}

func TestOrchestratorCancelMidBatch(t *testing.T) {
	repo := newDocRepoFake()
	dispatched := make(chan struct{})
	var once sync.Once
	rec := &recognizerFake{fn: func(ctx context.Context, _ domain.WorkItem) domain.RecognitionOutcome {
		once.Do(func() { close(dispatched) })
		<-ctx.Done()
		return domain.RecognitionOutcome{Kind: domain.OutcomeFailure, Cancelled: true, Err: domain.WrapError(domain.ErrCancelled, "recognize", ctx.Err())}
	}}
	o := newTestOrchestrator(repo, rec, &metricsFake{})

	b, err := o.Submit(context.Background(), batchItems(5), domain.BatchOptions{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	result := make(chan domain.BatchSnapshot, 1)
	go func() { result <- o.Run(context.Background(), b) }()

	select {
	case <-dispatched:
	case <-time.After(5 * time.Second):
		t.Fatalf("first item never dispatched")
	}
	if _, err := o.Cancel(b.ID()); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	var snapshot domain.BatchSnapshot
	select {
	case snapshot = <-result:
	case <-time.After(5 * time.Second):
		t.Fatalf("batch did not finish after cancel")
	}

	if snapshot.State != domain.BatchCancelled {
		t.Fatalf("expected cancelled batch, got %s", snapshot.State)
	}
	if snapshot.Completed+snapshot.Failed+snapshot.Cancelled != 5 || snapshot.Cancelled != 5 {
		t.Fatalf("expected all five cancelled, got %+v", snapshot)
	}
	if rec.callCount() != 1 {
		t.Fatalf("queued items must not reach the engine, calls=%d", rec.callCount())
	}
	assertAllTerminal(t, repo, snapshot)

	first := snapshot.Items[0].DocumentID
	if repo.status(first) != domain.StatusFailed {
		t.Fatalf("in-flight document should be failed, got %s", repo.status(first))
	}
	for _, p := range snapshot.Items[1:] {
		if repo.status(p.DocumentID) != domain.StatusCancelled {
			t.Fatalf("queued document should be cancelled, got %s", repo.status(p.DocumentID))
		}
	}
}

func TestOrchestratorCancelBeforeRun(t *testing.T) {
	repo := newDocRepoFake()
	rec := &recognizerFake{}
	o := newTestOrchestrator(repo, rec, nil)

	b, err := o.Submit(context.Background(), batchItems(3), domain.BatchOptions{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	b.Cancel()
	snapshot := o.Run(context.Background(), b)

	if snapshot.Cancelled != 3 || rec.callCount() != 0 {
		t.Fatalf("expected everything cancelled without engine calls, got %+v", snapshot)
	}
	assertAllTerminal(t, repo, snapshot)
}

func TestOrchestratorBoundsConcurrency(t *testing.T) {
	repo := newDocRepoFake()
	var current, peak atomic.Int32
	rec := &recognizerFake{fn: func(context.Context, domain.WorkItem) domain.RecognitionOutcome {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return successOutcome()
	}}
	o := newTestOrchestrator(repo, rec, nil)

	b, err := o.Submit(context.Background(), batchItems(8), domain.BatchOptions{Concurrency: 3})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	snapshot := o.Run(context.Background(), b)

	if snapshot.Completed != 8 {
		t.Fatalf("expected 8 completed, got %+v", snapshot)
	}
	if peak.Load() > 3 {
		t.Fatalf("concurrency exceeded: %d", peak.Load())
	}
}

func TestOrchestratorSnapshotsAreImmutableAndOrdered(t *testing.T) {
	repo := newDocRepoFake()
	publisher := &publisherFake{}
	uc := NewProcessDocumentUseCase(repo, &recognizerFake{}, &correctorFake{})
	o := NewOrchestrator(repo, uc, nil, publisher, OrchestratorOptions{Concurrency: 2})

	var mu sync.Mutex
	var seen []domain.BatchSnapshot
	o.OnProgress(func(s domain.BatchSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
		s.Items[0].State = "tampered"
	})

	b, err := o.Submit(context.Background(), batchItems(4), domain.BatchOptions{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	final := o.Run(context.Background(), b)

	for _, p := range final.Items {
		if p.State == "tampered" {
			t.Fatalf("snapshot shares state with the batch")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatalf("expected progress callbacks")
	}
	for i := 1; i < len(seen); i++ {
		if seen[i].Seq <= seen[i-1].Seq {
			t.Fatalf("snapshots out of order: %d after %d", seen[i].Seq, seen[i-1].Seq)
		}
	}
	if last := seen[len(seen)-1]; last.State != domain.BatchFinished || last.Done() != 4 {
		t.Fatalf("expected final snapshot delivered, got %+v", last)
	}
	if len(publisher.snapshots) != len(seen) {
		t.Fatalf("expected publisher to see every snapshot, got %d/%d", len(publisher.snapshots), len(seen))
	}
}

func TestOrchestratorSlowPublisherDoesNotStallWorkers(t *testing.T) {
	repo := newDocRepoFake()
	publisher := &publisherFake{delay: 100 * time.Millisecond}
	rec := &recognizerFake{fn: func(context.Context, domain.WorkItem) domain.RecognitionOutcome {
		time.Sleep(100 * time.Millisecond)
		return successOutcome()
	}}
	uc := NewProcessDocumentUseCase(repo, rec, &correctorFake{})
	o := NewOrchestrator(repo, uc, nil, publisher, OrchestratorOptions{})

	b, err := o.Submit(context.Background(), batchItems(8), domain.BatchOptions{Concurrency: 8})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	start := time.Now()
	result := make(chan domain.BatchSnapshot, 1)
	go func() { result <- o.Run(context.Background(), b) }()

	select {
	case <-b.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("batch did not finish")
	}
	// 18 snapshots at 100ms each would take 1.8s if workers waited on delivery.
	if elapsed := time.Since(start); elapsed > 700*time.Millisecond {
		t.Fatalf("workers waited on progress delivery: elapsed=%s", elapsed)
	}

	final := <-result
	if final.Completed != 8 {
		t.Fatalf("expected 8 completed, got %+v", final)
	}
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if uint64(len(publisher.snapshots)) != final.Seq {
		t.Fatalf("expected %d published snapshots, got %d", final.Seq, len(publisher.snapshots))
	}
	for i, s := range publisher.snapshots {
		if s.Seq != uint64(i+1) {
			t.Fatalf("snapshot %d has seq %d", i, s.Seq)
		}
	}
	if last := publisher.snapshots[len(publisher.snapshots)-1]; last.State != domain.BatchFinished {
		t.Fatalf("expected final snapshot published last, got %s", last.State)
	}
}

func TestOrchestratorRecoversWorkerPanic(t *testing.T) {
	repo := newDocRepoFake()
	items := batchItems(3)
	rec := &recognizerFake{fn: func(_ context.Context, item domain.WorkItem) domain.RecognitionOutcome {
		if item.SourcePath == items[1].SourcePath {
			panic("nil table")
		}
		return successOutcome()
	}}
	o := newTestOrchestrator(repo, rec, nil)

	b, err := o.Submit(context.Background(), items, domain.BatchOptions{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	snapshot := o.Run(context.Background(), b)

	if snapshot.Failed != 1 || snapshot.Completed != 2 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	assertAllTerminal(t, repo, snapshot)
}

func TestOrchestratorStartAndQueries(t *testing.T) {
	repo := newDocRepoFake()
	o := newTestOrchestrator(repo, &recognizerFake{}, nil)

	started, err := o.Start(context.Background(), batchItems(2), domain.BatchOptions{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	b, err := o.Get(started.BatchID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := b.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if final.Completed != 2 {
		t.Fatalf("expected 2 completed, got %+v", final)
	}
	if list := o.List(); len(list) != 1 || list[0].BatchID != started.BatchID {
		t.Fatalf("unexpected batch list %+v", list)
	}
	if _, err := o.Snapshot("missing"); !domain.IsKind(err, domain.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
	if _, err := o.Cancel("missing"); !domain.IsKind(err, domain.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
}

func TestOrchestratorSkipsUnchangedDocuments(t *testing.T) {
	repo := newDocRepoFake()
	items := batchItems(2)
	items[0].FileHash = "same"
	repo.seed(items[0].SourcePath, domain.StatusCompleted, "same")
	rec := &recognizerFake{}
	o := newTestOrchestrator(repo, rec, nil)

	b, err := o.Submit(context.Background(), items, domain.BatchOptions{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	snapshot := o.Run(context.Background(), b)

	if snapshot.Completed != 2 || snapshot.Skipped != 1 || rec.callCount() != 1 {
		t.Fatalf("expected one skip and one recognition, got %+v calls=%d", snapshot, rec.callCount())
	}
}

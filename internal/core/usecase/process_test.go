package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

// docRepoFake is an in-memory state machine with the same transition rules
// as the SQL store.
type docRepoFake struct {
	mu         sync.Mutex
	docs       map[string]*domain.Document
	byPath     map[string]string
	tables     map[string]int
	nextID     int
	successErr error
	failureErr error
	failures   map[string]string
}

func newDocRepoFake() *docRepoFake {
	return &docRepoFake{
		docs:     make(map[string]*domain.Document),
		byPath:   make(map[string]string),
		tables:   make(map[string]int),
		failures: make(map[string]string),
	}
}

func (f *docRepoFake) Register(_ context.Context, doc *domain.Document) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byPath[doc.FilePath]; ok {
		copyDoc := *f.docs[id]
		return &copyDoc, nil
	}
	f.nextID++
	stored := *doc
	stored.ID = fmt.Sprintf("doc-%d", f.nextID)
	stored.Status = domain.StatusPending
	f.docs[stored.ID] = &stored
	f.byPath[stored.FilePath] = stored.ID
	copyDoc := stored
	return &copyDoc, nil
}

func (f *docRepoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *docRepoFake) transitionLocked(id string, target domain.DocumentStatus) (*domain.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "update status", errors.New(id))
	}
	if !domain.CanTransition(doc.Status, target) {
		return nil, domain.WrapError(domain.ErrInvalidTransition, "update status", fmt.Errorf("%s -> %s", doc.Status, target))
	}
	return doc, nil
}

func (f *docRepoFake) BeginProcessing(_ context.Context, id string, fileHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.transitionLocked(id, domain.StatusProcessing)
	if err != nil {
		return err
	}
	doc.Status = domain.StatusProcessing
	doc.FileHash = fileHash
	return nil
}

func (f *docRepoFake) CommitSuccess(_ context.Context, id string, outcome domain.CorrectedOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.successErr != nil {
		return f.successErr
	}
	doc, err := f.transitionLocked(id, domain.StatusCompleted)
	if err != nil {
		return err
	}
	doc.Status = domain.StatusCompleted
	doc.Outcome = outcome.Kind
	f.tables[id] = len(outcome.Tables)
	return nil
}

func (f *docRepoFake) CommitFailure(_ context.Context, id string, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failureErr != nil {
		return f.failureErr
	}
	doc, err := f.transitionLocked(id, domain.StatusFailed)
	if err != nil {
		return err
	}
	doc.Status = domain.StatusFailed
	doc.ErrorMessage = errMessage
	f.failures[id] = errMessage
	return nil
}

func (f *docRepoFake) MarkCancelled(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.transitionLocked(id, domain.StatusCancelled)
	if err != nil {
		return err
	}
	doc.Status = domain.StatusCancelled
	return nil
}

func (f *docRepoFake) status(id string) domain.DocumentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id].Status
}

func (f *docRepoFake) seed(path string, status domain.DocumentStatus, hash string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("doc-%d", f.nextID)
	f.docs[id] = &domain.Document{ID: id, FilePath: path, Status: status, FileHash: hash}
	f.byPath[path] = id
	return id
}

type recognizerFake struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, item domain.WorkItem) domain.RecognitionOutcome
}

func (f *recognizerFake) Recognize(ctx context.Context, item domain.WorkItem) domain.RecognitionOutcome {
	f.mu.Lock()
	f.calls = append(f.calls, item.SourcePath)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, item)
	}
	return successOutcome()
}

func (f *recognizerFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type correctorFake struct {
	err error
}

func (f *correctorFake) CorrectOutcome(outcome domain.RecognitionOutcome) (domain.CorrectedOutcome, error) {
	if f.err != nil {
		return domain.CorrectedOutcome{}, f.err
	}
	tables := make([]domain.ExtractedTable, 0, len(outcome.Tables))
	for i, raw := range outcome.Tables {
		tables = append(tables, domain.ExtractedTable{Index: i, Headers: raw.Headers, RowCount: len(raw.Rows) + 1})
	}
	return domain.CorrectedOutcome{Kind: outcome.Kind, Text: outcome.Text, Tables: tables, PageCount: outcome.PageCount}, nil
}

func successOutcome() domain.RecognitionOutcome {
	return domain.RecognitionOutcome{
		Kind:      domain.OutcomeSuccess,
		Text:      "งบแสดงฐานะการเงิน",
		PageCount: 1,
		Tables:    []domain.RawTable{{Headers: []string{"Item", "Amount"}, Rows: [][]string{{"A", "1,234.56"}}}},
	}
}

func registeredItem(t *testing.T, repo *docRepoFake, path string) domain.WorkItem {
	t.Helper()
	doc, err := repo.Register(context.Background(), &domain.Document{FilePath: path})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return domain.WorkItem{ID: "item-" + doc.ID, DocumentID: doc.ID, SourcePath: path}
}

func TestProcessSuccessCommitsTables(t *testing.T) {
	repo := newDocRepoFake()
	uc := NewProcessDocumentUseCase(repo, &recognizerFake{}, &correctorFake{})
	item := registeredItem(t, repo, "/data/42 Acme/Y67/Acme_BS67.pdf")

	result := uc.Process(context.Background(), item, false)
	if result.State != domain.ItemCompleted || result.Err != nil {
		t.Fatalf("unexpected result %+v", result)
	}
	if repo.status(item.DocumentID) != domain.StatusCompleted || repo.tables[item.DocumentID] != 1 {
		t.Fatalf("expected completed document with one table")
	}
}

func TestProcessRecognitionFailureCommitsFailure(t *testing.T) {
	repo := newDocRepoFake()
	rec := &recognizerFake{fn: func(context.Context, domain.WorkItem) domain.RecognitionOutcome {
		return domain.RecognitionOutcome{Kind: domain.OutcomeFailure, Err: errors.New("corrupt input: bad xref")}
	}}
	uc := NewProcessDocumentUseCase(repo, rec, &correctorFake{})
	item := registeredItem(t, repo, "/data/a.pdf")

	result := uc.Process(context.Background(), item, false)
	if result.State != domain.ItemFailed {
		t.Fatalf("expected failed item, got %+v", result)
	}
	if repo.status(item.DocumentID) != domain.StatusFailed || !strings.Contains(repo.failures[item.DocumentID], "corrupt input") {
		t.Fatalf("expected failed document with message, got %q", repo.failures[item.DocumentID])
	}
}

func TestProcessCancelledOutcomeFailsDocument(t *testing.T) {
	repo := newDocRepoFake()
	rec := &recognizerFake{fn: func(context.Context, domain.WorkItem) domain.RecognitionOutcome {
		return domain.RecognitionOutcome{Kind: domain.OutcomeFailure, Cancelled: true, Err: domain.ErrCancelled}
	}}
	uc := NewProcessDocumentUseCase(repo, rec, &correctorFake{})
	item := registeredItem(t, repo, "/data/a.pdf")

	result := uc.Process(context.Background(), item, false)
	if result.State != domain.ItemCancelled {
		t.Fatalf("expected cancelled item, got %+v", result)
	}
	if repo.status(item.DocumentID) != domain.StatusFailed {
		t.Fatalf("expected in-flight cancellation to leave the document failed")
	}
}

func TestProcessCorrectionErrorCommitsFailure(t *testing.T) {
	repo := newDocRepoFake()
	uc := NewProcessDocumentUseCase(repo, &recognizerFake{}, &correctorFake{err: errors.New("bad shape")})
	item := registeredItem(t, repo, "/data/a.pdf")

	result := uc.Process(context.Background(), item, false)
	if result.State != domain.ItemFailed || repo.status(item.DocumentID) != domain.StatusFailed {
		t.Fatalf("expected failed item and document, got %+v", result)
	}
}

func TestProcessCommitErrorFallsBackToFailure(t *testing.T) {
	repo := newDocRepoFake()
	repo.successErr = errors.New("constraint violation")
	uc := NewProcessDocumentUseCase(repo, &recognizerFake{}, &correctorFake{})
	item := registeredItem(t, repo, "/data/a.pdf")

	result := uc.Process(context.Background(), item, false)
	if result.State != domain.ItemFailed {
		t.Fatalf("expected failed item, got %+v", result)
	}
	if !strings.Contains(repo.failures[item.DocumentID], "constraint violation") {
		t.Fatalf("expected persistence error recorded, got %q", repo.failures[item.DocumentID])
	}
}

func TestProcessReportsUnwritableFailure(t *testing.T) {
	repo := newDocRepoFake()
	repo.successErr = errors.New("constraint violation")
	repo.failureErr = errors.New("connection reset")
	uc := NewProcessDocumentUseCase(repo, &recognizerFake{}, &correctorFake{})
	item := registeredItem(t, repo, "/data/a.pdf")

	result := uc.Process(context.Background(), item, false)
	if result.State != domain.ItemFailed {
		t.Fatalf("expected failed item, got %+v", result)
	}
	if !strings.Contains(result.Err.Error(), "constraint violation") || !strings.Contains(result.Err.Error(), "connection reset") {
		t.Fatalf("expected both errors, got %v", result.Err)
	}
}

func TestProcessRejectsDocumentAlreadyProcessing(t *testing.T) {
	repo := newDocRepoFake()
	id := repo.seed("/data/a.pdf", domain.StatusProcessing, "")
	rec := &recognizerFake{}
	uc := NewProcessDocumentUseCase(repo, rec, &correctorFake{})

	result := uc.Process(context.Background(), domain.WorkItem{ID: "i", DocumentID: id, SourcePath: "/data/a.pdf"}, true)
	if result.State != domain.ItemFailed || !domain.IsKind(result.Err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %+v", result)
	}
	if rec.callCount() != 0 || repo.status(id) != domain.StatusProcessing {
		t.Fatalf("document owned by another run must not be touched")
	}
}

func TestProcessSkipsUnchangedCompletedDocument(t *testing.T) {
	repo := newDocRepoFake()
	id := repo.seed("/data/a.pdf", domain.StatusCompleted, "hash-1")
	rec := &recognizerFake{}
	uc := NewProcessDocumentUseCase(repo, rec, &correctorFake{})
	item := domain.WorkItem{ID: "i", DocumentID: id, SourcePath: "/data/a.pdf", FileHash: "hash-1"}

	result := uc.Process(context.Background(), item, false)
	if result.State != domain.ItemCompleted || !result.Skipped || rec.callCount() != 0 {
		t.Fatalf("expected skip, got %+v calls=%d", result, rec.callCount())
	}

	result = uc.Process(context.Background(), item, true)
	if result.Skipped || rec.callCount() != 1 {
		t.Fatalf("expected forced reprocess, got %+v calls=%d", result, rec.callCount())
	}
}

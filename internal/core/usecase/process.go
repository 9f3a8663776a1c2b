package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
	"github.com/kirillkom/thai-fin-ocr/internal/core/ports"
)

const defaultCommitTimeout = 30 * time.Second

// ItemResult is the terminal report of one work item.
type ItemResult struct {
	State   domain.ItemState
	Skipped bool
	Outcome domain.OutcomeKind
	Err     error
}

type ProcessDocumentUseCase struct {
	repo          ports.DocumentRepository
	recognizer    ports.Recognizer
	corrector     ports.Corrector
	commitTimeout time.Duration
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	recognizer ports.Recognizer,
	corrector ports.Corrector,
) *ProcessDocumentUseCase {
	return &ProcessDocumentUseCase{
		repo:          repo,
		recognizer:    recognizer,
		corrector:     corrector,
		commitTimeout: defaultCommitTimeout,
	}
}

// Process runs one registered item through recognition, correction and
// commit. It never panics on expected failures and always leaves the document
// in a terminal status unless even the failure commit could not be written.
func (uc *ProcessDocumentUseCase) Process(ctx context.Context, item domain.WorkItem, force bool) ItemResult {
	commitCtx, cancel := uc.commitContext(ctx)
	doc, err := uc.repo.GetByID(commitCtx, item.DocumentID)
	if err != nil {
		cancel()
		return failedResult(fmt.Errorf("fetch document by id: %w", err))
	}
	if !force && unchanged(doc, item) {
		cancel()
		return ItemResult{State: domain.ItemCompleted, Skipped: true, Outcome: doc.Outcome}
	}
	err = uc.repo.BeginProcessing(commitCtx, doc.ID, item.FileHash)
	cancel()
	if err != nil {
		return failedResult(fmt.Errorf("set status=processing: %w", err))
	}

	outcome := uc.recognizer.Recognize(ctx, item)
	if outcome.Failed() {
		result := ItemResult{State: domain.ItemFailed, Outcome: domain.OutcomeFailure, Err: outcomeError(outcome)}
		if outcome.Cancelled {
			result.State = domain.ItemCancelled
		}
		if failErr := uc.markFailed(ctx, doc.ID, result.Err); failErr != nil {
			result.State = domain.ItemFailed
			result.Err = errors.Join(result.Err, failErr)
		}
		return result
	}

	corrected, err := uc.corrector.CorrectOutcome(outcome)
	if err != nil {
		return uc.fail(ctx, doc.ID, fmt.Errorf("correct outcome: %w", err))
	}

	commitCtx, cancel = uc.commitContext(ctx)
	err = uc.repo.CommitSuccess(commitCtx, doc.ID, corrected)
	cancel()
	if err != nil {
		return uc.fail(ctx, doc.ID, fmt.Errorf("commit success: %w", err))
	}
	return ItemResult{State: domain.ItemCompleted, Outcome: corrected.Kind}
}

// commitContext detaches persistence from batch cancellation so an in-flight
// item can still record its terminal status.
func (uc *ProcessDocumentUseCase) commitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), uc.commitTimeout)
}

func (uc *ProcessDocumentUseCase) fail(ctx context.Context, documentID string, processErr error) ItemResult {
	if failErr := uc.markFailed(ctx, documentID, processErr); failErr != nil {
		return failedResult(errors.Join(processErr, failErr))
	}
	return failedResult(processErr)
}

func (uc *ProcessDocumentUseCase) markFailed(ctx context.Context, documentID string, processErr error) error {
	commitCtx, cancel := uc.commitContext(ctx)
	defer cancel()
	if err := uc.repo.CommitFailure(commitCtx, documentID, processErr.Error()); err != nil {
		return fmt.Errorf("mark failed status: %w", err)
	}
	return nil
}

func unchanged(doc *domain.Document, item domain.WorkItem) bool {
	return doc.Status == domain.StatusCompleted && item.FileHash != "" && doc.FileHash == item.FileHash
}

func outcomeError(outcome domain.RecognitionOutcome) error {
	if outcome.Err != nil {
		return outcome.Err
	}
	return errors.New(outcome.ErrorMessage())
}

func failedResult(err error) ItemResult {
	return ItemResult{State: domain.ItemFailed, Outcome: domain.OutcomeFailure, Err: err}
}

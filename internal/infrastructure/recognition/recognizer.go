package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

type pageClient interface {
	RecognizePage(ctx context.Context, fileName string, document []byte, page int) (pageResponse, bool, error)
}

type Recognizer struct {
	client     pageClient
	timeout    time.Duration
	countPages func(path string) (int, error)
}

// NewRecognizer wraps the engine client. timeout bounds one whole document.
func NewRecognizer(client *Client, timeout time.Duration) *Recognizer {
	return &Recognizer{
		client:     client,
		timeout:    timeout,
		countPages: CountPages,
	}
}

// Recognize runs every page of the item through the engine. Missing files,
// corrupt PDFs, engine errors, timeouts and cancellation all come back as
// failure outcomes; pages or tables that fail while others succeed yield a
// partial outcome.
func (r *Recognizer) Recognize(ctx context.Context, item domain.WorkItem) domain.RecognitionOutcome {
	start := time.Now()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	outcome := r.recognize(ctx, item)
	outcome.Elapsed = time.Since(start)
	if outcome.Failed() {
		slog.Warn("recognition_failed",
			"path", item.SourcePath,
			"cancelled", outcome.Cancelled,
			"error", outcome.ErrorMessage(),
		)
	}
	return outcome
}

func (r *Recognizer) recognize(ctx context.Context, item domain.WorkItem) domain.RecognitionOutcome {
	document, err := os.ReadFile(item.SourcePath)
	if err != nil {
		return failure(fmt.Errorf("read source: %w", err))
	}
	pages, err := r.countPages(item.SourcePath)
	if err != nil {
		return failure(fmt.Errorf("corrupt input: %w", err))
	}

	outcome := domain.RecognitionOutcome{
		Kind:      domain.OutcomeSuccess,
		PageCount: pages,
	}
	var texts []string
	failedPages := 0
	fileName := filepath.Base(item.SourcePath)

	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return interrupted(err)
		}

		resp, tablesOK, err := r.client.RecognizePage(ctx, fileName, document, page)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return interrupted(ctxErr)
			}
			failedPages++
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("page %d: %v", page, err))
			continue
		}
		outcome.Warnings = append(outcome.Warnings, prefixed(page, resp.Warnings)...)
		if strings.TrimSpace(resp.Text) != "" {
			texts = append(texts, resp.Text)
		}
		if !tablesOK {
			outcome.Kind = domain.OutcomePartial
		}

		tables, err := pageTables(resp, page)
		if err != nil {
			outcome.Kind = domain.OutcomePartial
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("page %d: table extraction: %v", page, err))
		}
		outcome.Tables = append(outcome.Tables, tables...)
	}

	if failedPages == pages {
		out := failure(fmt.Errorf("all %d pages failed: %s", pages, strings.Join(outcome.Warnings, "; ")))
		out.PageCount = pages
		out.Warnings = outcome.Warnings
		return out
	}
	if failedPages > 0 {
		outcome.Kind = domain.OutcomePartial
	}
	outcome.Text = strings.Join(texts, "\n\n")
	if outcome.Kind == domain.OutcomePartial {
		outcome.Tables = nil
		outcome.Warnings = append(outcome.Warnings, "tables dropped: extraction incomplete")
	}
	return outcome
}

func pageTables(resp pageResponse, page int) ([]domain.RawTable, error) {
	if len(resp.Tables) > 0 {
		out := make([]domain.RawTable, 0, len(resp.Tables))
		for _, t := range resp.Tables {
			out = append(out, domain.RawTable{
				Headers:    t.Headers,
				Rows:       t.Rows,
				Confidence: confidenceOr(t.Confidence, resp.Confidence),
				Page:       page,
			})
		}
		return out, nil
	}

	parsed, err := ParseTables(resp.Text)
	for i := range parsed {
		parsed[i].Page = page
		parsed[i].Confidence = confidenceOr(nil, resp.Confidence)
	}
	return parsed, err
}

func confidenceOr(v, fallback *float64) float64 {
	switch {
	case v != nil:
		return *v
	case fallback != nil:
		return *fallback
	default:
		return 0
	}
}

func prefixed(page int, warnings []string) []string {
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, fmt.Sprintf("page %d: %s", page, w))
	}
	return out
}

func failure(err error) domain.RecognitionOutcome {
	return domain.RecognitionOutcome{
		Kind:     domain.OutcomeFailure,
		Err:      err,
		Warnings: []string{err.Error()},
	}
}

func interrupted(err error) domain.RecognitionOutcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return failure(domain.WrapError(domain.ErrTemporary, "recognize", fmt.Errorf("engine timeout: %w", err)))
	}
	out := failure(domain.WrapError(domain.ErrCancelled, "recognize", err))
	out.Cancelled = true
	return out
}

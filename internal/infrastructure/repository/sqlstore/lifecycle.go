package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

// cellBatchSize keeps multi-row inserts well below driver parameter limits.
const cellBatchSize = 500

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) BeginProcessing(ctx context.Context, id string, fileHash string) error {
	now := time.Now().UTC()
	return s.transition(ctx, s.db, id, domain.StatusProcessing, `file_hash = $%d, error_message = '', updated_at = $%d`, fileHash, now)
}

// CommitSuccess replaces the document's tables with the outcome's and marks it
// completed in one transaction; readers never see a half-written result.
func (s *Store) CommitSuccess(ctx context.Context, id string, outcome domain.CorrectedOutcome) error {
	warnings, err := marshalList(outcome.Warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.transition(ctx, tx, id, domain.StatusCompleted,
		`outcome = $%d, page_count = $%d, warnings = $%d, full_text = $%d, error_message = '', processed_at = $%d, updated_at = $%d`,
		string(outcome.Kind), outcome.PageCount, warnings, outcome.Text, now, now,
	); err != nil {
		return err
	}
	if err := s.deleteTables(ctx, tx, id); err != nil {
		return err
	}
	for _, table := range outcome.Tables {
		if err := s.insertTable(ctx, tx, id, table, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit success tx: %w", err)
	}
	return nil
}

// CommitFailure marks the document failed. Tables from an earlier successful
// run stay in place as the last known good result.
func (s *Store) CommitFailure(ctx context.Context, id string, errMessage string) error {
	now := time.Now().UTC()
	return s.transition(ctx, s.db, id, domain.StatusFailed,
		`outcome = $%d, error_message = $%d, processed_at = $%d, updated_at = $%d`,
		string(domain.OutcomeFailure), errMessage, now, now,
	)
}

func (s *Store) MarkCancelled(ctx context.Context, id string) error {
	return s.transition(ctx, s.db, id, domain.StatusCancelled, `updated_at = $%d`, time.Now().UTC())
}

// InterruptedMessage is recorded on documents whose run never committed.
const InterruptedMessage = "interrupted"

// RecoverInterrupted fails documents that entered processing before cutoff
// and never committed, so they can be picked up again. It returns how many
// documents it moved.
func (s *Store) RecoverInterrupted(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.q(`
UPDATE documents SET status = $1, outcome = $2, error_message = $3, processed_at = $4, updated_at = $4
WHERE status = $5 AND updated_at < $6
`), string(domain.StatusFailed), string(domain.OutcomeFailure), InterruptedMessage, now, string(domain.StatusProcessing), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("recover interrupted documents: %w", err)
	}
	recovered, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover rows affected: %w", err)
	}
	return recovered, nil
}

// transition moves id to target only from a status the state machine allows.
// set is a comma separated list of assignments with %d standing in for the
// placeholder numbers of values.
func (s *Store) transition(ctx context.Context, db execer, id string, target domain.DocumentStatus, set string, values ...any) error {
	sources := domain.SourcesFor(target)
	args := []any{id, string(target)}
	numbers := make([]any, 0, len(values))
	for _, v := range values {
		args = append(args, v)
		numbers = append(numbers, len(args))
	}
	in := make([]string, 0, len(sources))
	for _, from := range sources {
		args = append(args, string(from))
		in = append(in, fmt.Sprintf("$%d", len(args)))
	}

	query := fmt.Sprintf(`UPDATE documents SET status = $2, `+set+` WHERE id = $1 AND status IN (%s)`,
		append(numbers, strings.Join(in, ", "))...)
	res, err := db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var current string
	err = db.QueryRowContext(ctx, s.q(`SELECT status FROM documents WHERE id = $1`), id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WrapError(domain.ErrDocumentNotFound, "update document status", fmt.Errorf("id=%s", id))
		}
		return fmt.Errorf("read document status: %w", err)
	}
	return domain.WrapError(domain.ErrInvalidTransition, "update document status",
		fmt.Errorf("%s -> %s not allowed for %s", current, target, id))
}

func (s *Store) deleteTables(ctx context.Context, tx *sql.Tx, documentID string) error {
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM table_cells WHERE table_id IN (SELECT id FROM extracted_tables WHERE document_id = $1)`), documentID); err != nil {
		return fmt.Errorf("delete table cells: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM extracted_tables WHERE document_id = $1`), documentID); err != nil {
		return fmt.Errorf("delete tables: %w", err)
	}
	return nil
}

func (s *Store) insertTable(ctx context.Context, tx *sql.Tx, documentID string, table domain.ExtractedTable, now time.Time) error {
	headers, err := marshalList(table.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	tableID := uuid.NewString()
	_, err = tx.ExecContext(ctx, s.q(`
INSERT INTO extracted_tables (id, document_id, table_index, label, headers, row_count, col_count, markdown, confidence, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`), tableID, documentID, table.Index, string(table.Label), headers, table.RowCount, table.ColCount, table.Markdown, table.Confidence, now)
	if err != nil {
		return fmt.Errorf("insert table %d: %w", table.Index, err)
	}

	for start := 0; start < len(table.Cells); start += cellBatchSize {
		end := min(start+cellBatchSize, len(table.Cells))
		if err := s.insertCells(ctx, tx, tableID, table.Cells[start:end]); err != nil {
			return fmt.Errorf("insert cells of table %d: %w", table.Index, err)
		}
	}
	return nil
}

func (s *Store) insertCells(ctx context.Context, tx *sql.Tx, tableID string, cells []domain.TableCell) error {
	const cols = 8
	var b strings.Builder
	b.WriteString(`INSERT INTO table_cells (table_id, row_index, col_index, value, kind, numeric_value, confidence, is_header) VALUES `)
	args := make([]any, 0, len(cells)*cols)
	for i, cell := range cells {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for c := range cols {
			if c > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "$%d", i*cols+c+1)
		}
		b.WriteString(")")
		args = append(args, tableID, cell.Row, cell.Col, cell.Value, string(cell.Kind), cell.Numeric, cell.Confidence, cell.IsHeader)
	}
	_, err := tx.ExecContext(ctx, s.q(b.String()), args...)
	return err
}

func marshalList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

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

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

const documentColumns = `d.id, d.org_code, d.org_name, d.period, d.category, d.file_path, d.file_name, d.file_hash,
	d.status, d.outcome, d.page_count, d.size_bytes, d.error_message, d.warnings, d.processed_at, d.created_at, d.updated_at,
	(SELECT COUNT(*) FROM extracted_tables t WHERE t.document_id = d.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

// Register inserts a pending document, or refreshes the metadata of the one
// already stored under the same file path. Status and hash are left alone.
func (s *Store) Register(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	if doc == nil || strings.TrimSpace(doc.FilePath) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "register document", errors.New("file path is required"))
	}
	id := doc.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin register tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, s.q(`
INSERT INTO documents (
	id, org_code, org_name, period, category, file_path, file_name, file_hash, status, size_bytes, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (file_path) DO UPDATE SET
	org_code = excluded.org_code,
	org_name = excluded.org_name,
	period = excluded.period,
	category = excluded.category,
	file_name = excluded.file_name,
	size_bytes = excluded.size_bytes,
	updated_at = excluded.updated_at
`),
		id, doc.OrgCode, doc.OrgName, doc.Period, string(doc.Category), doc.FilePath, doc.FileName,
		doc.FileHash, string(domain.StatusPending), doc.SizeBytes, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert document: %w", err)
	}

	stored, err := scanDocument(tx.QueryRowContext(ctx, s.q(`SELECT `+documentColumns+` FROM documents d WHERE d.file_path = $1`), doc.FilePath))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit register tx: %w", err)
	}
	return stored, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx, s.q(`SELECT `+documentColumns+` FROM documents d WHERE d.id = $1`), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, err
	}
	return doc, nil
}

func (s *Store) GetText(ctx context.Context, id string) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT full_text FROM documents WHERE id = $1`), id).Scan(&text)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.WrapError(domain.ErrDocumentNotFound, "get document text", fmt.Errorf("id=%s", id))
		}
		return "", fmt.Errorf("scan document text: %w", err)
	}
	return text, nil
}

func (s *Store) List(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, error) {
	where, args := filterClause(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	offset := max(filter.Offset, 0)

	query := `SELECT ` + documentColumns + ` FROM documents d` + where +
		fmt.Sprintf(" ORDER BY d.created_at DESC, d.id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (s *Store) Summary(ctx context.Context, filter domain.DocumentFilter) (domain.StatusSummary, error) {
	where, args := filterClause(filter)
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT d.status, d.category, COUNT(*) FROM documents d`+where+` GROUP BY d.status, d.category`), args...)
	if err != nil {
		return domain.StatusSummary{}, fmt.Errorf("summarize documents: %w", err)
	}
	defer rows.Close()

	summary := domain.StatusSummary{
		ByStatus:   make(map[domain.DocumentStatus]int),
		ByCategory: make(map[domain.Category]int),
	}
	for rows.Next() {
		var status, category string
		var count int
		if err := rows.Scan(&status, &category, &count); err != nil {
			return domain.StatusSummary{}, fmt.Errorf("scan summary: %w", err)
		}
		summary.Total += count
		summary.ByStatus[domain.DocumentStatus(status)] += count
		summary.ByCategory[domain.Category(category)] += count
	}
	if err := rows.Err(); err != nil {
		return domain.StatusSummary{}, fmt.Errorf("iterate summary: %w", err)
	}
	return summary, nil
}

// Delete removes one document with its tables and cells. A document that is
// being processed is refused.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var status string
	err = tx.QueryRowContext(ctx, s.q(`SELECT status FROM documents WHERE id = $1`), id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WrapError(domain.ErrDocumentNotFound, "delete document", fmt.Errorf("id=%s", id))
		}
		return fmt.Errorf("read document status: %w", err)
	}
	if domain.DocumentStatus(status) == domain.StatusProcessing {
		return domain.WrapError(domain.ErrInvalidTransition, "delete document", fmt.Errorf("%s is processing", id))
	}

	if err := s.deleteTables(ctx, tx, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM documents WHERE id = $1 AND status <> $2`), id, string(domain.StatusProcessing))
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rows affected: %w", err)
	}
	if affected == 0 {
		// Picked up by a worker between the read and the delete.
		return domain.WrapError(domain.ErrInvalidTransition, "delete document", fmt.Errorf("%s is processing", id))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

// CleanupFailed removes failed documents last touched before olderThan.
func (s *Store) CleanupFailed(ctx context.Context, olderThan time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cleanup tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	args := []any{string(domain.StatusFailed), olderThan.UTC()}
	const stale = `SELECT id FROM documents WHERE status = $1 AND updated_at < $2`
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM table_cells WHERE table_id IN (SELECT id FROM extracted_tables WHERE document_id IN (`+stale+`))`), args...); err != nil {
		return 0, fmt.Errorf("delete stale cells: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM extracted_tables WHERE document_id IN (`+stale+`)`), args...); err != nil {
		return 0, fmt.Errorf("delete stale tables: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM documents WHERE status = $1 AND updated_at < $2`), args...)
	if err != nil {
		return 0, fmt.Errorf("delete stale documents: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cleanup tx: %w", err)
	}
	return removed, nil
}

func filterClause(filter domain.DocumentFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("d.status = $%d", string(filter.Status))
	}
	if filter.Category != "" {
		add("d.category = $%d", string(filter.Category))
	}
	if filter.OrgCode != "" {
		add("d.org_code = $%d", filter.OrgCode)
	}
	if filter.Period != "" {
		add("d.period = $%d", filter.Period)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var (
		doc         domain.Document
		category    string
		status      string
		outcome     string
		pageCount   sql.NullInt64
		sizeBytes   sql.NullInt64
		warningsRaw []byte
		processedAt sql.NullTime
	)
	err := row.Scan(
		&doc.ID, &doc.OrgCode, &doc.OrgName, &doc.Period, &category, &doc.FilePath, &doc.FileName, &doc.FileHash,
		&status, &outcome, &pageCount, &sizeBytes, &doc.ErrorMessage, &warningsRaw, &processedAt,
		&doc.CreatedAt, &doc.UpdatedAt, &doc.TableCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	doc.Category = domain.Category(category)
	doc.Status = domain.DocumentStatus(status)
	doc.Outcome = domain.OutcomeKind(outcome)
	if pageCount.Valid {
		v := int(pageCount.Int64)
		doc.PageCount = &v
	}
	if sizeBytes.Valid {
		v := sizeBytes.Int64
		doc.SizeBytes = &v
	}
	if processedAt.Valid {
		v := processedAt.Time
		doc.ProcessedAt = &v
	}
	if len(warningsRaw) > 0 {
		if err := json.Unmarshal(warningsRaw, &doc.Warnings); err != nil {
			return nil, fmt.Errorf("unmarshal warnings: %w", err)
		}
	}
	return &doc, nil
}

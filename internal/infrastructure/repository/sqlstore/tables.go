package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

// ListTables returns the document's tables in index order, cells included.
func (s *Store) ListTables(ctx context.Context, documentID string) ([]domain.ExtractedTable, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT id, document_id, table_index, label, headers, row_count, col_count, markdown, confidence, created_at
FROM extracted_tables
WHERE document_id = $1
ORDER BY table_index
`), documentID)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	tables := make([]domain.ExtractedTable, 0)
	byID := make(map[string]int)
	for rows.Next() {
		var (
			table      domain.ExtractedTable
			label      string
			headersRaw []byte
		)
		if err := rows.Scan(&table.ID, &table.DocumentID, &table.Index, &label, &headersRaw,
			&table.RowCount, &table.ColCount, &table.Markdown, &table.Confidence, &table.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan table: %w", err)
		}
		table.Label = domain.TableLabel(label)
		if len(headersRaw) > 0 {
			if err := json.Unmarshal(headersRaw, &table.Headers); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("unmarshal headers: %w", err)
			}
		}
		byID[table.ID] = len(tables)
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	_ = rows.Close()
	if len(tables) == 0 {
		return tables, nil
	}

	cellRows, err := s.db.QueryContext(ctx, s.q(`
SELECT c.table_id, c.row_index, c.col_index, c.value, c.kind, c.numeric_value, c.confidence, c.is_header
FROM table_cells c
JOIN extracted_tables t ON t.id = c.table_id
WHERE t.document_id = $1
ORDER BY t.table_index, c.row_index, c.col_index
`), documentID)
	if err != nil {
		return nil, fmt.Errorf("list cells: %w", err)
	}
	defer cellRows.Close()

	for cellRows.Next() {
		var (
			tableID string
			cell    domain.TableCell
			kind    string
			numeric sql.NullFloat64
		)
		if err := cellRows.Scan(&tableID, &cell.Row, &cell.Col, &cell.Value, &kind, &numeric, &cell.Confidence, &cell.IsHeader); err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		cell.Kind = domain.ValueKind(kind)
		if numeric.Valid {
			v := numeric.Float64
			cell.Numeric = &v
		}
		idx, ok := byID[tableID]
		if !ok {
			continue
		}
		tables[idx].Cells = append(tables[idx].Cells, cell)
	}
	if err := cellRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cells: %w", err)
	}
	return tables, nil
}

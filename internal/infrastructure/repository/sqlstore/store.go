package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/kirillkom/thai-fin-ocr/internal/core/domain"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func ParseDialect(raw string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", domain.WrapError(domain.ErrInvalidInput, "parse db driver", fmt.Errorf("unsupported driver %q", raw))
	}
}

// OpenDB opens and pings the database. For sqlite, dsn is a file path or ":memory:".
func OpenDB(dialect Dialect, dsn string) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectPostgres:
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("sql open: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	case DialectSQLite:
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		db, err = sql.Open("sqlite", sqliteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("sql open: %w", err)
		}
		// One writer; also keeps an in-memory database alive between calls.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "open db", fmt.Errorf("unsupported dialect %q", dialect))
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func sqliteDSN(path string) string {
	const pragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if path == ":memory:" {
		return "file::memory:?" + pragmas
	}
	return "file:" + path + "?" + pragmas
}

// Store persists documents and their extracted tables. It is the only
// component that changes a document's status.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

var placeholderPattern = regexp.MustCompile(`\$(\d+)`)

// q rewrites $N placeholders into the dialect's numbered form.
func (s *Store) q(query string) string {
	if s.dialect == DialectSQLite {
		return placeholderPattern.ReplaceAllString(query, "?$1")
	}
	return query
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	ddl := sqliteSchema
	if s.dialect == DialectPostgres {
		// Serialize bootstrap DDL across api/worker startups.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101701)); err != nil {
			return fmt.Errorf("acquire schema lock: %w", err)
		}
		ddl = postgresSchema
	}

	for _, stmt := range strings.Split(ddl, ";\n") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema ddl: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	org_code TEXT NOT NULL,
	org_name TEXT NOT NULL,
	period TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL,
	file_path TEXT NOT NULL UNIQUE,
	file_name TEXT NOT NULL,
	file_hash TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	outcome TEXT NOT NULL DEFAULT '',
	page_count INTEGER,
	size_bytes BIGINT,
	error_message TEXT NOT NULL DEFAULT '',
	warnings JSONB NOT NULL DEFAULT '[]'::jsonb,
	full_text TEXT NOT NULL DEFAULT '',
	processed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_org_period ON documents(org_code, period);
CREATE TABLE IF NOT EXISTS extracted_tables (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	table_index INTEGER NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	headers JSONB NOT NULL DEFAULT '[]'::jsonb,
	row_count INTEGER NOT NULL,
	col_count INTEGER NOT NULL,
	markdown TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (document_id, table_index)
);
CREATE TABLE IF NOT EXISTS table_cells (
	table_id TEXT NOT NULL REFERENCES extracted_tables(id) ON DELETE CASCADE,
	row_index INTEGER NOT NULL,
	col_index INTEGER NOT NULL,
	value TEXT NOT NULL,
	kind TEXT NOT NULL,
	numeric_value DOUBLE PRECISION,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_header BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (table_id, row_index, col_index)
);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	org_code TEXT NOT NULL,
	org_name TEXT NOT NULL,
	period TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL,
	file_path TEXT NOT NULL UNIQUE,
	file_name TEXT NOT NULL,
	file_hash TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	outcome TEXT NOT NULL DEFAULT '',
	page_count INTEGER,
	size_bytes INTEGER,
	error_message TEXT NOT NULL DEFAULT '',
	warnings TEXT NOT NULL DEFAULT '[]',
	full_text TEXT NOT NULL DEFAULT '',
	processed_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_org_period ON documents(org_code, period);
CREATE TABLE IF NOT EXISTS extracted_tables (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	table_index INTEGER NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	headers TEXT NOT NULL DEFAULT '[]',
	row_count INTEGER NOT NULL,
	col_count INTEGER NOT NULL,
	markdown TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (document_id, table_index)
);
CREATE TABLE IF NOT EXISTS table_cells (
	table_id TEXT NOT NULL REFERENCES extracted_tables(id) ON DELETE CASCADE,
	row_index INTEGER NOT NULL,
	col_index INTEGER NOT NULL,
	value TEXT NOT NULL,
	kind TEXT NOT NULL,
	numeric_value REAL,
	confidence REAL NOT NULL DEFAULT 0,
	is_header INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (table_id, row_index, col_index)
);
`

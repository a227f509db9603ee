// Package taskstore provides parameterized read/write access to the
// operational task record table.
//
// The table is owned by the external operational system; this accessor only
// reads and writes fields through parameterized statements and never assumes
// exclusive ownership of the rows.
package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const instrumentationName = "github.com/opslinelabs/supportd/internal/taskstore"

// QueryError describes a failed statement: malformed query, connectivity
// loss, or constraint violation. The diagnostic engine captures it as
// evidence rather than propagating a fatal fault.
type QueryError struct {
	Detail string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("task store query failed: %s", e.Detail)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Result is the outcome of one statement: rows for reads, a rows-affected
// count for mutating statements.
type Result struct {
	// Rows holds the returned records, column name to value. Nil for
	// mutating statements.
	Rows []map[string]any

	// RowsAffected is set for mutating statements.
	RowsAffected int64

	// IsQuery is true when the statement returned a row set (possibly
	// empty).
	IsQuery bool
}

// Config configures the task store.
type Config struct {
	// Path is the SQLite database file path.
	Path string

	// Timeout bounds each statement (default 10s).
	Timeout time.Duration
}

// Store executes parameterized statements against the task table.
type Store struct {
	db     *sql.DB
	config Config
	logger *zap.Logger
	tracer trace.Tracer
	ownsDB bool
}

// Open opens (or creates) the task database and ensures the schema.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("task store path is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve task db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure task db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open task db: %w", err)
	}

	s := &Store{
		db:     db,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		ownsDB: true,
	}

	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// DB exposes the underlying handle so sibling stores (e.g. the escalation
// store) can share one database file.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db != nil && s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func (s *Store) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS task (
	order_id TEXT PRIMARY KEY,
	correlation_id TEXT UNIQUE,
	status TEXT,
	task_type TEXT,
	organisation_process_path TEXT,
	details TEXT,
	pending_with TEXT,
	rsu TEXT,
	operating_boundary_path TEXT,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	modified_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE INDEX IF NOT EXISTS idx_task_process_status ON task(organisation_process_path, status);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create task schema: %w", err)
	}
	return nil
}

// Execute runs one parameterized statement.
//
// Statements starting with SELECT (after leading whitespace) return rows;
// everything else returns a rows-affected count. Failures come back as a
// typed *QueryError so callers can carry them forward as evidence.
func (s *Store) Execute(ctx context.Context, query string, args ...any) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "taskstore.execute")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	isQuery := strings.HasPrefix(strings.ToLower(strings.TrimSpace(query)), "select")
	span.SetAttributes(attribute.Bool("is_query", isQuery))

	if isQuery {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, &QueryError{Detail: err.Error(), Err: err}
		}
		defer rows.Close()

		records, err := scanRows(rows)
		if err != nil {
			span.RecordError(err)
			return nil, &QueryError{Detail: err.Error(), Err: err}
		}

		span.SetAttributes(attribute.Int("row_count", len(records)))
		s.logger.Debug("task query executed", zap.Int("rows", len(records)))
		return &Result{Rows: records, IsQuery: true}, nil
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &QueryError{Detail: err.Error(), Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, &QueryError{Detail: err.Error(), Err: err}
	}

	span.SetAttributes(attribute.Int64("rows_affected", affected))
	s.logger.Debug("task statement executed", zap.Int64("rows_affected", affected))
	return &Result{RowsAffected: affected}, nil
}

// scanRows converts a row set into column-name-keyed records.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		record := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			// database/sql hands back []byte for TEXT; normalize to
			// string so evidence payloads serialize cleanly.
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			record[col] = v
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

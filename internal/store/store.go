// Package store is the structured-store boundary: it executes SQL against the
// supply chain SQLite database and returns keyed rows or a structured
// QueryError. Callers never see raw driver error strings.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"controltower/internal/logging"
)

// Row is a single result row keyed by column name. Results are always keyed,
// never positional: generated queries do not guarantee column order stability
// across regenerations.
type Row map[string]any

// ResultSet is the outcome of a successful query.
type ResultSet struct {
	Columns    []string
	Rows       []Row
	RowCount   int
	ExecutedAt time.Time
}

// Store wraps the SQLite database holding the supply chain tables.
type Store struct {
	db      *sql.DB
	timeout time.Duration
}

// Open opens (creating if needed) the database at path.
func Open(path string, timeout time.Duration) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Store{db: db, timeout: timeout}, nil
}

// OpenMemory opens an in-memory database. Used by tests and fixtures.
func OpenMemory() (*Store, error) {
	return Open(":memory:", 30*time.Second)
}

// DB exposes the underlying handle for fixture loading.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Execute runs a read query and returns keyed rows. On failure the returned
// error is always a *QueryError carrying classification, a translated
// message, and the offending identifier when extractable.
func (s *Store) Execute(ctx context.Context, query string) (*ResultSet, error) {
	log := logging.For(logging.CategoryStore)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		qe := Classify(err)
		log.Warnw("query failed", "class", qe.Class, "identifier", qe.Identifier, "elapsed", time.Since(start))
		return nil, qe
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, Classify(err)
	}

	result := &ResultSet{Columns: columns, ExecutedAt: time.Now().UTC()}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, Classify(err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(err)
	}

	result.RowCount = len(result.Rows)
	log.Debugw("query succeeded", "rows", result.RowCount, "elapsed", time.Since(start))
	return result, nil
}

// DistinctValues returns the distinct non-null values of one column, used to
// build candidate sets for entity resolution.
func (s *Store) DistinctValues(ctx context.Context, table, column string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	query := fmt.Sprintf(`SELECT DISTINCT "%s" FROM "%s" WHERE "%s" IS NOT NULL LIMIT %d`,
		column, table, column, limit)

	rs, err := s.Execute(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		if v, ok := row[column]; ok && v != nil {
			out = append(out, fmt.Sprintf("%v", v))
		}
	}
	return out, nil
}

// normalizeValue converts driver byte slices into strings so rows marshal
// cleanly and compare predictably.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

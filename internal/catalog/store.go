package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// catalogStore persists descriptors in SQLite with embeddings serialized as
// JSON. The whole catalog is loaded into memory at open; request-time
// retrieval never touches disk.
type catalogStore struct {
	db *sql.DB
}

func openCatalogStore(path string) (*catalogStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS descriptors (
		name TEXT PRIMARY KEY,
		descriptor TEXT NOT NULL,
		embedding TEXT NOT NULL,
		built_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}

	return &catalogStore{db: db}, nil
}

func (s *catalogStore) close() error {
	return s.db.Close()
}

// replaceAll swaps the entire descriptor set in one transaction. The catalog
// rebuild is wholesale and idempotent: running it twice on the same input
// yields the same stored set.
func (s *catalogStore) replaceAll(descriptors []SchemaDescriptor) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM descriptors`); err != nil {
		return fmt.Errorf("failed to clear catalog: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO descriptors (name, descriptor, embedding) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range descriptors {
		descJSON, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to serialize descriptor %s: %w", d.Name, err)
		}
		embJSON, err := json.Marshal(d.Embedding)
		if err != nil {
			return fmt.Errorf("failed to serialize embedding for %s: %w", d.Name, err)
		}
		if _, err := stmt.Exec(d.Name, string(descJSON), string(embJSON)); err != nil {
			return fmt.Errorf("failed to insert descriptor %s: %w", d.Name, err)
		}
	}

	return tx.Commit()
}

func (s *catalogStore) loadAll() ([]SchemaDescriptor, error) {
	rows, err := s.db.Query(`SELECT descriptor, embedding FROM descriptors ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	defer rows.Close()

	var out []SchemaDescriptor
	for rows.Next() {
		var descJSON, embJSON string
		if err := rows.Scan(&descJSON, &embJSON); err != nil {
			return nil, fmt.Errorf("failed to scan descriptor: %w", err)
		}
		var d SchemaDescriptor
		if err := json.Unmarshal([]byte(descJSON), &d); err != nil {
			return nil, fmt.Errorf("failed to parse descriptor: %w", err)
		}
		if err := json.Unmarshal([]byte(embJSON), &d.Embedding); err != nil {
			return nil, fmt.Errorf("failed to parse embedding: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

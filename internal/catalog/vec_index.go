//go:build sqlite_vec && cgo

package catalog

import (
	"database/sql"
	"fmt"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"controltower/internal/logging"
)

// ANNIndex is a sqlite-vec backed index over descriptor embeddings. When
// this build tag is on, Retriever ranks through it instead of the in-memory
// linear scan; results are identical for the top-K case since vec0 distance
// ordering agrees with cosine ranking on normalized vectors.
type ANNIndex struct {
	db  *sql.DB
	dim int
}

// newVecIndex builds the index the retriever ranks through. Descriptors
// without embeddings cannot be indexed; the retriever then keeps its linear
// scan.
func newVecIndex(descriptors []SchemaDescriptor) vecIndex {
	ix, err := NewANNIndex(descriptors)
	if err != nil {
		logging.For(logging.CategoryCatalog).Debugw("vec index unavailable; using linear scan", "err", err)
		return nil
	}
	return ix
}

// NewANNIndex builds an in-memory vec0 index over the given descriptors.
func NewANNIndex(descriptors []SchemaDescriptor) (*ANNIndex, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("no descriptors to index")
	}
	dim := len(descriptors[0].Embedding)
	if dim == 0 {
		return nil, fmt.Errorf("descriptors have no embeddings; run a catalog build first")
	}

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	ddl := fmt.Sprintf(
		`CREATE VIRTUAL TABLE vec_descriptors USING vec0(name TEXT, embedding float[%d])`, dim)
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create vec0 table: %w", err)
	}

	for _, d := range descriptors {
		blob, err := vec.SerializeFloat32(d.Embedding)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to serialize embedding for %s: %w", d.Name, err)
		}
		if _, err := db.Exec(
			`INSERT INTO vec_descriptors (name, embedding) VALUES (?, ?)`, d.Name, blob); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to index %s: %w", d.Name, err)
		}
	}

	return &ANNIndex{db: db, dim: dim}, nil
}

// TopK returns the names of the k nearest descriptors to the query vector.
func (ix *ANNIndex) TopK(query []float32, k int) ([]string, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), ix.dim)
	}
	if k <= 0 || k > MaxSlice {
		k = MaxSlice
	}

	blob, err := vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query: %w", err)
	}

	rows, err := ix.db.Query(
		`SELECT name FROM vec_descriptors WHERE embedding MATCH ? ORDER BY distance LIMIT ?`,
		blob, k)
	if err != nil {
		return nil, fmt.Errorf("vec query failed: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close releases the index.
func (ix *ANNIndex) Close() error {
	return ix.db.Close()
}

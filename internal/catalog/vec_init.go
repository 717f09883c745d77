//go:build sqlite_vec && cgo

package catalog

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver so
	// the ANN index can use vec0 virtual tables.
	vec.Auto()
}

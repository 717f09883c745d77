//go:build !sqlite_vec || !cgo

package catalog

// newVecIndex is a no-op without the sqlite_vec tag; ranking stays on the
// in-memory linear scan.
func newVecIndex([]SchemaDescriptor) vecIndex {
	return nil
}

//go:build sqlite_vec && cgo

package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestANNIndexTopK(t *testing.T) {
	ix, err := NewANNIndex(testDescriptors())
	require.NoError(t, err)
	defer ix.Close()

	names, err := ix.TopK([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, names, 2)
	assert.Equal(t, "available_inventory_report", names[0])

	// Oversized k clamps to the hard cap.
	names, err = ix.TopK([]float32{1, 0, 0}, 99)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(names), MaxSlice)
}

func TestANNIndexRejectsDimensionMismatch(t *testing.T) {
	ix, err := NewANNIndex(testDescriptors())
	require.NoError(t, err)
	defer ix.Close()

	_, err = ix.TopK([]float32{1, 0}, 3)
	require.Error(t, err)
}

func TestRetrieveRanksThroughIndex(t *testing.T) {
	o := &stubOracle{vectors: map[string][]float32{"inventory": {1, 0, 0}}}
	r := NewRetriever(o, testDescriptors(), 0.3)
	defer r.Close()

	require.NotNil(t, r.ann, "embedded descriptors must build an index under this tag")

	got, err := r.Retrieve(context.Background(), "inventory stock levels", MaxSlice)
	require.NoError(t, err)
	require.NotEmpty(t, got)

	// The index path honors the same ranking contract as the linear scan.
	assert.Equal(t, "available_inventory_report", got[0].Descriptor.Name)
	assert.LessOrEqual(t, len(got), MaxSlice)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Relevance, got[i].Relevance)
	}
	for _, s := range got {
		assert.GreaterOrEqual(t, s.Relevance, 0.3)
		assert.LessOrEqual(t, s.Relevance, 1.0)
	}
}

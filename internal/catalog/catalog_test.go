package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubOracle returns fixed vectors keyed by substring so tests are fully
// deterministic.
type stubOracle struct {
	vectors map[string][]float32
	fail    bool
}

func (s *stubOracle) Embed(_ context.Context, text string) ([]float32, error) {
	if s.fail {
		return nil, fmt.Errorf("oracle unreachable")
	}
	for key, vec := range s.vectors {
		if key != "" && contains(text, key) {
			return vec, nil
		}
	}
	return []float32{0, 0, 1}, nil
}

func (s *stubOracle) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (s *stubOracle) Generate(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("not a generation stub")
}

func (s *stubOracle) Name() string { return "stub" }

func contains(s, sub string) bool {
	return len(sub) > 0 && len(s) >= len(sub) && index(s, sub) >= 0
}

func index(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func testDescriptors() []SchemaDescriptor {
	return []SchemaDescriptor{
		{
			Name:      "available_inventory_report",
			Purpose:   "Current stock by trial, location and lot with expiry dates",
			Columns:   []Column{{Name: "lot", Type: "TEXT"}, {Name: "expiry_date", Type: "TEXT"}},
			Embedding: []float32{1, 0, 0},
		},
		{
			Name:      "enrollment_rate_report",
			Purpose:   "Monthly patient enrollment per trial and country",
			Columns:   []Column{{Name: "trial_alias", Type: "TEXT"}},
			Embedding: []float32{0.9, 0.1, 0},
		},
		{
			Name:      "ip_shipping_timelines_report",
			Purpose:   "Door-to-door shipping timelines per country",
			Columns:   []Column{{Name: "country_name", Type: "TEXT"}},
			Embedding: []float32{0, 1, 0},
		},
		{
			Name:      "re_evaluation",
			Purpose:   "Shelf-life re-evaluation request history per lot",
			Columns:   []Column{{Name: "lot_number", Type: "TEXT"}},
			Embedding: []float32{0.2, 0.9, 0},
		},
		{
			Name:      "rim",
			Purpose:   "Regulatory approvals by health authority",
			Columns:   []Column{{Name: "status_v", Type: "TEXT"}},
			Embedding: []float32{0, 0.5, 0.5},
		},
		{
			Name:      "purchase_requirement",
			Purpose:   "Open purchase requisitions per material and vendor",
			Columns:   []Column{{Name: "material", Type: "TEXT"}},
			Embedding: []float32{0.8, 0.2, 0},
		},
	}
}

func TestRetrieveRanksAndCaps(t *testing.T) {
	o := &stubOracle{vectors: map[string][]float32{"inventory": {1, 0, 0}}}
	r := NewRetriever(o, testDescriptors(), 0.3)

	got, err := r.Retrieve(context.Background(), "inventory stock levels", MaxSlice)
	require.NoError(t, err)
	require.NotEmpty(t, got)

	assert.LessOrEqual(t, len(got), MaxSlice)
	assert.Equal(t, "available_inventory_report", got[0].Descriptor.Name)

	// Non-increasing relevance.
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Relevance, got[i].Relevance)
	}
	// Normalized into [0, 1].
	for _, s := range got {
		assert.GreaterOrEqual(t, s.Relevance, 0.0)
		assert.LessOrEqual(t, s.Relevance, 1.0)
	}
}

func TestRetrieveHardCapNeverExceeded(t *testing.T) {
	// All six descriptors score above the floor for this query vector; the
	// cap must still hold.
	o := &stubOracle{vectors: map[string][]float32{"everything": {0.5, 0.5, 0.2}}}
	r := NewRetriever(o, testDescriptors(), 0.3)

	got, err := r.Retrieve(context.Background(), "everything about supply", 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got), MaxSlice)

	got, err = r.Retrieve(context.Background(), "everything about supply", 99)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got), MaxSlice)
}

func TestRetrieveFailsExplicitlyWhenOracleDown(t *testing.T) {
	r := NewRetriever(&stubOracle{fail: true}, testDescriptors(), 0.3)

	_, err := r.Retrieve(context.Background(), "inventory", 3)
	require.Error(t, err, "oracle failure must not silently fall back to an arbitrary subset")
}

func TestRetrieveEmptyCatalog(t *testing.T) {
	r := NewRetriever(&stubOracle{}, nil, 0.3)
	_, err := r.Retrieve(context.Background(), "anything", 3)
	require.Error(t, err)
}

func TestByNameBypass(t *testing.T) {
	r := NewRetriever(&stubOracle{}, testDescriptors(), 0.3)

	got := r.ByName("re_evaluation", "rim", "missing_table")
	require.Len(t, got, 2)
	assert.Equal(t, "re_evaluation", got[0].Descriptor.Name)
	assert.Equal(t, 1.0, got[0].Relevance)
}

func TestBuildAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.db")
	o := &stubOracle{vectors: map[string][]float32{
		"inventory":  {1, 0, 0},
		"enrollment": {0, 1, 0},
	}}

	specs := []SchemaDescriptor{
		{Name: "available_inventory_report", Purpose: "inventory stock", Columns: []Column{{Name: "lot", Type: "TEXT"}}},
		{Name: "enrollment_rate_report", Purpose: "enrollment per country", Columns: []Column{{Name: "country", Type: "TEXT"}}},
	}

	b := NewBuilder(o, path)
	require.NoError(t, b.Build(context.Background(), specs))

	// Rebuilding with the same input is idempotent.
	require.NoError(t, b.Build(context.Background(), specs))

	r, err := Open(path, o, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	got, err := r.Retrieve(context.Background(), "inventory levels", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "available_inventory_report", got[0].Descriptor.Name)
}

func TestLoadSpecsFromYAML(t *testing.T) {
	dir := t.TempDir()
	spec := `
tables:
  - table: available_inventory_report
    purpose: Current stock by trial and lot
    columns:
      - name: lot
        type: TEXT
        description: batch lot number
        examples: ["LOT-14364098"]
      - name: expiry_date
        type: TEXT
    joins:
      - "lot = batch_master.batch_number"
    example_queries:
      - "SELECT lot FROM available_inventory_report LIMIT 10"
  - table: batch_master
    purpose: Master data per manufactured batch
    columns:
      - name: batch_number
        type: TEXT
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inventory.yaml"), []byte(spec), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	specs, err := LoadSpecs(dir)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	// Sorted by table name.
	assert.Equal(t, "available_inventory_report", specs[0].Name)
	assert.Equal(t, "batch_master", specs[1].Name)
	assert.Len(t, specs[0].Columns, 2)
	assert.Equal(t, []string{"LOT-14364098"}, specs[0].Columns[0].Examples)
}

func TestPromptTextIncludesJoinsAndExamples(t *testing.T) {
	d := testDescriptors()[0]
	d.Joins = []string{"lot = batch_master.batch_number"}
	d.ExampleQueries = []string{"SELECT 1"}

	text := d.PromptText()
	assert.Contains(t, text, "TABLE available_inventory_report")
	assert.Contains(t, text, "JOINS:")
	assert.Contains(t, text, "EXAMPLE: SELECT 1")
}

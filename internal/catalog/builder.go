package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"controltower/internal/logging"
	"controltower/internal/oracle"
)

// Builder performs the offline catalog rebuild: it reads table specs from a
// directory of YAML files, embeds each descriptor via the oracle, and swaps
// the stored set wholesale. Never invoked mid-request.
type Builder struct {
	oracle oracle.Oracle
	path   string
}

// NewBuilder creates a catalog builder writing to the catalog database at
// path.
func NewBuilder(o oracle.Oracle, path string) *Builder {
	return &Builder{oracle: o, path: path}
}

// specFile is the YAML shape of one catalog input file. A file may hold one
// table or a list of tables.
type specFile struct {
	Tables []SchemaDescriptor `yaml:"tables"`
}

// LoadSpecs parses every .yaml/.yml file in dir into descriptors, sorted by
// table name so rebuilds are order-independent.
func LoadSpecs(dir string) ([]SchemaDescriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec directory: %w", err)
	}

	var out []SchemaDescriptor
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}

		var sf specFile
		if err := yaml.Unmarshal(data, &sf); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", e.Name(), err)
		}
		if len(sf.Tables) == 0 {
			// Allow a bare single-table document as well.
			var single SchemaDescriptor
			if err := yaml.Unmarshal(data, &single); err == nil && single.Name != "" {
				sf.Tables = append(sf.Tables, single)
			}
		}

		for _, d := range sf.Tables {
			if d.Name == "" {
				return nil, fmt.Errorf("%s: table spec missing name", e.Name())
			}
			out = append(out, d)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Build embeds the given descriptors and replaces the stored catalog. The
// operation is idempotent: identical specs and a deterministic oracle yield
// an identical catalog.
func (b *Builder) Build(ctx context.Context, descriptors []SchemaDescriptor) error {
	log := logging.For(logging.CategoryCatalog)

	if len(descriptors) == 0 {
		return fmt.Errorf("no descriptors to build")
	}

	texts := make([]string, len(descriptors))
	for i, d := range descriptors {
		texts[i] = d.EmbeddingText()
	}

	log.Infow("embedding catalog descriptors", "count", len(descriptors), "oracle", b.oracle.Name())
	embeddings, err := b.oracle.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("catalog build failed to embed descriptors: %w", err)
	}
	if len(embeddings) != len(descriptors) {
		return fmt.Errorf("oracle returned %d embeddings for %d descriptors", len(embeddings), len(descriptors))
	}
	for i := range descriptors {
		descriptors[i].Embedding = embeddings[i]
	}

	cs, err := openCatalogStore(b.path)
	if err != nil {
		return err
	}
	defer cs.close()

	if err := cs.replaceAll(descriptors); err != nil {
		return fmt.Errorf("catalog build failed to persist descriptors: %w", err)
	}

	log.Infow("catalog rebuilt", "descriptors", len(descriptors))
	return nil
}

// BuildFromDir loads specs from dir and builds the catalog from them.
func (b *Builder) BuildFromDir(ctx context.Context, dir string) (int, error) {
	specs, err := LoadSpecs(dir)
	if err != nil {
		return 0, err
	}
	if err := b.Build(ctx, specs); err != nil {
		return 0, err
	}
	return len(specs), nil
}

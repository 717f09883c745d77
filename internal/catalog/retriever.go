package catalog

import (
	"context"
	"fmt"
	"sort"

	"controltower/internal/logging"
	"controltower/internal/oracle"
)

// MaxSlice is the hard cap on descriptors per retrieval. Never exceeded,
// regardless of how many entries clear the similarity floor.
const MaxSlice = 5

// DefaultMinSimilarity filters descriptors below this normalized relevance.
const DefaultMinSimilarity = 0.3

// Retriever answers intent queries against the in-memory catalog. The
// catalog is read-only at request time; rebuilds go through Builder and a
// fresh Open.
type Retriever struct {
	oracle        oracle.Oracle
	entries       []SchemaDescriptor
	minSimilarity float64
	ann           vecIndex
}

// vecIndex is the optional sqlite-vec backed nearest-neighbor index,
// present only in builds with the sqlite_vec tag. Ranking falls back to the
// linear scan whenever it is absent or fails.
type vecIndex interface {
	TopK(query []float32, k int) ([]string, error)
	Close() error
}

// Open loads the catalog at path into memory and returns a retriever over it.
func Open(path string, o oracle.Oracle, minSimilarity float64) (*Retriever, error) {
	cs, err := openCatalogStore(path)
	if err != nil {
		return nil, err
	}
	defer cs.close()

	entries, err := cs.loadAll()
	if err != nil {
		return nil, err
	}
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}

	logging.For(logging.CategoryCatalog).Infow("catalog loaded", "descriptors", len(entries))
	return &Retriever{oracle: o, entries: entries, minSimilarity: minSimilarity, ann: newVecIndex(entries)}, nil
}

// NewRetriever builds a retriever over an in-memory descriptor set. Used by
// tests and by callers that construct catalogs programmatically.
func NewRetriever(o oracle.Oracle, entries []SchemaDescriptor, minSimilarity float64) *Retriever {
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}
	return &Retriever{oracle: o, entries: entries, minSimilarity: minSimilarity, ann: newVecIndex(entries)}
}

// Close releases the vector index, if one was built.
func (r *Retriever) Close() error {
	if r.ann != nil {
		return r.ann.Close()
	}
	return nil
}

// Len reports the number of catalog entries.
func (r *Retriever) Len() int {
	return len(r.entries)
}

// Entries returns the loaded descriptors, ordered by name.
func (r *Retriever) Entries() []SchemaDescriptor {
	return r.entries
}

// Retrieve returns up to maxResults descriptors ranked by descending
// relevance to intentText. Relevance is cosine similarity between the intent
// embedding and each precomputed descriptor embedding, normalized into
// [0, 1]. If the oracle is unreachable the retrieval fails explicitly;
// callers apply their own documented fallback.
func (r *Retriever) Retrieve(ctx context.Context, intentText string, maxResults int) ([]Scored, error) {
	log := logging.For(logging.CategoryCatalog)

	if maxResults <= 0 || maxResults > MaxSlice {
		maxResults = MaxSlice
	}
	if len(r.entries) == 0 {
		return nil, fmt.Errorf("catalog is empty; run a catalog build first")
	}

	queryVec, err := r.oracle.Embed(ctx, intentText)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	if r.ann != nil {
		scored, err := r.annRank(queryVec, maxResults)
		if err == nil {
			log.Debugw("retrieved schema slice via vec index", "intent", intentText, "results", len(scored))
			return scored, nil
		}
		log.Warnw("vec index lookup failed; falling back to linear scan", "err", err)
	}

	scored := make([]Scored, 0, len(r.entries))
	for _, d := range r.entries {
		sim, err := oracle.CosineSimilarity(queryVec, d.Embedding)
		if err != nil {
			log.Warnw("skipping descriptor with mismatched embedding", "table", d.Name, "err", err)
			continue
		}
		relevance := (sim + 1) / 2 // [-1,1] -> [0,1]
		if relevance < r.minSimilarity {
			continue
		}
		scored = append(scored, Scored{Descriptor: d, Relevance: relevance})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Relevance != scored[j].Relevance {
			return scored[i].Relevance > scored[j].Relevance
		}
		return scored[i].Descriptor.Name < scored[j].Descriptor.Name
	})

	if len(scored) > maxResults {
		scored = scored[:maxResults]
	}

	log.Debugw("retrieved schema slice", "intent", intentText, "results", len(scored))
	return scored, nil
}

// annRank ranks through the vector index: the index narrows to the top-K
// names, then relevance, the similarity floor, and the ordering contract are
// applied exactly as in the linear scan.
func (r *Retriever) annRank(queryVec []float32, maxResults int) ([]Scored, error) {
	names, err := r.ann.TopK(queryVec, maxResults)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]SchemaDescriptor, len(r.entries))
	for _, d := range r.entries {
		byName[d.Name] = d
	}

	scored := make([]Scored, 0, len(names))
	for _, name := range names {
		d, ok := byName[name]
		if !ok {
			continue
		}
		sim, err := oracle.CosineSimilarity(queryVec, d.Embedding)
		if err != nil {
			continue
		}
		relevance := (sim + 1) / 2
		if relevance < r.minSimilarity {
			continue
		}
		scored = append(scored, Scored{Descriptor: d, Relevance: relevance})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Relevance != scored[j].Relevance {
			return scored[i].Relevance > scored[j].Relevance
		}
		return scored[i].Descriptor.Name < scored[j].Descriptor.Name
	})
	if len(scored) > maxResults {
		scored = scored[:maxResults]
	}
	return scored, nil
}

// ByName returns descriptors for specific tables, bypassing semantic search.
// Used when an evaluator knows exactly which source it needs. The MaxSlice
// cap still applies.
func (r *Retriever) ByName(names ...string) []Scored {
	var out []Scored
	for _, name := range names {
		for _, d := range r.entries {
			if d.Name == name {
				out = append(out, Scored{Descriptor: d, Relevance: 1.0})
				break
			}
		}
	}
	if len(out) > MaxSlice {
		out = out[:MaxSlice]
	}
	return out
}

// Descriptors unwraps a scored slice for prompt building.
func Descriptors(scored []Scored) []SchemaDescriptor {
	out := make([]SchemaDescriptor, len(scored))
	for i, s := range scored {
		out[i] = s.Descriptor
	}
	return out
}

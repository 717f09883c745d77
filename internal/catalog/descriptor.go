// Package catalog maintains the schema descriptor catalog: one embedded
// descriptor per source table, built offline in batch and read-only at
// request time. Retrieval returns a bounded, relevance-ranked slice of
// descriptors for a query intent.
package catalog

import (
	"fmt"
	"strings"
)

// Column describes one column of a source table.
type Column struct {
	Name        string   `yaml:"name" json:"name"`
	Type        string   `yaml:"type" json:"type"`
	Description string   `yaml:"description" json:"description"`
	Examples    []string `yaml:"examples,omitempty" json:"examples,omitempty"`
}

// SchemaDescriptor is the catalog entry for one source table. Immutable after
// the catalog build; request-time code never mutates it.
type SchemaDescriptor struct {
	Name           string   `yaml:"table" json:"table"`
	Purpose        string   `yaml:"purpose" json:"purpose"`
	Columns        []Column `yaml:"columns" json:"columns"`
	Joins          []string `yaml:"joins,omitempty" json:"joins,omitempty"`
	ExampleQueries []string `yaml:"example_queries,omitempty" json:"example_queries,omitempty"`

	// Embedding is precomputed at build time from EmbeddingText.
	Embedding []float32 `yaml:"-" json:"-"`
}

// EmbeddingText is the text embedded for this descriptor: purpose plus column
// names and descriptions, which is what users' intents actually mention.
func (d SchemaDescriptor) EmbeddingText() string {
	var b strings.Builder
	b.WriteString(d.Name)
	b.WriteString(": ")
	b.WriteString(d.Purpose)
	for _, c := range d.Columns {
		b.WriteString("\n")
		b.WriteString(c.Name)
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(c.Description)
		}
	}
	return b.String()
}

// PromptText renders the descriptor for inclusion in a generation prompt.
func (d SchemaDescriptor) PromptText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "TABLE %s\nPURPOSE: %s\nCOLUMNS:\n", d.Name, d.Purpose)
	for _, c := range d.Columns {
		fmt.Fprintf(&b, "  %s %s", c.Name, c.Type)
		if c.Description != "" {
			fmt.Fprintf(&b, " -- %s", c.Description)
		}
		if len(c.Examples) > 0 {
			fmt.Fprintf(&b, " (e.g. %s)", strings.Join(c.Examples, ", "))
		}
		b.WriteString("\n")
	}
	if len(d.Joins) > 0 {
		fmt.Fprintf(&b, "JOINS: %s\n", strings.Join(d.Joins, "; "))
	}
	for _, q := range d.ExampleQueries {
		fmt.Fprintf(&b, "EXAMPLE: %s\n", q)
	}
	return b.String()
}

// Scored pairs a descriptor with its normalized relevance in [0, 1].
type Scored struct {
	Descriptor SchemaDescriptor
	Relevance  float64
}

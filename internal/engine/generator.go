package engine

import (
	"context"
	"fmt"
	"strings"

	"controltower/internal/catalog"
	"controltower/internal/oracle"
	"controltower/internal/store"
)

// Request carries everything the generator needs for one attempt. Attempt 1
// has no failure feedback; later attempts include the failed query, its
// classification, and all prior query texts so the regeneration can avoid
// repeating them.
type Request struct {
	Intent      string
	Slice       []catalog.SchemaDescriptor
	Attempt     int
	Failed      *store.QueryError
	FailedQuery string
	Prior       []string
}

// Generator produces one SQL statement per attempt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// OracleGenerator generates SQL through the Similarity Oracle's generation
// endpoint, constrained to the schema slice.
type OracleGenerator struct {
	oracle   oracle.Oracle
	rowLimit int
}

// NewOracleGenerator returns a generator backed by o. rowLimit bounds result
// sizes via the prompt; 0 means the default of 200.
func NewOracleGenerator(o oracle.Oracle, rowLimit int) *OracleGenerator {
	if rowLimit <= 0 {
		rowLimit = 200
	}
	return &OracleGenerator{oracle: o, rowLimit: rowLimit}
}

func (g *OracleGenerator) Generate(ctx context.Context, req Request) (string, error) {
	raw, err := g.oracle.Generate(ctx, g.prompt(req), schemaContext(req.Slice))
	if err != nil {
		return "", fmt.Errorf("query generation failed: %w", err)
	}
	return Sanitize(raw)
}

func (g *OracleGenerator) prompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write one SQLite SELECT statement answering: %s\n\n", req.Intent)
	b.WriteString("Rules:\n")
	b.WriteString("- Use ONLY tables and columns listed in the schema context.\n")
	b.WriteString("- Date columns are stored as TEXT in YYYY-MM-DD form; compare with date() casts.\n")
	fmt.Fprintf(&b, "- Include LIMIT %d unless aggregating.\n", g.rowLimit)
	b.WriteString("- Return the bare SQL statement, no commentary, no markdown.\n")

	if req.Failed != nil {
		b.WriteString("\nThe previous attempt failed. Produce a DIFFERENT statement.\n")
		fmt.Fprintf(&b, "Failed query: %s\n", req.FailedQuery)
		fmt.Fprintf(&b, "Failure [%s]: %s", req.Failed.Class, req.Failed.Message)
		if req.Failed.Identifier != "" {
			fmt.Fprintf(&b, " (offending identifier: %s)", req.Failed.Identifier)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "Fix: %s\n", req.Failed.Suggestion())
	}
	for _, p := range req.Prior {
		fmt.Fprintf(&b, "Already tried, do not repeat: %s\n", p)
	}
	return b.String()
}

func schemaContext(slice []catalog.SchemaDescriptor) string {
	parts := make([]string, len(slice))
	for i, d := range slice {
		parts[i] = d.PromptText()
	}
	return strings.Join(parts, "\n")
}

// Sanitize strips markdown fences and trailing semicolons from generated
// output and rejects anything that is not a read query.
func Sanitize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```sql")
		s = strings.TrimPrefix(s, "```")
		if i := strings.Index(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ";"))
	if s == "" {
		return "", fmt.Errorf("generator returned an empty statement")
	}

	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return "", fmt.Errorf("generator returned a non-read statement")
	}
	return s, nil
}

// Package engine runs the self-healing query loop: generate, execute,
// classify, regenerate. An explicit state machine with a bounded attempt
// counter, not nested error handlers, so the attempt cap and the attempt
// history are auditable in isolation.
package engine

import (
	"context"
	"fmt"
	"strings"

	"controltower/internal/catalog"
	"controltower/internal/logging"
	"controltower/internal/store"
)

// State is one phase of the per-request machine.
type State string

const (
	StateGenerating       State = "GENERATING"
	StateExecuting        State = "EXECUTING"
	StateSucceeded        State = "SUCCEEDED"
	StateAnalyzingFailure State = "ANALYZING_FAILURE"
	StateExhausted        State = "EXHAUSTED"
)

// MaxAttempts is the hard cap on generation attempts per logical request.
// Attempts beyond it are never created.
const MaxAttempts = 3

// Attempt is the audit record of one generation/execution cycle.
type Attempt struct {
	Number      int
	Query       string
	Succeeded   bool
	Failure     *store.QueryError
	SliceTables []string
}

// Result is the terminal success outcome.
type Result struct {
	Set      *store.ResultSet
	Query    string
	Attempts []Attempt
}

// ExhaustedError is the terminal failure outcome after MaxAttempts. It is
// the only failure shape the engine returns; raw store errors never escape.
type ExhaustedError struct {
	Class       store.FailureClass
	Summary     string
	Suggestion  string
	SlicesTried [][]string
	Attempts    []Attempt
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("query exhausted after %d attempts: %s", len(e.Attempts), e.Summary)
}

// Executor runs one statement against the structured store.
type Executor interface {
	Execute(ctx context.Context, query string) (*store.ResultSet, error)
}

// SliceProvider supplies an expanded schema slice before the final attempt.
type SliceProvider interface {
	Retrieve(ctx context.Context, intentText string, maxResults int) ([]catalog.Scored, error)
}

// Engine drives the retry loop. The loop is strictly sequential: attempt N+1
// needs the failure reason from attempt N.
type Engine struct {
	gen    Generator
	exec   Executor
	slices SliceProvider
}

// New builds an engine. slices may be nil; slice expansion before the final
// attempt is then skipped.
func New(gen Generator, exec Executor, slices SliceProvider) *Engine {
	return &Engine{gen: gen, exec: exec, slices: slices}
}

// Run executes the state machine for one logical request. On success it
// returns the keyed result set and the full attempt history; on terminal
// failure the error is an *ExhaustedError.
func (e *Engine) Run(ctx context.Context, intent string, slice []catalog.SchemaDescriptor) (*Result, error) {
	log := logging.For(logging.CategoryEngine)

	var (
		attempts    []Attempt
		slicesTried [][]string
		lastFailure *store.QueryError
		lastQuery   string
	)
	current := slice
	state := StateGenerating

	for n := 1; n <= MaxAttempts; n++ {
		if n == MaxAttempts && lastFailure != nil {
			current = e.expandSlice(ctx, intent, lastFailure, current)
		}
		tables := tableNames(current)
		slicesTried = append(slicesTried, tables)

		state = StateGenerating
		log.Debugw("generating query", "attempt", n, "state", state, "tables", tables)
		query, err := e.gen.Generate(ctx, Request{
			Intent:      intent,
			Slice:       current,
			Attempt:     n,
			Failed:      lastFailure,
			FailedQuery: lastQuery,
			Prior:       priorQueries(attempts),
		})
		if err != nil {
			// Classify so an expired oracle deadline lands in the timeout
			// class like any other timeout.
			qe := store.Classify(err)
			if qe.Class == store.FailureOther {
				qe.Message = "Query generation failed"
			}
			lastFailure = qe
			attempts = append(attempts, Attempt{Number: n, Failure: lastFailure, SliceTables: tables})
			state = StateAnalyzingFailure
			continue
		}

		// Regenerations must be textually different. An identical statement
		// would fail identically, so it is recorded but never executed.
		if isRepeat(query, attempts) {
			lastFailure = &store.QueryError{
				Class:   failureClassOr(lastFailure, store.FailureOther),
				Code:    "XX000",
				Message: "Regeneration repeated an already-failed query",
				Raw:     query,
			}
			attempts = append(attempts, Attempt{Number: n, Query: query, Failure: lastFailure, SliceTables: tables})
			state = StateAnalyzingFailure
			log.Warnw("regeneration repeated a prior query", "attempt", n)
			continue
		}
		lastQuery = query

		state = StateExecuting
		rs, err := e.exec.Execute(ctx, query)
		if err == nil {
			attempts = append(attempts, Attempt{Number: n, Query: query, Succeeded: true, SliceTables: tables})
			state = StateSucceeded
			log.Infow("query succeeded", "attempt", n, "rows", rs.RowCount)
			return &Result{Set: rs, Query: query, Attempts: attempts}, nil
		}

		state = StateAnalyzingFailure
		qe, ok := err.(*store.QueryError)
		if !ok {
			qe = store.Classify(err)
		}
		lastFailure = qe
		attempts = append(attempts, Attempt{Number: n, Query: query, Failure: qe, SliceTables: tables})
		log.Warnw("attempt failed", "attempt", n, "class", qe.Class, "identifier", qe.Identifier)
	}

	state = StateExhausted
	log.Errorw("query exhausted", "attempts", len(attempts), "class", lastFailure.Class, "state", state)
	return nil, &ExhaustedError{
		Class:       lastFailure.Class,
		Summary:     lastFailure.Error(),
		Suggestion:  lastFailure.Suggestion(),
		SlicesTried: slicesTried,
		Attempts:    attempts,
	}
}

// expandSlice widens the schema slice before the final attempt: it
// re-retrieves at the full cap with the intent broadened by the offending
// identifier, then unions the result with the current slice. Retrieval
// failure here is non-fatal; the current slice is kept.
func (e *Engine) expandSlice(ctx context.Context, intent string, failure *store.QueryError, current []catalog.SchemaDescriptor) []catalog.SchemaDescriptor {
	if e.slices == nil {
		return current
	}
	log := logging.For(logging.CategoryEngine)

	broadened := intent
	if failure.Identifier != "" {
		broadened = intent + " " + failure.Identifier
	}
	scored, err := e.slices.Retrieve(ctx, broadened, catalog.MaxSlice)
	if err != nil {
		log.Warnw("slice expansion failed; keeping current slice", "err", err)
		return current
	}

	seen := make(map[string]bool, len(current))
	merged := append([]catalog.SchemaDescriptor(nil), current...)
	for _, d := range current {
		seen[d.Name] = true
	}
	for _, s := range scored {
		if len(merged) >= catalog.MaxSlice {
			break
		}
		if !seen[s.Descriptor.Name] {
			merged = append(merged, s.Descriptor)
			seen[s.Descriptor.Name] = true
		}
	}
	log.Debugw("expanded schema slice", "before", len(current), "after", len(merged))
	return merged
}

func tableNames(slice []catalog.SchemaDescriptor) []string {
	out := make([]string, len(slice))
	for i, d := range slice {
		out[i] = d.Name
	}
	return out
}

func priorQueries(attempts []Attempt) []string {
	var out []string
	for _, a := range attempts {
		if a.Query != "" {
			out = append(out, a.Query)
		}
	}
	return out
}

func isRepeat(query string, attempts []Attempt) bool {
	for _, a := range attempts {
		if a.Query != "" && strings.TrimSpace(a.Query) == strings.TrimSpace(query) {
			return true
		}
	}
	return false
}

func failureClassOr(qe *store.QueryError, fallback store.FailureClass) store.FailureClass {
	if qe != nil {
		return qe.Class
	}
	return fallback
}

// Package orchestrator wires one request through the pipeline: classify has
// already happened; this package resolves entities, retrieves the schema
// slice, fans out to the domain evaluators, and hands the merged findings to
// synthesis. Ambiguous or unconfirmed requests dispatch nothing.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"controltower/internal/catalog"
	"controltower/internal/engine"
	"controltower/internal/evaluator"
	"controltower/internal/logging"
	"controltower/internal/resolve"
	"controltower/internal/router"
)

// SliceProvider is the retrieval capability. Satisfied by *catalog.Retriever.
type SliceProvider interface {
	Retrieve(ctx context.Context, intentText string, maxResults int) ([]catalog.Scored, error)
	ByName(names ...string) []catalog.Scored
}

// CandidateSource supplies canonical values for entity resolution. Satisfied
// by *store.Store.
type CandidateSource interface {
	DistinctValues(ctx context.Context, table, column string, limit int) ([]string, error)
}

// QueryEngine is the self-healing query loop. Satisfied by *engine.Engine.
type QueryEngine interface {
	Run(ctx context.Context, intent string, slice []catalog.SchemaDescriptor) (*engine.Result, error)
}

// Config assembles an orchestrator.
type Config struct {
	Resolver   *resolve.Resolver
	Slices     SliceProvider
	Querier    evaluator.Querier
	Candidates CandidateSource
	Engine     QueryEngine
	Evaluators []evaluator.Evaluator
	Now        func() time.Time

	// MaxSlice caps how many descriptors each retrieval requests. Clamped
	// to the catalog hard cap; zero means the hard cap.
	MaxSlice int
}

// Outcome is the result of one orchestrated request. Exactly one of the
// clarification fields or the findings is meaningful: a request needing
// clarification never ran anything.
type Outcome struct {
	Route             router.Route
	Entities          map[string]string
	Applied           []resolve.Candidate
	NeedsConfirmation *resolve.Candidate
	Clarify           string
	Findings          []evaluator.Finding
	Incomplete        map[string]error
}

// Orchestrator coordinates the per-request pipeline.
type Orchestrator struct {
	resolver   *resolve.Resolver
	slices     SliceProvider
	querier    evaluator.Querier
	candidates CandidateSource
	engine     QueryEngine
	evaluators map[string]evaluator.Evaluator
	now        func() time.Time
	maxSlice   int
}

func New(cfg Config) *Orchestrator {
	evs := make(map[string]evaluator.Evaluator, len(cfg.Evaluators))
	for _, e := range cfg.Evaluators {
		evs[e.Name()] = e
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	maxSlice := cfg.MaxSlice
	if maxSlice <= 0 || maxSlice > catalog.MaxSlice {
		maxSlice = catalog.MaxSlice
	}
	return &Orchestrator{
		resolver:   cfg.Resolver,
		slices:     cfg.Slices,
		querier:    cfg.Querier,
		candidates: cfg.Candidates,
		engine:     cfg.Engine,
		evaluators: evs,
		now:        now,
		maxSlice:   maxSlice,
	}
}

// Canonical-value sources per entity kind, used to build resolver candidate
// sets.
var candidateSources = map[resolve.EntityKind]struct{ table, column string }{
	resolve.KindBatch:    {"batch_master", "batch_number"},
	resolve.KindMaterial: {"allocated_materials_to_orders", "material_component"},
	resolve.KindTrial:    {"enrollment_rate_report", "trial_alias"},
	resolve.KindCountry:  {"ip_shipping_timelines_report", "country_name"},
}

// Fallback slice when the oracle is unreachable: a small fixed set of core
// report tables, fetched by name.
var fallbackTables = []string{
	"available_inventory_report",
	"allocated_materials_to_orders",
	"batch_master",
	"enrollment_rate_report",
	"ip_shipping_timelines_report",
}

// Evaluators that consume upstream findings run after the concurrent
// producer stage.
var consumerEvaluators = map[string]bool{"logistics": true}

// Execute runs one classified request end to end. An ambiguous route or a
// low-confidence resolution returns immediately with a clarification; no
// evaluator or query is ever started for it.
func (o *Orchestrator) Execute(ctx context.Context, route router.Route) (*Outcome, error) {
	log := logging.For(logging.CategoryRouter)

	if route.Ambiguous {
		log.Infow("ambiguous request; nothing dispatched", "clarify", route.Clarify)
		return &Outcome{Route: route, Clarify: route.Clarify}, nil
	}

	outcome := &Outcome{Route: route, Incomplete: make(map[string]error)}
	if err := o.resolveEntities(ctx, route, outcome); err != nil {
		return nil, err
	}
	if outcome.NeedsConfirmation != nil {
		return outcome, nil
	}

	slice := o.schemaSlice(ctx, route.Intent)

	if route.Mode == router.ModeInteractive && route.Subkind == router.SubkindGeneral && o.engine != nil {
		o.generalQuery(ctx, route.Intent, slice, outcome)
		return outcome, nil
	}

	o.dispatch(ctx, route, slice, outcome)
	return outcome, nil
}

// resolveEntities canonicalizes the route's raw entity mentions. The first
// low-confidence candidate aborts resolution and asks for confirmation.
func (o *Orchestrator) resolveEntities(ctx context.Context, route router.Route, outcome *Outcome) error {
	log := logging.For(logging.CategoryResolver)
	outcome.Entities = make(map[string]string)

	kinds := make([]string, 0, len(route.Entities))
	for kind := range route.Entities {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		mentions := route.Entities[kind]
		if len(mentions) == 0 {
			continue
		}
		raw := mentions[0]
		src, known := candidateSources[resolve.EntityKind(kind)]
		if !known {
			outcome.Entities[kind] = raw
			continue
		}

		candidates, err := o.candidates.DistinctValues(ctx, src.table, src.column, 500)
		if err != nil {
			log.Warnw("candidate set unavailable; using raw value", "kind", kind, "err", err)
			outcome.Entities[kind] = raw
			continue
		}

		cand := o.resolver.Resolve(raw, candidates, resolve.EntityKind(kind))
		if cand.RequiresConfirmation {
			outcome.NeedsConfirmation = &cand
			outcome.Clarify = confirmationQuestion(cand)
			log.Infow("resolution needs confirmation; nothing dispatched",
				"raw", raw, "tier", cand.Tier, "confidence", cand.Confidence)
			return nil
		}
		outcome.Applied = append(outcome.Applied, cand)
		outcome.Entities[kind] = cand.Canonical
	}
	return nil
}

func confirmationQuestion(c resolve.Candidate) string {
	if c.Tier == resolve.TierNone {
		if len(c.Alternatives) == 0 {
			return fmt.Sprintf("No %s matching %q is on record.", c.Kind, c.RawInput)
		}
		return fmt.Sprintf("No confident match for %s %q. Closest values: %s.",
			c.Kind, c.RawInput, strings.Join(c.Alternatives, ", "))
	}
	return fmt.Sprintf("Did you mean %s %q for %q? Other candidates: %s.",
		c.Kind, c.Canonical, c.RawInput, strings.Join(c.Alternatives, ", "))
}

// schemaSlice retrieves the slice for the intent, falling back to the fixed
// core tables when retrieval is unavailable.
func (o *Orchestrator) schemaSlice(ctx context.Context, intent string) []catalog.SchemaDescriptor {
	if o.slices == nil {
		return nil
	}
	scored, err := o.slices.Retrieve(ctx, intent, o.maxSlice)
	if err != nil {
		logging.For(logging.CategoryCatalog).Warnw("retrieval unavailable; using fallback slice", "err", err)
		return catalog.Descriptors(o.slices.ByName(fallbackTables...))
	}
	return catalog.Descriptors(scored)
}

// dispatch fans out to the route's evaluators. Producers run concurrently;
// consumers run afterwards with the producers' findings as upstream input.
// Findings merge in invocation order regardless of completion order, and one
// evaluator's failure never blocks its siblings: it is recorded as an
// incomplete check instead.
func (o *Orchestrator) dispatch(ctx context.Context, route router.Route, slice []catalog.SchemaDescriptor, outcome *Outcome) {
	log := logging.For(logging.CategoryEvaluator)
	now := o.now()

	var producers, consumers []string
	for _, name := range route.Evaluators {
		if consumerEvaluators[name] {
			consumers = append(consumers, name)
		} else {
			producers = append(producers, name)
		}
	}

	results := make([][]evaluator.Finding, len(producers))
	errs := make([]error, len(producers))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range producers {
		ev, ok := o.evaluators[name]
		if !ok {
			errs[i] = fmt.Errorf("no evaluator registered as %q", name)
			continue
		}
		i, ev := i, ev
		g.Go(func() error {
			findings, err := ev.Evaluate(gctx, o.querier, evaluator.Request{
				Entities: outcome.Entities,
				Subkind:  string(route.Subkind),
				Slice:    slice,
				Now:      now,
			})
			results[i], errs[i] = findings, err
			return nil
		})
	}
	_ = g.Wait()

	var upstream []evaluator.Finding
	for i, name := range producers {
		if errs[i] != nil {
			outcome.Incomplete[name] = errs[i]
			log.Warnw("evaluator incomplete", "evaluator", name, "err", errs[i])
			continue
		}
		outcome.Findings = append(outcome.Findings, results[i]...)
		upstream = append(upstream, results[i]...)
	}

	for _, name := range consumers {
		ev, ok := o.evaluators[name]
		if !ok {
			outcome.Incomplete[name] = fmt.Errorf("no evaluator registered as %q", name)
			continue
		}
		findings, err := ev.Evaluate(ctx, o.querier, evaluator.Request{
			Entities: outcome.Entities,
			Subkind:  string(route.Subkind),
			Slice:    slice,
			Upstream: upstream,
			Now:      now,
		})
		if err != nil {
			outcome.Incomplete[name] = err
			log.Warnw("evaluator incomplete", "evaluator", name, "err", err)
			continue
		}
		outcome.Findings = append(outcome.Findings, findings...)
	}
}

// generalQuery answers an open question through the self-healing engine and
// wraps the keyed rows as one cited finding. An exhausted query becomes an
// incomplete check, never a raw error string.
func (o *Orchestrator) generalQuery(ctx context.Context, intent string, slice []catalog.SchemaDescriptor, outcome *Outcome) {
	res, err := o.engine.Run(ctx, intent, slice)
	if err != nil {
		outcome.Incomplete["query"] = err
		return
	}

	asOf := res.Set.ExecutedAt
	citations := make([]evaluator.Citation, 0, len(slice))
	for _, d := range slice {
		citations = append(citations, evaluator.Citation{
			Source: d.Name, Field: "*", Value: fmt.Sprintf("%d row(s)", res.Set.RowCount), AsOf: asOf,
		})
	}
	if len(citations) == 0 {
		citations = []evaluator.Citation{{Source: "structured store", Field: "*",
			Value: fmt.Sprintf("%d row(s)", res.Set.RowCount), AsOf: asOf}}
	}

	finding := evaluator.Finding{
		Evaluator: "query",
		Kind:      "query-result",
		Key:       intent,
		Payload: map[string]any{
			"columns": res.Set.Columns,
			"rows":    res.Set.Rows,
			"query":   res.Query,
		},
		Citations: citations,
		NotFound:  res.Set.RowCount == 0,
	}
	outcome.Findings = append(outcome.Findings, finding)
}

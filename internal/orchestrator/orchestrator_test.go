package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"controltower/internal/catalog"
	"controltower/internal/engine"
	"controltower/internal/evaluator"
	"controltower/internal/resolve"
	"controltower/internal/router"
	"controltower/internal/session"
)

func TestMain(m *testing.M) {
	// go.opencensus.io starts a worker goroutine in package init (via a
	// transitive dependency); it is not stoppable from here, so exclude it.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// stubEval is a scriptable evaluator. waitFor, when set, blocks evaluation
// until the channel closes, letting tests force completion order.
type stubEval struct {
	name     string
	findings []evaluator.Finding
	err      error
	calls    int32
	waitFor  chan struct{}
	signal   chan struct{}
	gotReq   evaluator.Request
}

func (s *stubEval) Name() string { return s.name }

func (s *stubEval) Evaluate(ctx context.Context, _ evaluator.Querier, req evaluator.Request) ([]evaluator.Finding, error) {
	atomic.AddInt32(&s.calls, 1)
	s.gotReq = req
	if s.waitFor != nil {
		select {
		case <-s.waitFor:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.signal != nil {
		close(s.signal)
	}
	return s.findings, s.err
}

type stubCandidates struct {
	values map[string][]string
}

func (s *stubCandidates) DistinctValues(_ context.Context, table, column string, _ int) ([]string, error) {
	key := table + "." + column
	if v, ok := s.values[key]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("no fixture for %s", key)
}

type stubSlices struct {
	fail      bool
	retrieved []catalog.Scored
	named     []catalog.Scored
}

func (s *stubSlices) Retrieve(context.Context, string, int) ([]catalog.Scored, error) {
	if s.fail {
		return nil, fmt.Errorf("oracle unreachable")
	}
	return s.retrieved, nil
}

func (s *stubSlices) ByName(...string) []catalog.Scored { return s.named }

// recordingSlices additionally captures the requested result cap.
type recordingSlices struct {
	stubSlices
	gotMax int
}

func (s *recordingSlices) Retrieve(ctx context.Context, intent string, max int) ([]catalog.Scored, error) {
	s.gotMax = max
	return s.stubSlices.Retrieve(ctx, intent, max)
}

func cited(evalName, key string) evaluator.Finding {
	return evaluator.Finding{
		Evaluator: evalName,
		Kind:      evaluator.KindStockLevel,
		Key:       key,
		Citations: []evaluator.Citation{{Source: "fixture", Field: "f", Value: "v", AsOf: time.Unix(0, 0).UTC()}},
	}
}

func newTestOrchestrator(evals []evaluator.Evaluator, slices SliceProvider) *Orchestrator {
	return New(Config{
		Resolver:   resolve.New(session.New()),
		Slices:     slices,
		Candidates: &stubCandidates{values: map[string][]string{
			"batch_master.batch_number":                  {"LOT-14364098", "LOT-14364099"},
			"ip_shipping_timelines_report.country_name":  {"Germany", "Spain"},
			"enrollment_rate_report.trial_alias":         {"CT-2024-DPT"},
			"allocated_materials_to_orders.material_component": {"MAT-001"},
		}},
		Evaluators: evals,
		Now:        func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) },
	})
}

func TestAmbiguousRouteDispatchesNothing(t *testing.T) {
	inv := &stubEval{name: "inventory"}
	o := newTestOrchestrator([]evaluator.Evaluator{inv}, &stubSlices{})

	route := router.Classify("Can we extend the shelf-life for Germany?")
	require.True(t, route.Ambiguous)

	outcome, err := o.Execute(context.Background(), route)
	require.NoError(t, err)
	assert.NotEmpty(t, outcome.Clarify)
	assert.Empty(t, outcome.Findings)
	assert.Zero(t, atomic.LoadInt32(&inv.calls), "cancellation is never-started, not started-then-aborted")
}

func TestLowConfidenceResolutionDispatchesNothing(t *testing.T) {
	inv := &stubEval{name: "inventory"}
	o := newTestOrchestrator([]evaluator.Evaluator{inv}, &stubSlices{})

	route := router.Route{
		Mode:       router.ModeInteractive,
		Subkind:    router.SubkindInventory,
		Intent:     "Inventory level inquiry",
		Evaluators: []string{"inventory"},
		Entities:   map[string][]string{"batch": {"LOT-99999999"}},
	}
	outcome, err := o.Execute(context.Background(), route)
	require.NoError(t, err)
	require.NotNil(t, outcome.NeedsConfirmation)
	assert.True(t, outcome.NeedsConfirmation.RequiresConfirmation)
	assert.NotEmpty(t, outcome.Clarify)
	assert.Zero(t, atomic.LoadInt32(&inv.calls))
}

func TestResolvedEntitiesReachEvaluators(t *testing.T) {
	inv := &stubEval{name: "inventory", findings: []evaluator.Finding{cited("inventory", "a")}}
	o := newTestOrchestrator([]evaluator.Evaluator{inv}, &stubSlices{})

	route := router.Route{
		Mode:       router.ModeInteractive,
		Subkind:    router.SubkindInventory,
		Intent:     "Inventory level inquiry",
		Evaluators: []string{"inventory"},
		Entities:   map[string][]string{"batch": {"lot 14364098"}},
	}
	outcome, err := o.Execute(context.Background(), route)
	require.NoError(t, err)
	assert.Nil(t, outcome.NeedsConfirmation)
	assert.Equal(t, "LOT-14364098", outcome.Entities["batch"], "punctuation-normalized match resolves without confirmation")
	assert.Equal(t, "LOT-14364098", inv.gotReq.Entities["batch"])
	assert.Equal(t, string(router.SubkindInventory), inv.gotReq.Subkind)
}

func TestConfiguredSliceCapReachesRetrieval(t *testing.T) {
	slices := &recordingSlices{}
	inv := &stubEval{name: "inventory", findings: []evaluator.Finding{cited("inventory", "a")}}
	o := New(Config{
		Resolver:   resolve.New(session.New()),
		Slices:     slices,
		Candidates: &stubCandidates{},
		Evaluators: []evaluator.Evaluator{inv},
		MaxSlice:   2,
	})

	route := router.Route{
		Mode:       router.ModeInteractive,
		Subkind:    router.SubkindInventory,
		Intent:     "Inventory level inquiry",
		Evaluators: []string{"inventory"},
	}
	_, err := o.Execute(context.Background(), route)
	require.NoError(t, err)
	assert.Equal(t, 2, slices.gotMax, "the configured cap reaches retrieval")

	// Zero and oversized configs clamp to the hard cap.
	for _, bad := range []int{0, 99} {
		slices := &recordingSlices{}
		o := New(Config{
			Resolver:   resolve.New(session.New()),
			Slices:     slices,
			Candidates: &stubCandidates{},
			Evaluators: []evaluator.Evaluator{inv},
			MaxSlice:   bad,
		})
		_, err := o.Execute(context.Background(), route)
		require.NoError(t, err)
		assert.Equal(t, catalog.MaxSlice, slices.gotMax)
	}
}

func TestFindingsMergeInInvocationOrder(t *testing.T) {
	// demand finishes first; inventory waits for it. Merged findings must
	// still follow invocation order, not completion order.
	demandDone := make(chan struct{})
	inv := &stubEval{name: "inventory", findings: []evaluator.Finding{cited("inventory", "inv-1")}, waitFor: demandDone}
	dem := &stubEval{name: "demand", findings: []evaluator.Finding{cited("demand", "dem-1")}, signal: demandDone}
	o := newTestOrchestrator([]evaluator.Evaluator{inv, dem}, &stubSlices{})

	route := router.Route{
		Mode:       router.ModeAutonomous,
		Intent:     "Autonomous supply risk scan",
		Evaluators: []string{"inventory", "demand"},
	}
	outcome, err := o.Execute(context.Background(), route)
	require.NoError(t, err)
	require.Len(t, outcome.Findings, 2)
	assert.Equal(t, "inventory", outcome.Findings[0].Evaluator)
	assert.Equal(t, "demand", outcome.Findings[1].Evaluator)
}

func TestConsumerReceivesProducerFindings(t *testing.T) {
	expiry := evaluator.Finding{
		Evaluator: "inventory",
		Kind:      evaluator.KindStockLevel,
		Key:       "stock",
		Payload:   evaluator.StockLevel{BatchID: "LOT-14364098", ExpiryDate: "2025-06-20"},
		Citations: []evaluator.Citation{{Source: "available_inventory_report", Field: "expiry_date", Value: "2025-06-20", AsOf: time.Unix(0, 0)}},
	}
	inv := &stubEval{name: "inventory", findings: []evaluator.Finding{expiry}}
	tech := &stubEval{name: "technical", findings: []evaluator.Finding{cited("technical", "t")}}
	reg := &stubEval{name: "regulatory", findings: []evaluator.Finding{cited("regulatory", "r")}}
	logi := &stubEval{name: "logistics", findings: []evaluator.Finding{cited("logistics", "l")}}
	o := newTestOrchestrator([]evaluator.Evaluator{inv, tech, reg, logi}, &stubSlices{})

	route := router.Classify("Can we extend the shelf-life of LOT-14364098 for Germany?")
	require.False(t, route.Ambiguous)

	outcome, err := o.Execute(context.Background(), route)
	require.NoError(t, err)

	require.NotEmpty(t, logi.gotReq.Upstream, "logistics runs after producers and sees their findings")
	found := false
	for _, f := range logi.gotReq.Upstream {
		if sl, ok := f.Payload.(evaluator.StockLevel); ok && sl.ExpiryDate == "2025-06-20" {
			found = true
		}
	}
	assert.True(t, found, "upstream carries the inventory expiry date")

	// Merge order follows the dispatch table.
	require.Len(t, outcome.Findings, 4)
	assert.Equal(t, "inventory", outcome.Findings[0].Evaluator)
	assert.Equal(t, "logistics", outcome.Findings[3].Evaluator)
}

func TestIncompleteEvaluatorDoesNotBlockSiblings(t *testing.T) {
	inv := &stubEval{name: "inventory", err: fmt.Errorf("query exhausted after 3 attempts: Syntax error in SQL query")}
	dem := &stubEval{name: "demand", findings: []evaluator.Finding{cited("demand", "d")}}
	o := newTestOrchestrator([]evaluator.Evaluator{inv, dem}, &stubSlices{})

	route := router.Route{
		Mode:       router.ModeAutonomous,
		Intent:     "Autonomous supply risk scan",
		Evaluators: []string{"inventory", "demand"},
	}
	outcome, err := o.Execute(context.Background(), route)
	require.NoError(t, err)
	require.Len(t, outcome.Findings, 1)
	assert.Equal(t, "demand", outcome.Findings[0].Evaluator)
	require.Contains(t, outcome.Incomplete, "inventory")
}

func TestFallbackSliceWhenRetrievalUnavailable(t *testing.T) {
	named := []catalog.Scored{{Descriptor: catalog.SchemaDescriptor{Name: "available_inventory_report"}, Relevance: 1.0}}
	inv := &stubEval{name: "inventory", findings: []evaluator.Finding{cited("inventory", "a")}}
	o := newTestOrchestrator([]evaluator.Evaluator{inv}, &stubSlices{fail: true, named: named})

	route := router.Route{
		Mode:       router.ModeInteractive,
		Subkind:    router.SubkindInventory,
		Intent:     "Inventory level inquiry",
		Evaluators: []string{"inventory"},
	}
	_, err := o.Execute(context.Background(), route)
	require.NoError(t, err)
	require.Len(t, inv.gotReq.Slice, 1, "retrieval failure falls back to the fixed core slice")
	assert.Equal(t, "available_inventory_report", inv.gotReq.Slice[0].Name)
}

// exhaustedEngine simulates a general query that never recovers.
type exhaustedEngine struct{}

func (exhaustedEngine) Run(context.Context, string, []catalog.SchemaDescriptor) (*engine.Result, error) {
	return nil, &engine.ExhaustedError{Summary: "Syntax error in SQL query", Suggestion: "Review SQL syntax"}
}

func TestGeneralQueryExhaustionIsIncomplete(t *testing.T) {
	o := New(Config{
		Resolver:   resolve.New(session.New()),
		Slices:     &stubSlices{},
		Candidates: &stubCandidates{},
		Engine:     exhaustedEngine{},
	})
	route := router.Route{
		Mode:       router.ModeInteractive,
		Subkind:    router.SubkindGeneral,
		Intent:     "General supply chain inquiry",
		Evaluators: []string{"inventory"},
	}
	outcome, err := o.Execute(context.Background(), route)
	require.NoError(t, err)
	assert.Empty(t, outcome.Findings)
	require.Contains(t, outcome.Incomplete, "query")
}

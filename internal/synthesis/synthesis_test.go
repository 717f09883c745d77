package synthesis

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"controltower/internal/evaluator"
)

var (
	t1 = time.Date(2025, 5, 30, 10, 0, 0, 0, time.UTC)
	t2 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
)

func citedStock(key string, qty float64, asOf time.Time, source string) evaluator.Finding {
	return evaluator.Finding{
		Evaluator: "inventory",
		Kind:      evaluator.KindStockLevel,
		Key:       key,
		Payload:   evaluator.StockLevel{Material: "Metformin 500mg Tablets", Location: "Berlin Depot", Quantity: qty, Unit: "packages"},
		Citations: []evaluator.Citation{{Source: source, Field: "quantity", Value: fmt.Sprintf("%v", qty), AsOf: asOf}},
	}
}

func TestValidateFlagsUncitedFindings(t *testing.T) {
	findings := []evaluator.Finding{
		citedStock("k", 500, t1, "available_inventory_report"),
		{Evaluator: "inventory", Kind: evaluator.KindStockLevel, Key: "k2"},
	}
	valid, flagged := Validate(findings)
	require.Len(t, valid, 1)
	require.Len(t, flagged, 1, "an uncited finding is rejected, not discarded")
	assert.Equal(t, "k2", flagged[0].Key)
}

func TestConflictSurfacesBothValues(t *testing.T) {
	key := "current stock of Metformin 500mg Tablets at Berlin Depot"
	findings := []evaluator.Finding{
		citedStock(key, 500, t1, "available_inventory_report"),
		citedStock(key, 450, t2, "allocated_materials_to_orders"),
	}

	conflicts := DetectConflicts(findings)
	require.Len(t, conflicts, 1)

	c := conflicts[0]
	assert.Equal(t, key, c.Key)
	require.Len(t, c.Values, 2, "both values survive; no implicit winner")
	assert.Equal(t, "500 packages", c.Values[0].Value)
	assert.Equal(t, "450 packages", c.Values[1].Value)
	assert.Equal(t, t1, c.Values[0].AsOf)
	assert.Equal(t, t2, c.Values[1].AsOf)
	assert.Equal(t, "available_inventory_report", c.Values[0].Citations[0].Source)
	assert.Equal(t, "allocated_materials_to_orders", c.Values[1].Citations[0].Source)
}

func TestNoConflictWhenValuesAgree(t *testing.T) {
	key := "current stock of Metformin 500mg Tablets at Berlin Depot"
	findings := []evaluator.Finding{
		citedStock(key, 500, t1, "a"),
		citedStock(key, 500, t2, "b"),
	}
	assert.Empty(t, DetectConflicts(findings))
}

func watchFindings() []evaluator.Finding {
	return []evaluator.Finding{
		{
			Evaluator: "inventory", Kind: evaluator.KindExpiringBatch, Key: "expiry of batch LOT-2",
			Payload: evaluator.ExpiringBatch{BatchID: "LOT-2", Material: "Placebo", Location: "Madrid Depot",
				ExpiryDate: "2025-07-15", DaysRemaining: 44, Quantity: 200, Unit: "packages", Severity: evaluator.SeverityHigh},
			Citations: []evaluator.Citation{{Source: "batch_master", Field: "expiration_date_shelf_life", Value: "2025-07-15", AsOf: t2}},
		},
		{
			Evaluator: "inventory", Kind: evaluator.KindExpiringBatch, Key: "expiry of batch LOT-1",
			Payload: evaluator.ExpiringBatch{BatchID: "LOT-1", Material: "Metformin", Location: "Berlin Depot",
				ExpiryDate: "2025-06-20", DaysRemaining: 19, Quantity: 450, Unit: "packages", Severity: evaluator.SeverityCritical},
			Citations: []evaluator.Citation{{Source: "batch_master", Field: "expiration_date_shelf_life", Value: "2025-06-20", AsOf: t2}},
		},
		{
			Evaluator: "demand", Kind: evaluator.KindShortfall, Key: "projected shortfall for CT-1 in Spain",
			Payload: evaluator.Shortfall{Country: "Spain", TrialAlias: "CT-1", CurrentStock: 10, WeeklyEnrollment: 10,
				ProjectedDemand: 80, Shortfall: -70, Severity: evaluator.SeverityCritical, EstimatedStockoutDate: "2025-06-08"},
			Citations: []evaluator.Citation{{Source: "enrollment_rate_report", Field: "monthly_enrollment", Value: "40, 40", AsOf: t2}},
		},
	}
}

func TestBuildWatchReport(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	report := BuildWatchReport(now, watchFindings())

	assert.Equal(t, "2025-06-01", report.AlertDate)
	assert.Equal(t, 2, report.RiskSummary.TotalExpiringBatches)
	assert.Equal(t, 1, report.RiskSummary.CriticalBatches)
	assert.Equal(t, 1, report.RiskSummary.TotalShortfallPredictions)
	assert.Equal(t, 1, report.RiskSummary.CriticalShortfalls)

	// CRITICAL sorts ahead of HIGH regardless of emission order.
	require.Len(t, report.ExpiryAlerts, 2)
	assert.Equal(t, "LOT-1", report.ExpiryAlerts[0].BatchID)
	assert.Equal(t, "LOT-2", report.ExpiryAlerts[1].BatchID)

	require.Len(t, report.ShortfallPredictions, 1)
	sp := report.ShortfallPredictions[0]
	assert.Equal(t, 70.0, sp.Shortfall, "shortfall reported as positive magnitude")
	assert.Equal(t, "2025-06-08", sp.EstimatedStockout)
}

func TestWatchReportIsByteDeterministic(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	a, err := json.Marshal(BuildWatchReport(now, watchFindings()))
	require.NoError(t, err)
	b, err := json.Marshal(BuildWatchReport(now, watchFindings()))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestWatchReportEmptyCategoriesStayPresent(t *testing.T) {
	report := BuildWatchReport(time.Now(), nil)
	data, err := json.Marshal(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"expiry_alerts":[]`)
	assert.Contains(t, string(data), `"shortfall_predictions":[]`)
	assert.Contains(t, string(data), `"total_expiring_batches":0`)
}

func extensionFindings(approved bool, feasible bool) []evaluator.Finding {
	f := feasible
	return []evaluator.Finding{
		{
			Evaluator: "technical", Kind: evaluator.KindTechnical, Key: "re-evaluation history of LOT-1",
			Payload:   evaluator.TechnicalHistory{Lot: "LOT-1", Requests: 2, LastStatus: "Completed"},
			Citations: []evaluator.Citation{{Source: "re_evaluation", Field: "sample_status", Value: "Completed", AsOf: t2}},
		},
		{
			Evaluator: "regulatory", Kind: evaluator.KindRegulatory, Key: "regulatory approval for Germany",
			Payload:   evaluator.RegulatoryStatus{Country: "Germany", Approved: approved, HealthAuthority: "BfArM", ApprovedDate: "2024-11-02", Submissions: 2},
			Citations: []evaluator.Citation{{Source: "rim", Field: "status_v", Value: "Approved", AsOf: t2}},
		},
		{
			Evaluator: "logistics", Kind: evaluator.KindShipping, Key: "shipping timeline to Germany",
			Payload:   evaluator.ShippingTimeline{Country: "Germany", Days: 6, Feasible: &f, ArrivalDate: "2025-06-07", ExpiryDate: "2025-06-20"},
			Citations: []evaluator.Citation{{Source: "ip_shipping_timelines_report", Field: "shipping_timeline", Value: "6 days door-to-door", AsOf: t2}},
		},
	}
}

func TestAssessExtensionVerdicts(t *testing.T) {
	t.Run("all pass is YES", func(t *testing.T) {
		a := AssessExtension("LOT-1", "Germany", extensionFindings(true, true), nil)
		assert.Equal(t, VerdictYes, a.Verdict)
		require.Len(t, a.Checks, 3)
		for _, c := range a.Checks {
			assert.Equal(t, CheckPass, c.Status)
		}
	})

	t.Run("regulatory fail is NO", func(t *testing.T) {
		a := AssessExtension("LOT-1", "Germany", extensionFindings(false, true), nil)
		assert.Equal(t, VerdictNo, a.Verdict)
	})

	t.Run("infeasible logistics is NO", func(t *testing.T) {
		a := AssessExtension("LOT-1", "Germany", extensionFindings(true, false), nil)
		assert.Equal(t, VerdictNo, a.Verdict)
	})

	t.Run("missing technical data is CONDITIONAL", func(t *testing.T) {
		findings := extensionFindings(true, true)[1:] // drop the technical finding
		a := AssessExtension("LOT-1", "Germany", findings, nil)
		assert.Equal(t, VerdictConditional, a.Verdict)
	})

	t.Run("incomplete check forces INDETERMINATE", func(t *testing.T) {
		incomplete := map[string]error{"logistics": fmt.Errorf("query exhausted after 3 attempts: Syntax error in SQL query")}
		a := AssessExtension("LOT-1", "Germany", extensionFindings(true, true)[:2], incomplete)
		assert.Equal(t, VerdictIndeterminate, a.Verdict, "a failed check is never treated as a pass")

		var logistics Check
		for _, c := range a.Checks {
			if c.Name == "logistics" {
				logistics = c
			}
		}
		assert.True(t, logistics.Incomplete)
		assert.Contains(t, logistics.Detail, "could not be completed")
	})

	t.Run("regulatory fail beats incomplete logistics", func(t *testing.T) {
		incomplete := map[string]error{"logistics": fmt.Errorf("query exhausted")}
		a := AssessExtension("LOT-1", "Germany", extensionFindings(false, true)[:2], incomplete)
		assert.Equal(t, VerdictNo, a.Verdict, "an explicit regulatory failure is decisive")
	})
}

func TestAnswerVerdict(t *testing.T) {
	cited := []evaluator.Finding{citedStock("k", 500, t1, "available_inventory_report")}
	notFound := []evaluator.Finding{{
		Evaluator: "inventory", Kind: evaluator.KindNotFound, Key: "k", NotFound: true,
		Citations: []evaluator.Citation{{Source: "available_inventory_report", Field: "*", Value: "no rows", AsOf: t1}},
	}}

	assert.Equal(t, VerdictYes, AnswerVerdict(cited, nil))
	assert.Equal(t, VerdictNo, AnswerVerdict(notFound, nil))
	assert.Equal(t, VerdictIndeterminate, AnswerVerdict(cited, map[string]error{"inventory": fmt.Errorf("exhausted")}))
	assert.Equal(t, VerdictIndeterminate, AnswerVerdict(nil, nil))
}

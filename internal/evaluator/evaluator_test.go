package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"controltower/internal/store"
)

var testNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func fixtureStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ddl := []string{
		`CREATE TABLE allocated_materials_to_orders (
			material_component_batch TEXT, material_component TEXT,
			material_comp_description TEXT, trial_alias TEXT,
			order_status TEXT, order_quantity REAL, plant_desc TEXT)`,
		`CREATE TABLE batch_master (batch_number TEXT, expiration_date_shelf_life TEXT)`,
		`CREATE TABLE available_inventory_report (
			lot TEXT, material TEXT, trial_alias TEXT, location TEXT,
			quantity REAL, unit TEXT, expiry_date TEXT)`,
		`CREATE TABLE enrollment_rate_report (trial_alias TEXT, country_name TEXT, monthly_enrollment TEXT)`,
		`CREATE TABLE ip_shipping_timelines_report (country_name TEXT, shipping_timeline TEXT, ip_helper TEXT)`,
		`CREATE TABLE rim (country_c TEXT, status_v TEXT, health_authority TEXT, approved_date_c TEXT, ly_number_c TEXT)`,
		`CREATE TABLE re_evaluation (lot_number TEXT, request_type TEXT, sample_status TEXT, created TEXT)`,
		`CREATE TABLE purchase_requirement (material TEXT, vendor TEXT, quantity REAL, status TEXT)`,
		`CREATE TABLE distribution_order_report (order_number TEXT, material TEXT, status TEXT, destination_country TEXT, quantity REAL)`,
	}
	for _, q := range ddl {
		_, err := st.DB().Exec(q)
		require.NoError(t, err)
	}

	seed := []string{
		// Expires 2025-06-20: 19 days out on testNow, CRITICAL.
		`INSERT INTO allocated_materials_to_orders VALUES
			('LOT-14364098', 'MAT-001', 'Metformin 500mg Tablets', 'CT-2024-DPT', 'Allocated', 450, 'Berlin Depot')`,
		`INSERT INTO batch_master VALUES ('LOT-14364098', '2025-06-20')`,
		// Expires 2025-07-15: 44 days out, HIGH.
		`INSERT INTO allocated_materials_to_orders VALUES
			('LOT-14364099', 'MAT-001', 'Metformin 500mg Tablets', 'CT-2024-DPT', 'Allocated', 200, 'Madrid Depot')`,
		`INSERT INTO batch_master VALUES ('LOT-14364099', '2025-07-15')`,
		// Far out, beyond the 90 day window.
		`INSERT INTO allocated_materials_to_orders VALUES
			('LOT-20000001', 'MAT-002', 'Placebo Tablets', 'CT-2024-DPT', 'Allocated', 800, 'Berlin Depot')`,
		`INSERT INTO batch_master VALUES ('LOT-20000001', '2026-05-01')`,

		`INSERT INTO available_inventory_report VALUES
			('LOT-14364098', 'Metformin 500mg Tablets', 'CT-2024-DPT', 'Berlin Depot', 450, 'packages', '2025-06-20')`,

		// Weekly 2.0 -> 8-week demand 16; stock 12 -> shortfall -4 (HIGH).
		`INSERT INTO enrollment_rate_report VALUES ('CT-2024-ONC', 'Germany', '5, 4, 5, 4, 6, 0, 8, 10, 4, 8, 4, 8')`,
		`INSERT INTO available_inventory_report VALUES
			('LOT-30000001', 'Oncozen 10mg', 'CT-2024-ONC', 'Berlin Depot', 12, 'packages', '2026-01-01')`,
		// Weekly 10 -> demand 80; stock 10 -> shortfall -70 (CRITICAL).
		`INSERT INTO enrollment_rate_report VALUES ('CT-2024-CVD', 'Spain', '40, 40')`,
		`INSERT INTO available_inventory_report VALUES
			('LOT-30000002', 'Cardiozen 5mg', 'CT-2024-CVD', 'Madrid Depot', 10, 'packages', '2026-01-01')`,

		`INSERT INTO ip_shipping_timelines_report VALUES
			('Germany', '6 days door-to-door', 'Berlin Logistics Center (Germany)')`,
		`INSERT INTO ip_shipping_timelines_report VALUES
			('Saint Kitts and Nevis', '13 days door-to-door', 'Coreyshire Logistics Center (Saint Kitts and Nevis)')`,

		`INSERT INTO rim VALUES ('Germany', 'Approved', 'BfArM', '2024-11-02', 'LY-0042')`,
		`INSERT INTO rim VALUES ('Germany', 'Submitted', 'BfArM', '', 'LY-0055')`,
		`INSERT INTO rim VALUES ('Spain', 'Submitted', 'AEMPS', '', 'LY-0060')`,

		`INSERT INTO re_evaluation VALUES ('LOT-14364098', 'Shelf-life extension', 'Completed', '2024-09-10')`,

		`INSERT INTO purchase_requirement VALUES ('MAT-001', 'Acme Pharma', 1000, 'Open')`,
		`INSERT INTO purchase_requirement VALUES ('MAT-001', 'Beta Supply', 500, 'Closed')`,
		`INSERT INTO distribution_order_report VALUES ('DO-9001', 'MAT-001', 'In Transit', 'Germany', 300)`,
	}
	for _, q := range seed {
		_, err := st.DB().Exec(q)
		require.NoError(t, err)
	}
	return st
}

func TestInventoryExpiringAllocated(t *testing.T) {
	st := fixtureStore(t)
	e := NewInventoryEvaluator(90)

	findings, err := e.Evaluate(context.Background(), st, Request{Now: testNow})
	require.NoError(t, err)
	require.Len(t, findings, 2, "the far-future batch stays out of the window")

	first, ok := findings[0].Payload.(ExpiringBatch)
	require.True(t, ok)
	assert.Equal(t, "LOT-14364098", first.BatchID)
	assert.Equal(t, 19, first.DaysRemaining)
	assert.Equal(t, SeverityCritical, first.Severity)

	second := findings[1].Payload.(ExpiringBatch)
	assert.Equal(t, "LOT-14364099", second.BatchID)
	assert.Equal(t, SeverityHigh, second.Severity)

	for _, f := range findings {
		assert.NotEmpty(t, f.Citations, "every finding must be cited")
		assert.Equal(t, "allocated_materials_to_orders", f.Citations[0].Source)
	}
}

func TestInventoryBatchStock(t *testing.T) {
	st := fixtureStore(t)
	e := NewInventoryEvaluator(90)

	findings, err := e.Evaluate(context.Background(), st,
		Request{Now: testNow, Entities: map[string]string{"batch": "LOT-14364098"}})
	require.NoError(t, err)
	require.Len(t, findings, 1)

	stock := findings[0].Payload.(StockLevel)
	assert.Equal(t, 450.0, stock.Quantity)
	assert.Equal(t, "2025-06-20", stock.ExpiryDate)
	assert.Equal(t, "current stock of Metformin 500mg Tablets at Berlin Depot", findings[0].Key)
}

func TestInventoryUnknownBatchIsNotFoundFinding(t *testing.T) {
	st := fixtureStore(t)
	e := NewInventoryEvaluator(90)

	findings, err := e.Evaluate(context.Background(), st,
		Request{Now: testNow, Entities: map[string]string{"batch": "LOT-00000000"}})
	require.NoError(t, err, "an empty result set is a valid outcome, not an error")
	require.Len(t, findings, 1)
	assert.True(t, findings[0].NotFound)
	assert.Equal(t, KindNotFound, findings[0].Kind)
	require.NotEmpty(t, findings[0].Citations)
	assert.Equal(t, "available_inventory_report", findings[0].Citations[0].Source)
}

func TestInventoryMaterialPosition(t *testing.T) {
	st := fixtureStore(t)
	e := NewInventoryEvaluator(90)

	findings, err := e.Evaluate(context.Background(), st,
		Request{Now: testNow, Entities: map[string]string{"material": "MAT-001"}})
	require.NoError(t, err)
	require.Len(t, findings, 2, "one open requisition (closed excluded) plus one outstanding order")
	assert.Equal(t, KindPurchase, findings[0].Kind)
	assert.Equal(t, KindOutstanding, findings[1].Kind)
}

func TestInventoryOutstandingWithoutMaterial(t *testing.T) {
	st := fixtureStore(t)
	e := NewInventoryEvaluator(90)

	findings, err := e.Evaluate(context.Background(), st,
		Request{Now: testNow, Subkind: "outstanding"})
	require.NoError(t, err)
	require.Len(t, findings, 1, "the whole open order book, never the expiry scan")
	assert.Equal(t, KindOutstanding, findings[0].Kind)
	assert.Equal(t, "outstanding distribution orders", findings[0].Key)
	assert.Equal(t, "distribution_order_report", findings[0].Citations[0].Source)
}

func TestInventoryPurchaseWithoutMaterial(t *testing.T) {
	st := fixtureStore(t)
	e := NewInventoryEvaluator(90)

	findings, err := e.Evaluate(context.Background(), st,
		Request{Now: testNow, Subkind: "purchase"})
	require.NoError(t, err)
	require.Len(t, findings, 1, "one open requisition; the closed one stays out")
	assert.Equal(t, KindPurchase, findings[0].Kind)
	assert.Equal(t, "purchase_requirement", findings[0].Citations[0].Source)
}

func TestInventoryOutstandingScopedToMaterial(t *testing.T) {
	st := fixtureStore(t)
	e := NewInventoryEvaluator(90)

	findings, err := e.Evaluate(context.Background(), st,
		Request{Now: testNow, Subkind: "outstanding", Entities: map[string]string{"material": "MAT-404"}})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.True(t, findings[0].NotFound, "an unknown material is a cited not-found, not an expiry scan")
	assert.Equal(t, "distribution_order_report", findings[0].Citations[0].Source)
}

func TestDemandShortfalls(t *testing.T) {
	st := fixtureStore(t)
	e := NewDemandEvaluator(8, 1, -50)

	findings, err := e.Evaluate(context.Background(), st, Request{Now: testNow})
	require.NoError(t, err)
	require.Len(t, findings, 2)

	// Ordered by trial alias: CVD before ONC.
	cvd := findings[0].Payload.(Shortfall)
	assert.Equal(t, "CT-2024-CVD", cvd.TrialAlias)
	assert.Equal(t, "Spain", cvd.Country)
	assert.Equal(t, 10.0, cvd.WeeklyEnrollment)
	assert.Equal(t, 80.0, cvd.ProjectedDemand)
	assert.Equal(t, -70.0, cvd.Shortfall)
	assert.Equal(t, SeverityCritical, cvd.Severity)
	assert.Equal(t, "2025-06-08", cvd.EstimatedStockoutDate, "10 units / 10 per week = 7 days")

	onc := findings[1].Payload.(Shortfall)
	assert.Equal(t, "CT-2024-ONC", onc.TrialAlias)
	assert.Equal(t, 2.0, onc.WeeklyEnrollment)
	assert.Equal(t, 16.0, onc.ProjectedDemand)
	assert.Equal(t, -4.0, onc.Shortfall)
	assert.Equal(t, SeverityHigh, onc.Severity)
}

func TestDemandScopedToTrial(t *testing.T) {
	st := fixtureStore(t)
	e := NewDemandEvaluator(8, 1, -50)

	findings, err := e.Evaluate(context.Background(), st,
		Request{Now: testNow, Entities: map[string]string{"trial": "CT-2024-ONC"}})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "CT-2024-ONC", findings[0].Payload.(Shortfall).TrialAlias)
}

func TestRegulatoryApproved(t *testing.T) {
	st := fixtureStore(t)
	e := NewRegulatoryEvaluator()

	findings, err := e.Evaluate(context.Background(), st,
		Request{Now: testNow, Entities: map[string]string{"country": "Germany"}})
	require.NoError(t, err)
	require.Len(t, findings, 1)

	status := findings[0].Payload.(RegulatoryStatus)
	assert.True(t, status.Approved)
	assert.Equal(t, "BfArM", status.HealthAuthority)
	assert.Equal(t, "2024-11-02", status.ApprovedDate)
	assert.Equal(t, "LY-0042", status.RegulatoryID)
	assert.Equal(t, 2, status.Submissions)
}

func TestRegulatorySubmittedButNotApproved(t *testing.T) {
	st := fixtureStore(t)
	e := NewRegulatoryEvaluator()

	findings, err := e.Evaluate(context.Background(), st,
		Request{Now: testNow, Entities: map[string]string{"country": "Spain"}})
	require.NoError(t, err)

	status := findings[0].Payload.(RegulatoryStatus)
	assert.False(t, status.Approved)
	assert.Equal(t, 1, status.Submissions)
}

func TestRegulatoryUnknownCountry(t *testing.T) {
	st := fixtureStore(t)
	e := NewRegulatoryEvaluator()

	findings, err := e.Evaluate(context.Background(), st,
		Request{Now: testNow, Entities: map[string]string{"country": "Atlantis"}})
	require.NoError(t, err)
	assert.True(t, findings[0].NotFound)
}

func TestLogisticsTimelineWithUpstreamExpiry(t *testing.T) {
	st := fixtureStore(t)
	e := NewLogisticsEvaluator()

	upstream := []Finding{{
		Evaluator: "inventory",
		Kind:      KindStockLevel,
		Payload:   StockLevel{BatchID: "LOT-14364098", ExpiryDate: "2025-06-20"},
	}}
	findings, err := e.Evaluate(context.Background(), st,
		Request{Now: testNow, Entities: map[string]string{"country": "Germany"}, Upstream: upstream})
	require.NoError(t, err)
	require.Len(t, findings, 1)

	tl := findings[0].Payload.(ShippingTimeline)
	assert.Equal(t, 6, tl.Days)
	require.NotNil(t, tl.Feasible)
	assert.True(t, *tl.Feasible, "arrival 2025-06-07 is before expiry 2025-06-20")
	assert.Equal(t, "2025-06-07", tl.ArrivalDate)
}

func TestLogisticsInfeasibleWhenExpiryTooClose(t *testing.T) {
	st := fixtureStore(t)
	e := NewLogisticsEvaluator()

	upstream := []Finding{{
		Evaluator: "inventory",
		Kind:      KindStockLevel,
		Payload:   StockLevel{ExpiryDate: "2025-06-10"},
	}}
	findings, err := e.Evaluate(context.Background(), st,
		Request{Now: testNow, Entities: map[string]string{"country": "Saint Kitts and Nevis"}, Upstream: upstream})
	require.NoError(t, err)

	tl := findings[0].Payload.(ShippingTimeline)
	assert.Equal(t, 13, tl.Days)
	require.NotNil(t, tl.Feasible)
	assert.False(t, *tl.Feasible, "arrival 2025-06-14 is after expiry 2025-06-10")
}

func TestTechnicalHistory(t *testing.T) {
	st := fixtureStore(t)
	e := NewTechnicalEvaluator()

	findings, err := e.Evaluate(context.Background(), st,
		Request{Now: testNow, Entities: map[string]string{"batch": "LOT-14364098"}})
	require.NoError(t, err)

	hist := findings[0].Payload.(TechnicalHistory)
	assert.Equal(t, 1, hist.Requests)
	assert.Equal(t, "Completed", hist.LastStatus)

	findings, err = e.Evaluate(context.Background(), st,
		Request{Now: testNow, Entities: map[string]string{"batch": "LOT-99999999"}})
	require.NoError(t, err)
	assert.True(t, findings[0].NotFound)
}

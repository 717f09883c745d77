package evaluator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"controltower/internal/logging"
)

// InventoryEvaluator reports allocated batches approaching expiry and, when a
// specific batch is resolved, its stock position.
type InventoryEvaluator struct {
	ExpiryThresholdDays int
}

// NewInventoryEvaluator returns an inventory evaluator alerting within
// thresholdDays of expiry (default 90).
func NewInventoryEvaluator(thresholdDays int) *InventoryEvaluator {
	if thresholdDays <= 0 {
		thresholdDays = 90
	}
	return &InventoryEvaluator{ExpiryThresholdDays: thresholdDays}
}

func (e *InventoryEvaluator) Name() string { return "inventory" }

func (e *InventoryEvaluator) Evaluate(ctx context.Context, q Querier, req Request) ([]Finding, error) {
	material := req.Entities["material"]

	// Outstanding and purchase questions go to their own sources; without a
	// material the whole open position is the answer.
	switch req.Subkind {
	case "outstanding":
		return e.outstandingOrders(ctx, q, material)
	case "purchase":
		return e.purchaseRequirements(ctx, q, material)
	}

	if batch := req.Entities["batch"]; batch != "" {
		return e.batchStock(ctx, q, batch)
	}
	if material != "" {
		return e.materialPosition(ctx, q, material)
	}
	return e.expiringAllocated(ctx, q, req.Now)
}

// expiringAllocated scans reserved batches (allocated materials joined with
// batch master for expiry dates) expiring within the threshold, graded by
// severity.
func (e *InventoryEvaluator) expiringAllocated(ctx context.Context, q Querier, now time.Time) ([]Finding, error) {
	log := logging.For(logging.CategoryEvaluator)
	today := now.Format("2006-01-02")

	query := fmt.Sprintf(`
SELECT a.material_component_batch AS batch_id,
       a.material_component AS material_id,
       a.material_comp_description AS material,
       a.trial_alias,
       a.order_quantity AS quantity,
       a.plant_desc AS location,
       b.expiration_date_shelf_life AS expiry_date,
       CAST(julianday(b.expiration_date_shelf_life) - julianday('%s') AS INTEGER) AS days_remaining
FROM allocated_materials_to_orders a
LEFT JOIN batch_master b ON a.material_component_batch = b.batch_number
WHERE b.expiration_date_shelf_life IS NOT NULL
  AND julianday(b.expiration_date_shelf_life) - julianday('%s') BETWEEN 0 AND %d
ORDER BY days_remaining ASC
LIMIT 100`, today, today, e.ExpiryThresholdDays)

	rs, err := q.Execute(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("expiring batch scan failed: %w", err)
	}
	if rs.RowCount == 0 {
		return []Finding{notFoundFinding(e.Name(), "allocated_materials_to_orders",
			"expiring allocated batches", fmt.Sprintf("no allocated batches expiring within %d days", e.ExpiryThresholdDays),
			rs.ExecutedAt)}, nil
	}

	findings := make([]Finding, 0, rs.RowCount)
	for _, row := range rs.Rows {
		days := rowInt(row, "days_remaining")
		batch := ExpiringBatch{
			BatchID:       rowString(row, "batch_id"),
			MaterialID:    rowString(row, "material_id"),
			Material:      rowString(row, "material"),
			TrialAlias:    rowString(row, "trial_alias"),
			Location:      rowString(row, "location"),
			ExpiryDate:    rowString(row, "expiry_date"),
			DaysRemaining: days,
			Quantity:      rowFloat(row, "quantity"),
			Unit:          "packages",
			Severity:      ClassifyExpirySeverity(days),
		}
		findings = append(findings, Finding{
			Evaluator: e.Name(),
			Kind:      KindExpiringBatch,
			Key:       fmt.Sprintf("expiry of batch %s", batch.BatchID),
			Payload:   batch,
			Citations: []Citation{
				{Source: "allocated_materials_to_orders", Field: "material_component_batch", Value: batch.BatchID, AsOf: rs.ExecutedAt},
				{Source: "batch_master", Field: "expiration_date_shelf_life", Value: batch.ExpiryDate, AsOf: rs.ExecutedAt},
			},
		})
	}
	log.Debugw("expiring batch scan complete", "batches", len(findings))
	return findings, nil
}

// materialPosition reports the supply position of one material: open
// purchase requisitions and outstanding distribution orders.
func (e *InventoryEvaluator) materialPosition(ctx context.Context, q Querier, material string) ([]Finding, error) {
	prs, err := e.purchaseRequirements(ctx, q, material)
	if err != nil {
		return nil, err
	}
	dos, err := e.outstandingOrders(ctx, q, material)
	if err != nil {
		return nil, err
	}
	return append(prs, dos...), nil
}

// purchaseRequirements lists open purchase requisitions, scoped to one
// material when given.
func (e *InventoryEvaluator) purchaseRequirements(ctx context.Context, q Querier, material string) ([]Finding, error) {
	query := `
SELECT material, vendor, quantity, status
FROM purchase_requirement
WHERE LOWER(status) NOT IN ('closed', 'cancelled')
ORDER BY material, vendor`
	key := "open purchase requisitions"
	if material != "" {
		safe := strings.ReplaceAll(material, "'", "''")
		query = fmt.Sprintf(`
SELECT material, vendor, quantity, status
FROM purchase_requirement
WHERE material = '%s' AND LOWER(status) NOT IN ('closed', 'cancelled')
ORDER BY vendor`, safe)
		key = fmt.Sprintf("open purchase requisitions for %s", material)
	}

	prs, err := q.Execute(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("purchase requirement lookup failed: %w", err)
	}
	if prs.RowCount == 0 {
		return []Finding{notFoundFinding(e.Name(), "purchase_requirement",
			key, "no "+key, prs.ExecutedAt)}, nil
	}

	findings := make([]Finding, 0, prs.RowCount)
	for _, row := range prs.Rows {
		findings = append(findings, Finding{
			Evaluator: e.Name(),
			Kind:      KindPurchase,
			Key:       key,
			Payload: map[string]any{
				"material": rowString(row, "material"),
				"vendor":   rowString(row, "vendor"),
				"quantity": rowFloat(row, "quantity"),
				"status":   rowString(row, "status"),
			},
			Citations: []Citation{
				{Source: "purchase_requirement", Field: "quantity", Value: rowString(row, "quantity"), AsOf: prs.ExecutedAt},
			},
		})
	}
	return findings, nil
}

// outstandingOrders lists distribution orders still in flight, scoped to one
// material when given.
func (e *InventoryEvaluator) outstandingOrders(ctx context.Context, q Querier, material string) ([]Finding, error) {
	query := `
SELECT order_number, material, status, destination_country, quantity
FROM distribution_order_report
WHERE LOWER(status) NOT IN ('delivered', 'cancelled')
ORDER BY order_number`
	key := "outstanding distribution orders"
	if material != "" {
		safe := strings.ReplaceAll(material, "'", "''")
		query = fmt.Sprintf(`
SELECT order_number, material, status, destination_country, quantity
FROM distribution_order_report
WHERE material = '%s' AND LOWER(status) NOT IN ('delivered', 'cancelled')
ORDER BY order_number`, safe)
		key = fmt.Sprintf("outstanding shipments of %s", material)
	}

	dos, err := q.Execute(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("distribution order lookup failed: %w", err)
	}
	if dos.RowCount == 0 {
		return []Finding{notFoundFinding(e.Name(), "distribution_order_report",
			key, "no "+key, dos.ExecutedAt)}, nil
	}

	findings := make([]Finding, 0, dos.RowCount)
	for _, row := range dos.Rows {
		findings = append(findings, Finding{
			Evaluator: e.Name(),
			Kind:      KindOutstanding,
			Key:       key,
			Payload: map[string]any{
				"order_number":        rowString(row, "order_number"),
				"material":            rowString(row, "material"),
				"status":              rowString(row, "status"),
				"destination_country": rowString(row, "destination_country"),
				"quantity":            rowFloat(row, "quantity"),
			},
			Citations: []Citation{
				{Source: "distribution_order_report", Field: "order_number", Value: rowString(row, "order_number"), AsOf: dos.ExecutedAt},
			},
		})
	}
	return findings, nil
}

// batchStock looks up the stock position of one resolved batch, including its
// expiry date for downstream logistics checks.
func (e *InventoryEvaluator) batchStock(ctx context.Context, q Querier, batch string) ([]Finding, error) {
	safe := strings.ReplaceAll(batch, "'", "''")
	query := fmt.Sprintf(`
SELECT lot AS batch_id, material, trial_alias, location, quantity, unit, expiry_date
FROM available_inventory_report
WHERE lot = '%s'`, safe)

	rs, err := q.Execute(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("batch stock lookup failed: %w", err)
	}
	if rs.RowCount == 0 {
		return []Finding{notFoundFinding(e.Name(), "available_inventory_report",
			fmt.Sprintf("stock of batch %s", batch),
			fmt.Sprintf("batch %s not present in available inventory", batch),
			rs.ExecutedAt)}, nil
	}

	var findings []Finding
	for _, row := range rs.Rows {
		stock := StockLevel{
			BatchID:    rowString(row, "batch_id"),
			Material:   rowString(row, "material"),
			TrialAlias: rowString(row, "trial_alias"),
			Location:   rowString(row, "location"),
			Quantity:   rowFloat(row, "quantity"),
			Unit:       rowString(row, "unit"),
			ExpiryDate: rowString(row, "expiry_date"),
		}
		findings = append(findings, Finding{
			Evaluator: e.Name(),
			Kind:      KindStockLevel,
			Key:       fmt.Sprintf("current stock of %s at %s", stock.Material, stock.Location),
			Payload:   stock,
			Citations: []Citation{
				{Source: "available_inventory_report", Field: "quantity", Value: fmt.Sprintf("%v", stock.Quantity), AsOf: rs.ExecutedAt},
				{Source: "available_inventory_report", Field: "expiry_date", Value: stock.ExpiryDate, AsOf: rs.ExecutedAt},
			},
		})
	}
	return findings, nil
}

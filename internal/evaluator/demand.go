package evaluator

import (
	"context"
	"fmt"
	"strings"

	"controltower/internal/logging"
)

// DemandEvaluator projects enrollment-driven demand against current stock and
// predicts shortfalls per trial/country pair.
type DemandEvaluator struct {
	ProjectionWeeks     int
	EnrollmentLookback  int
	CriticalShortfallAt float64
}

// NewDemandEvaluator returns a demand evaluator projecting weeks ahead from
// the last lookback months of enrollment, grading shortfalls CRITICAL below
// criticalShortfallAt. Defaults: 8 weeks, 1 month, -50 units.
func NewDemandEvaluator(weeks, lookbackMonths int, criticalShortfallAt float64) *DemandEvaluator {
	if weeks <= 0 {
		weeks = 8
	}
	if lookbackMonths <= 0 {
		lookbackMonths = 1
	}
	if criticalShortfallAt >= 0 {
		criticalShortfallAt = -50
	}
	return &DemandEvaluator{
		ProjectionWeeks:     weeks,
		EnrollmentLookback:  lookbackMonths,
		CriticalShortfallAt: criticalShortfallAt,
	}
}

func (e *DemandEvaluator) Name() string { return "demand" }

func (e *DemandEvaluator) Evaluate(ctx context.Context, q Querier, req Request) ([]Finding, error) {
	log := logging.For(logging.CategoryEvaluator)

	query := `
SELECT e.trial_alias,
       e.country_name,
       e.monthly_enrollment,
       COALESCE(SUM(i.quantity), 0) AS current_stock
FROM enrollment_rate_report e
LEFT JOIN available_inventory_report i ON i.trial_alias = e.trial_alias
GROUP BY e.trial_alias, e.country_name, e.monthly_enrollment
ORDER BY e.trial_alias, e.country_name`
	if trial := req.Entities["trial"]; trial != "" {
		safe := strings.ReplaceAll(trial, "'", "''")
		query = fmt.Sprintf(`
SELECT e.trial_alias,
       e.country_name,
       e.monthly_enrollment,
       COALESCE(SUM(i.quantity), 0) AS current_stock
FROM enrollment_rate_report e
LEFT JOIN available_inventory_report i ON i.trial_alias = e.trial_alias
WHERE e.trial_alias = '%s'
GROUP BY e.trial_alias, e.country_name, e.monthly_enrollment
ORDER BY e.trial_alias, e.country_name`, safe)
	}

	rs, err := q.Execute(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("demand projection query failed: %w", err)
	}
	if rs.RowCount == 0 {
		return []Finding{notFoundFinding(e.Name(), "enrollment_rate_report",
			"enrollment-driven demand", "no enrollment data for the requested scope", rs.ExecutedAt)}, nil
	}

	var findings []Finding
	for _, row := range rs.Rows {
		monthly := ParseMonthlyEnrollment(rowString(row, "monthly_enrollment"))
		weekly := WeeklyEnrollment(monthly, e.EnrollmentLookback)
		demand := weekly * float64(e.ProjectionWeeks)
		stock := rowFloat(row, "current_stock")
		gap := stock - demand
		if gap >= 0 {
			continue
		}

		sf := Shortfall{
			Country:          rowString(row, "country_name"),
			TrialAlias:       rowString(row, "trial_alias"),
			CurrentStock:     stock,
			WeeklyEnrollment: weekly,
			ProjectedDemand:  demand,
			Shortfall:        gap,
			Severity:         ClassifyShortfallSeverity(gap, e.CriticalShortfallAt),
		}
		if date, ok := StockoutDate(stock, weekly, req.Now); ok {
			sf.EstimatedStockoutDate = date.Format("2006-01-02")
		}
		findings = append(findings, Finding{
			Evaluator: e.Name(),
			Kind:      KindShortfall,
			Key:       fmt.Sprintf("projected shortfall for %s in %s", sf.TrialAlias, sf.Country),
			Payload:   sf,
			Citations: []Citation{
				{Source: "enrollment_rate_report", Field: "monthly_enrollment", Value: rowString(row, "monthly_enrollment"), AsOf: rs.ExecutedAt},
				{Source: "available_inventory_report", Field: "quantity", Value: fmt.Sprintf("%v", stock), AsOf: rs.ExecutedAt},
			},
		})
	}

	if len(findings) == 0 {
		return []Finding{notFoundFinding(e.Name(), "enrollment_rate_report",
			"projected shortfalls",
			fmt.Sprintf("no shortfalls projected over the next %d weeks", e.ProjectionWeeks),
			rs.ExecutedAt)}, nil
	}
	log.Debugw("shortfall projection complete", "shortfalls", len(findings))
	return findings, nil
}

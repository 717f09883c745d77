package evaluator

import (
	"context"
	"fmt"
	"strings"
)

// RegulatoryEvaluator verifies whether a country holds an approved regulatory
// submission for clinical supply.
type RegulatoryEvaluator struct{}

func NewRegulatoryEvaluator() *RegulatoryEvaluator { return &RegulatoryEvaluator{} }

func (e *RegulatoryEvaluator) Name() string { return "regulatory" }

func (e *RegulatoryEvaluator) Evaluate(ctx context.Context, q Querier, req Request) ([]Finding, error) {
	country := req.Entities["country"]
	if country == "" {
		return []Finding{notFoundFinding(e.Name(), "rim",
			"regulatory approval", "no country in scope for a regulatory check", req.Now)}, nil
	}
	safe := strings.ReplaceAll(country, "'", "''")

	query := fmt.Sprintf(`
SELECT country_c, status_v, health_authority, approved_date_c, ly_number_c
FROM rim
WHERE country_c = '%s'
ORDER BY approved_date_c DESC`, safe)

	rs, err := q.Execute(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("regulatory lookup failed: %w", err)
	}
	if rs.RowCount == 0 {
		return []Finding{notFoundFinding(e.Name(), "rim",
			fmt.Sprintf("regulatory approval for %s", country),
			fmt.Sprintf("no regulatory submissions on record for %s", country),
			rs.ExecutedAt)}, nil
	}

	status := RegulatoryStatus{Country: country, Submissions: rs.RowCount}
	var citation Citation
	for _, row := range rs.Rows {
		if strings.EqualFold(rowString(row, "status_v"), "approved") {
			status.Approved = true
			status.HealthAuthority = rowString(row, "health_authority")
			status.ApprovedDate = rowString(row, "approved_date_c")
			status.RegulatoryID = rowString(row, "ly_number_c")
			citation = Citation{Source: "rim", Field: "status_v", Value: rowString(row, "status_v"), AsOf: rs.ExecutedAt}
			break
		}
	}
	if !status.Approved {
		citation = Citation{Source: "rim", Field: "status_v", Value: rowString(rs.Rows[0], "status_v"), AsOf: rs.ExecutedAt}
	}

	return []Finding{{
		Evaluator: e.Name(),
		Kind:      KindRegulatory,
		Key:       fmt.Sprintf("regulatory approval for %s", country),
		Payload:   status,
		Citations: []Citation{citation},
	}}, nil
}

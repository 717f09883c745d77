package evaluator

import (
	"context"
	"fmt"
	"strings"
)

// TechnicalEvaluator checks the shelf-life re-evaluation history of a lot.
// Prior re-evaluation requests are the technical precedent for granting an
// extension.
type TechnicalEvaluator struct{}

func NewTechnicalEvaluator() *TechnicalEvaluator { return &TechnicalEvaluator{} }

func (e *TechnicalEvaluator) Name() string { return "technical" }

func (e *TechnicalEvaluator) Evaluate(ctx context.Context, q Querier, req Request) ([]Finding, error) {
	lot := req.Entities["batch"]
	if lot == "" {
		return []Finding{notFoundFinding(e.Name(), "re_evaluation",
			"re-evaluation history", "no batch in scope for a technical check", req.Now)}, nil
	}
	safe := strings.ReplaceAll(lot, "'", "''")

	query := fmt.Sprintf(`
SELECT lot_number, request_type, sample_status, created
FROM re_evaluation
WHERE lot_number = '%s'
ORDER BY created DESC`, safe)

	rs, err := q.Execute(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("re-evaluation lookup failed: %w", err)
	}
	if rs.RowCount == 0 {
		return []Finding{notFoundFinding(e.Name(), "re_evaluation",
			fmt.Sprintf("re-evaluation history of %s", lot),
			fmt.Sprintf("no re-evaluation requests on record for lot %s", lot),
			rs.ExecutedAt)}, nil
	}

	latest := rs.Rows[0]
	hist := TechnicalHistory{
		Lot:         lot,
		Requests:    rs.RowCount,
		LastStatus:  rowString(latest, "sample_status"),
		LastCreated: rowString(latest, "created"),
	}
	return []Finding{{
		Evaluator: e.Name(),
		Kind:      KindTechnical,
		Key:       fmt.Sprintf("re-evaluation history of %s", lot),
		Payload:   hist,
		Citations: []Citation{
			{Source: "re_evaluation", Field: "sample_status", Value: hist.LastStatus, AsOf: rs.ExecutedAt},
		},
	}}, nil
}

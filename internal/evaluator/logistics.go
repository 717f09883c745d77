package evaluator

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LogisticsEvaluator reports door-to-door shipping timelines and, when an
// upstream inventory finding supplies an expiry date, judges whether a
// shipment would arrive before the batch expires.
type LogisticsEvaluator struct{}

func NewLogisticsEvaluator() *LogisticsEvaluator { return &LogisticsEvaluator{} }

func (e *LogisticsEvaluator) Name() string { return "logistics" }

func (e *LogisticsEvaluator) Evaluate(ctx context.Context, q Querier, req Request) ([]Finding, error) {
	country := req.Entities["country"]
	if country == "" {
		return []Finding{notFoundFinding(e.Name(), "ip_shipping_timelines_report",
			"shipping timeline", "no destination country in scope", req.Now)}, nil
	}
	safe := strings.ReplaceAll(country, "'", "''")

	query := fmt.Sprintf(`
SELECT country_name, shipping_timeline, ip_helper
FROM ip_shipping_timelines_report
WHERE country_name = '%s'
LIMIT 10`, safe)

	rs, err := q.Execute(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("shipping timeline lookup failed: %w", err)
	}
	if rs.RowCount == 0 {
		return []Finding{notFoundFinding(e.Name(), "ip_shipping_timelines_report",
			fmt.Sprintf("shipping timeline to %s", country),
			fmt.Sprintf("no shipping timeline on record for %s", country),
			rs.ExecutedAt)}, nil
	}

	row := rs.Rows[0]
	desc := rowString(row, "shipping_timeline")
	timeline := ShippingTimeline{
		Country:     country,
		Days:        ParseShippingTimeline(desc),
		Description: desc,
	}

	// An upstream inventory finding may carry the batch expiry date; when it
	// does, judge arrival against it.
	if expiry := upstreamExpiry(req.Upstream); expiry != "" {
		timeline.ExpiryDate = expiry
		if exp, err := time.Parse("2006-01-02", expiry); err == nil && timeline.Days > 0 {
			arrival := req.Now.AddDate(0, 0, timeline.Days)
			timeline.ArrivalDate = arrival.Format("2006-01-02")
			feasible := arrival.Before(exp)
			timeline.Feasible = &feasible
		}
	}

	return []Finding{{
		Evaluator: e.Name(),
		Kind:      KindShipping,
		Key:       fmt.Sprintf("shipping timeline to %s", country),
		Payload:   timeline,
		Citations: []Citation{
			{Source: "ip_shipping_timelines_report", Field: "shipping_timeline", Value: desc, AsOf: rs.ExecutedAt},
		},
	}}, nil
}

// upstreamExpiry pulls the first expiry date out of producer findings.
func upstreamExpiry(upstream []Finding) string {
	for _, f := range upstream {
		switch p := f.Payload.(type) {
		case StockLevel:
			if p.ExpiryDate != "" {
				return p.ExpiryDate
			}
		case ExpiringBatch:
			if p.ExpiryDate != "" {
				return p.ExpiryDate
			}
		}
	}
	return ""
}

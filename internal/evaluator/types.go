// Package evaluator holds the domain evaluators: pure functions over
// (resolved entities, schema slice, query capability) producing cited
// Findings. Evaluators never call each other; cross-evaluator inputs arrive
// as upstream Findings supplied by the router.
package evaluator

import (
	"context"
	"fmt"
	"time"

	"controltower/internal/catalog"
	"controltower/internal/store"
)

// Citation grounds one fact in a specific source location.
type Citation struct {
	Source string    `json:"source"`
	Field  string    `json:"field"`
	Value  string    `json:"value"`
	AsOf   time.Time `json:"as_of"`
}

// Finding is a cited, typed fact produced by one evaluator. Immutable after
// creation; consumed only by the aggregator.
type Finding struct {
	Evaluator string     `json:"evaluator"`
	Kind      string     `json:"kind"`
	Key       string     `json:"key"` // semantic field key for conflict grouping
	Payload   any        `json:"payload,omitempty"`
	Citations []Citation `json:"citations"`
	NotFound  bool       `json:"not_found,omitempty"`
}

// Finding kinds.
const (
	KindExpiringBatch   = "expiring-batch"
	KindStockLevel      = "stock-level"
	KindShortfall       = "shortfall"
	KindShipping        = "shipping-timeline"
	KindRegulatory      = "regulatory-status"
	KindTechnical       = "technical-history"
	KindPurchase        = "purchase-requirement"
	KindOutstanding     = "outstanding-order"
	KindNotFound        = "not-found"
	KindCheckIncomplete = "check-incomplete"
)

// Severity buckets shared by expiry alerts and shortfall predictions.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
)

// ExpiringBatch is an allocated batch approaching expiry.
type ExpiringBatch struct {
	BatchID       string   `json:"batch_id"`
	MaterialID    string   `json:"material_id,omitempty"`
	Material      string   `json:"material"`
	TrialAlias    string   `json:"trial_alias,omitempty"`
	Location      string   `json:"location"`
	ExpiryDate    string   `json:"expiry_date"`
	DaysRemaining int      `json:"days_remaining"`
	Quantity      float64  `json:"quantity"`
	Unit          string   `json:"unit"`
	Severity      Severity `json:"severity"`
}

// StockLevel is the current stock of one material at one location.
type StockLevel struct {
	BatchID    string  `json:"batch_id,omitempty"`
	Material   string  `json:"material"`
	TrialAlias string  `json:"trial_alias,omitempty"`
	Location   string  `json:"location"`
	Quantity   float64 `json:"quantity"`
	Unit       string  `json:"unit"`
	ExpiryDate string  `json:"expiry_date,omitempty"`
}

// Shortfall is a projected supply gap for one trial/country pair.
type Shortfall struct {
	Country               string   `json:"country"`
	TrialAlias            string   `json:"trial_alias"`
	CurrentStock          float64  `json:"current_stock"`
	WeeklyEnrollment      float64  `json:"weekly_enrollment"`
	ProjectedDemand       float64  `json:"projected_8week_demand"`
	Shortfall             float64  `json:"shortfall"`
	Severity              Severity `json:"severity"`
	EstimatedStockoutDate string   `json:"estimated_stockout_date,omitempty"`
}

// ShippingTimeline is the door-to-door lead time to one country, optionally
// judged against an upstream expiry date.
type ShippingTimeline struct {
	Country     string `json:"country"`
	Days        int    `json:"days"`
	Description string `json:"description"`
	Feasible    *bool  `json:"feasible,omitempty"`
	ArrivalDate string `json:"arrival_date,omitempty"`
	ExpiryDate  string `json:"expiry_date,omitempty"`
}

// RegulatoryStatus is the approval state of one country.
type RegulatoryStatus struct {
	Country         string `json:"country"`
	Approved        bool   `json:"approved"`
	HealthAuthority string `json:"health_authority,omitempty"`
	ApprovedDate    string `json:"approved_date,omitempty"`
	RegulatoryID    string `json:"regulatory_id,omitempty"`
	Submissions     int    `json:"submissions"`
}

// TechnicalHistory is the shelf-life re-evaluation history of one lot.
type TechnicalHistory struct {
	Lot         string `json:"lot"`
	Requests    int    `json:"requests"`
	LastStatus  string `json:"last_status,omitempty"`
	LastCreated string `json:"last_created,omitempty"`
}

// Querier is the query-execution capability handed to evaluators. Satisfied
// by *store.Store.
type Querier interface {
	Execute(ctx context.Context, query string) (*store.ResultSet, error)
}

// Request is the evaluator input: resolved entities keyed by kind, the
// request subkind, the schema slice, upstream producer findings, and the
// evaluation clock.
type Request struct {
	Entities map[string]string
	Subkind  string
	Slice    []catalog.SchemaDescriptor
	Upstream []Finding
	Now      time.Time
}

// Evaluator is one domain evaluator.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, q Querier, req Request) ([]Finding, error)
}

// notFoundFinding records that a source was checked and came back empty.
// An empty result set is a valid outcome, not an error.
func notFoundFinding(evaluator, source, key, detail string, asOf time.Time) Finding {
	return Finding{
		Evaluator: evaluator,
		Kind:      KindNotFound,
		Key:       key,
		NotFound:  true,
		Payload:   map[string]string{"checked": source, "detail": detail},
		Citations: []Citation{{Source: source, Field: "*", Value: "no rows", AsOf: asOf}},
	}
}

// rowString reads a column as a string, tolerating NULL and numeric values.
func rowString(row store.Row, col string) string {
	v, ok := row[col]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// rowFloat reads a column as a float64, tolerating integer and text storage.
func rowFloat(row store.Row, col string) float64 {
	switch v := row[col].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case string:
		var f float64
		fmt.Sscanf(v, "%f", &f)
		return f
	default:
		return 0
	}
}

// rowInt reads a column as an int.
func rowInt(row store.Row, col string) int {
	return int(rowFloat(row, col))
}

package synthesis

import (
	"sort"
	"time"

	"controltower/internal/evaluator"
)

// WatchReport is the autonomous-mode output. Its JSON shape is a fixed
// contract for downstream consumers; fields keep a deterministic order and
// every category carries explicit counts.
type WatchReport struct {
	AlertDate            string                `json:"alert_date"`
	RiskSummary          RiskSummary           `json:"risk_summary"`
	ExpiryAlerts         []ExpiryAlert         `json:"expiry_alerts"`
	ShortfallPredictions []ShortfallPrediction `json:"shortfall_predictions"`
	Conflicts            []Conflict            `json:"conflicts,omitempty"`
	FlaggedFindings      []evaluator.Finding   `json:"flagged_findings,omitempty"`
}

// RiskSummary carries the category counts.
type RiskSummary struct {
	TotalExpiringBatches      int `json:"total_expiring_batches"`
	CriticalBatches           int `json:"critical_batches"`
	TotalShortfallPredictions int `json:"total_shortfall_predictions"`
	CriticalShortfalls        int `json:"critical_shortfalls"`
}

// ExpiryAlert is one expiring batch entry.
type ExpiryAlert struct {
	Severity      evaluator.Severity `json:"severity"`
	BatchID       string             `json:"batch_id"`
	Material      string             `json:"material"`
	Location      string             `json:"location"`
	ExpiryDate    string             `json:"expiry_date"`
	DaysRemaining int                `json:"days_remaining"`
	Quantity      float64            `json:"quantity"`
	Unit          string             `json:"unit"`
}

// ShortfallPrediction is one projected supply gap entry. Shortfall is
// reported as a positive magnitude.
type ShortfallPrediction struct {
	Severity             evaluator.Severity `json:"severity"`
	Country              string             `json:"country"`
	Material             string             `json:"material"`
	CurrentStock         float64            `json:"current_stock"`
	Projected8WeekDemand float64            `json:"projected_8week_demand"`
	Shortfall            float64            `json:"shortfall"`
	EstimatedStockout    string             `json:"estimated_stockout_date,omitempty"`
}

var severityRank = map[evaluator.Severity]int{
	evaluator.SeverityCritical: 0,
	evaluator.SeverityHigh:     1,
	evaluator.SeverityMedium:   2,
}

// BuildWatchReport assembles the autonomous report from evaluator findings.
// Entries sort by severity, then urgency, then identifier, so identical
// inputs produce byte-identical output.
func BuildWatchReport(now time.Time, findings []evaluator.Finding) WatchReport {
	valid, flagged := Validate(findings)
	conflicts := DetectConflicts(valid)

	report := WatchReport{
		AlertDate:            now.Format("2006-01-02"),
		ExpiryAlerts:         []ExpiryAlert{},
		ShortfallPredictions: []ShortfallPrediction{},
		Conflicts:            conflicts,
		FlaggedFindings:      flagged,
	}

	for _, f := range valid {
		switch p := f.Payload.(type) {
		case evaluator.ExpiringBatch:
			report.ExpiryAlerts = append(report.ExpiryAlerts, ExpiryAlert{
				Severity:      p.Severity,
				BatchID:       p.BatchID,
				Material:      p.Material,
				Location:      p.Location,
				ExpiryDate:    p.ExpiryDate,
				DaysRemaining: p.DaysRemaining,
				Quantity:      p.Quantity,
				Unit:          p.Unit,
			})
		case evaluator.Shortfall:
			report.ShortfallPredictions = append(report.ShortfallPredictions, ShortfallPrediction{
				Severity:             p.Severity,
				Country:              p.Country,
				Material:             p.TrialAlias,
				CurrentStock:         p.CurrentStock,
				Projected8WeekDemand: p.ProjectedDemand,
				Shortfall:            -p.Shortfall,
				EstimatedStockout:    p.EstimatedStockoutDate,
			})
		}
	}

	sort.SliceStable(report.ExpiryAlerts, func(i, j int) bool {
		a, b := report.ExpiryAlerts[i], report.ExpiryAlerts[j]
		if severityRank[a.Severity] != severityRank[b.Severity] {
			return severityRank[a.Severity] < severityRank[b.Severity]
		}
		if a.DaysRemaining != b.DaysRemaining {
			return a.DaysRemaining < b.DaysRemaining
		}
		return a.BatchID < b.BatchID
	})
	sort.SliceStable(report.ShortfallPredictions, func(i, j int) bool {
		a, b := report.ShortfallPredictions[i], report.ShortfallPredictions[j]
		if severityRank[a.Severity] != severityRank[b.Severity] {
			return severityRank[a.Severity] < severityRank[b.Severity]
		}
		if a.Shortfall != b.Shortfall {
			return a.Shortfall > b.Shortfall
		}
		return a.Country+a.Material < b.Country+b.Material
	})

	report.RiskSummary.TotalExpiringBatches = len(report.ExpiryAlerts)
	report.RiskSummary.TotalShortfallPredictions = len(report.ShortfallPredictions)
	for _, a := range report.ExpiryAlerts {
		if a.Severity == evaluator.SeverityCritical {
			report.RiskSummary.CriticalBatches++
		}
	}
	for _, s := range report.ShortfallPredictions {
		if s.Severity == evaluator.SeverityCritical {
			report.RiskSummary.CriticalShortfalls++
		}
	}
	return report
}

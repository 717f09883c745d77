// Package synthesis is the aggregation layer: it validates citations,
// surfaces conflicts, and renders the two output contracts (the autonomous
// watch report and the interactive assessment). Only this package constructs
// end-user-facing text; raw store errors never pass through it.
package synthesis

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"controltower/internal/evaluator"
	"controltower/internal/logging"
)

// Conflict is a detected disagreement between findings on the same semantic
// key. Never auto-resolved; both sides are carried to the output.
type Conflict struct {
	Key    string          `json:"key"`
	Values []ConflictValue `json:"values"`
}

// ConflictValue is one side of a conflict.
type ConflictValue struct {
	Value     string               `json:"value"`
	Evaluator string               `json:"evaluator"`
	Citations []evaluator.Citation `json:"citations"`
	AsOf      time.Time            `json:"as_of"`
}

// Validate splits findings into cited and flagged. A finding without a
// citation is rejected from the citable set but retained, flagged, so the
// gap is visible rather than silently dropped.
func Validate(findings []evaluator.Finding) (valid, flagged []evaluator.Finding) {
	for _, f := range findings {
		if len(f.Citations) == 0 {
			flagged = append(flagged, f)
			continue
		}
		valid = append(valid, f)
	}
	if len(flagged) > 0 {
		logging.For(logging.CategorySynthesis).Warnw("findings rejected for missing citations", "count", len(flagged))
	}
	return valid, flagged
}

// DetectConflicts groups findings by semantic key and reports every key where
// two findings disagree on the value. Output is sorted by key so repeated
// runs order identically.
func DetectConflicts(findings []evaluator.Finding) []Conflict {
	byKey := make(map[string][]evaluator.Finding)
	var keys []string
	for _, f := range findings {
		if f.Key == "" || f.NotFound {
			continue
		}
		if _, seen := byKey[f.Key]; !seen {
			keys = append(keys, f.Key)
		}
		byKey[f.Key] = append(byKey[f.Key], f)
	}
	sort.Strings(keys)

	var conflicts []Conflict
	for _, key := range keys {
		group := byKey[key]
		if len(group) < 2 {
			continue
		}
		values := make([]ConflictValue, 0, len(group))
		distinct := make(map[string]bool)
		for _, f := range group {
			v := payloadValue(f)
			distinct[v] = true
			values = append(values, ConflictValue{
				Value:     v,
				Evaluator: f.Evaluator,
				Citations: f.Citations,
				AsOf:      asOf(f),
			})
		}
		if len(distinct) < 2 {
			continue
		}
		conflicts = append(conflicts, Conflict{Key: key, Values: values})
	}
	if len(conflicts) > 0 {
		logging.For(logging.CategorySynthesis).Warnw("conflicting findings surfaced", "conflicts", len(conflicts))
	}
	return conflicts
}

// payloadValue renders a finding's payload as a comparable string. JSON keeps
// the comparison deterministic across payload types.
func payloadValue(f evaluator.Finding) string {
	switch p := f.Payload.(type) {
	case evaluator.StockLevel:
		return fmt.Sprintf("%v %s", p.Quantity, p.Unit)
	case evaluator.ShippingTimeline:
		return fmt.Sprintf("%d days", p.Days)
	default:
		b, err := json.Marshal(f.Payload)
		if err != nil {
			return fmt.Sprintf("%v", f.Payload)
		}
		return string(b)
	}
}

// asOf picks the earliest citation timestamp as the finding's as-of time.
func asOf(f evaluator.Finding) time.Time {
	var t time.Time
	for _, c := range f.Citations {
		if t.IsZero() || c.AsOf.Before(t) {
			t = c.AsOf
		}
	}
	return t
}

package evaluator

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// The report tables store several values as free text: monthly enrollment as
// a comma-separated string, shipping timelines as "N days door-to-door",
// depot locations as "Name (Country)". The parsers here normalize those.

var (
	daysRe     = regexp.MustCompile(`(?i)(\d+)\s*days?`)
	locationRe = regexp.MustCompile(`\(([^)]+)\)`)
)

// ParseMonthlyEnrollment parses a comma-separated monthly enrollment string
// such as "5, 4, 5, 4, 6, 0, 8, 10, 4, 8, 4, 8" (Jan-Dec). Unparseable
// entries are skipped.
func ParseMonthlyEnrollment(s string) []int {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	if s == "" {
		return nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// WeeklyEnrollment averages the last recentMonths of enrollment and converts
// to a weekly rate at 4 weeks per month.
func WeeklyEnrollment(monthly []int, recentMonths int) float64 {
	if len(monthly) == 0 {
		return 0
	}
	if recentMonths <= 0 {
		recentMonths = 1
	}
	if recentMonths > len(monthly) {
		recentMonths = len(monthly)
	}
	recent := monthly[len(monthly)-recentMonths:]
	sum := 0
	for _, n := range recent {
		sum += n
	}
	avgMonthly := float64(sum) / float64(len(recent))
	return avgMonthly / 4.0
}

// ProjectedDemand projects enrollment-driven demand weeks ahead using the
// last month's rate.
func ProjectedDemand(monthly []int, weeks int) float64 {
	return WeeklyEnrollment(monthly, 1) * float64(weeks)
}

// ParseShippingTimeline extracts the day count from text like
// "6 days door-to-door". Returns 0 when no day count is present.
func ParseShippingTimeline(s string) int {
	m := daysRe.FindStringSubmatch(s)
	if len(m) < 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// ExtractLocation pulls the parenthesized country out of a depot descriptor
// like "Coreyshire Logistics Center (Saint Kitts and Nevis)".
func ExtractLocation(s string) string {
	m := locationRe.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// StockoutDate estimates when stock runs out at the given weekly consumption
// rate. The second return is false when no stockout is expected (no
// consumption). Zero or negative stock means the stockout is now.
func StockoutDate(currentStock, weeklyRate float64, now time.Time) (time.Time, bool) {
	if weeklyRate <= 0 {
		return time.Time{}, false
	}
	if currentStock <= 0 {
		return now, true
	}
	days := int(currentStock / weeklyRate * 7)
	return now.AddDate(0, 0, days), true
}

// ClassifyExpirySeverity buckets days-to-expiry: CRITICAL under 30 days,
// HIGH under 60, MEDIUM otherwise.
func ClassifyExpirySeverity(daysRemaining int) Severity {
	switch {
	case daysRemaining < 30:
		return SeverityCritical
	case daysRemaining < 60:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// ClassifyShortfallSeverity buckets a projected shortfall (negative values
// are gaps): CRITICAL below the criticalBelow floor, HIGH otherwise. A
// non-negative floor falls back to the default of 50 units short.
func ClassifyShortfallSeverity(shortfall, criticalBelow float64) Severity {
	if criticalBelow >= 0 {
		criticalBelow = -50
	}
	if shortfall < criticalBelow {
		return SeverityCritical
	}
	return SeverityHigh
}

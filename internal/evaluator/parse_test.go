package evaluator

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseMonthlyEnrollment(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []int
	}{
		{"full year", "5, 4, 5, 4, 6, 0, 8, 10, 4, 8, 4, 8", []int{5, 4, 5, 4, 6, 0, 8, 10, 4, 8, 4, 8}},
		{"quoted", `"3, 2, 1"`, []int{3, 2, 1}},
		{"empty", "", nil},
		{"junk entries skipped", "3, x, 5", []int{3, 5}},
		{"trailing comma", "1, 2,", []int{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseMonthlyEnrollment(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseMonthlyEnrollment(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestWeeklyEnrollmentAndProjection(t *testing.T) {
	monthly := ParseMonthlyEnrollment("5, 4, 5, 4, 6, 0, 8, 10, 4, 8, 4, 8")

	if got := WeeklyEnrollment(monthly, 1); got != 2.0 {
		t.Errorf("WeeklyEnrollment last month = %v, want 2.0", got)
	}
	if got := ProjectedDemand(monthly, 8); got != 16.0 {
		t.Errorf("ProjectedDemand 8 weeks = %v, want 16.0", got)
	}
	if got := WeeklyEnrollment(nil, 1); got != 0 {
		t.Errorf("WeeklyEnrollment(nil) = %v, want 0", got)
	}
	// Lookback longer than the data falls back to the full series.
	if got := WeeklyEnrollment([]int{4, 8}, 12); got != 1.5 {
		t.Errorf("WeeklyEnrollment short series = %v, want 1.5", got)
	}
}

func TestParseShippingTimeline(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"6 days door-to-door", 6},
		{"13 days door-to-door", 13},
		{"1 day", 1},
		{"expedited", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := ParseShippingTimeline(tt.in); got != tt.want {
			t.Errorf("ParseShippingTimeline(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestExtractLocation(t *testing.T) {
	if got := ExtractLocation("Coreyshire Logistics Center (Saint Kitts and Nevis)"); got != "Saint Kitts and Nevis" {
		t.Errorf("ExtractLocation = %q", got)
	}
	if got := ExtractLocation("No parens here"); got != "" {
		t.Errorf("ExtractLocation without parens = %q, want empty", got)
	}
}

func TestStockoutDate(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	got, ok := StockoutDate(100, 10.0, now)
	if !ok {
		t.Fatal("expected a stockout date")
	}
	if want := "2025-03-12"; got.Format("2006-01-02") != want {
		t.Errorf("StockoutDate = %s, want %s", got.Format("2006-01-02"), want)
	}

	if _, ok := StockoutDate(100, 0, now); ok {
		t.Error("no consumption must mean no stockout")
	}
	got, ok = StockoutDate(0, 5, now)
	if !ok || !got.Equal(now) {
		t.Errorf("zero stock should stock out now, got %v ok=%v", got, ok)
	}
}

func TestClassifyExpirySeverity(t *testing.T) {
	tests := []struct {
		days int
		want Severity
	}{
		{25, SeverityCritical},
		{29, SeverityCritical},
		{30, SeverityHigh},
		{45, SeverityHigh},
		{59, SeverityHigh},
		{60, SeverityMedium},
		{75, SeverityMedium},
	}
	for _, tt := range tests {
		if got := ClassifyExpirySeverity(tt.days); got != tt.want {
			t.Errorf("ClassifyExpirySeverity(%d) = %s, want %s", tt.days, got, tt.want)
		}
	}
}

func TestClassifyShortfallSeverity(t *testing.T) {
	if got := ClassifyShortfallSeverity(-51, -50); got != SeverityCritical {
		t.Errorf("shortfall -51 = %s, want CRITICAL", got)
	}
	if got := ClassifyShortfallSeverity(-50, -50); got != SeverityHigh {
		t.Errorf("shortfall -50 = %s, want HIGH", got)
	}
	if got := ClassifyShortfallSeverity(-10, -50); got != SeverityHigh {
		t.Errorf("shortfall -10 = %s, want HIGH", got)
	}
	// Configured floor moves the boundary.
	if got := ClassifyShortfallSeverity(-11, -10); got != SeverityCritical {
		t.Errorf("shortfall -11 with floor -10 = %s, want CRITICAL", got)
	}
	// Non-negative floor falls back to the default.
	if got := ClassifyShortfallSeverity(-51, 0); got != SeverityCritical {
		t.Errorf("shortfall -51 with zero floor = %s, want CRITICAL", got)
	}
}

package synthesis

import (
	"fmt"
	"sort"
	"strings"

	"controltower/internal/evaluator"
)

// Verdict is the single top-level answer of an interactive assessment.
type Verdict string

const (
	VerdictYes           Verdict = "YES"
	VerdictNo            Verdict = "NO"
	VerdictConditional   Verdict = "CONDITIONAL"
	VerdictIndeterminate Verdict = "INDETERMINATE"
)

// CheckStatus is the outcome of one contributing check.
type CheckStatus string

const (
	CheckPass          CheckStatus = "PASS"
	CheckFail          CheckStatus = "FAIL"
	CheckIndeterminate CheckStatus = "INDETERMINATE"
)

// Check is one contributing assessment check. Incomplete marks a check that
// could not be completed at all (for example an exhausted query); a failed
// check is never reported as a pass.
type Check struct {
	Name       string      `json:"name"`
	Status     CheckStatus `json:"status"`
	Detail     string      `json:"detail"`
	Source     string      `json:"source"`
	Incomplete bool        `json:"incomplete,omitempty"`
}

// Assessment is the interactive-mode output.
type Assessment struct {
	Question        string              `json:"question"`
	Verdict         Verdict             `json:"verdict"`
	Recommendation  string              `json:"recommendation"`
	Checks          []Check             `json:"checks"`
	Findings        []evaluator.Finding `json:"findings"`
	Conflicts       []Conflict          `json:"conflicts,omitempty"`
	FlaggedFindings []evaluator.Finding `json:"flagged_findings,omitempty"`
}

// AssessExtension renders the shelf-life extension decision for one batch and
// country from the four evaluators' findings. incomplete maps evaluator names
// to the error that stopped them; any entry forces the corresponding check,
// and with it the verdict, away from a silent pass.
func AssessExtension(batch, country string, findings []evaluator.Finding, incomplete map[string]error) Assessment {
	valid, flagged := Validate(findings)
	conflicts := DetectConflicts(valid)

	checks := []Check{
		buildTechnicalCheck(valid, incomplete),
		buildRegulatoryCheck(country, valid, incomplete),
		buildLogisticsCheck(country, valid, incomplete),
	}
	verdict := decide(checks)

	return Assessment{
		Question:        fmt.Sprintf("Can batch %s be extended for %s?", batch, country),
		Verdict:         verdict,
		Recommendation:  recommendation(verdict, batch, country),
		Checks:          checks,
		Findings:        valid,
		Conflicts:       conflicts,
		FlaggedFindings: flagged,
	}
}

// decide applies the verdict rules: a regulatory FAIL is decisive NO; any
// incomplete check forces INDETERMINATE; all passes mean YES; inconclusive
// checks without a failure mean CONDITIONAL; anything else is NO.
func decide(checks []Check) Verdict {
	var anyIncomplete, anyIndeterminate, anyFail bool
	allPass := true
	for _, c := range checks {
		if c.Incomplete {
			anyIncomplete = true
		}
		switch c.Status {
		case CheckFail:
			anyFail = true
			allPass = false
			if c.Name == "regulatory" {
				return VerdictNo
			}
		case CheckIndeterminate:
			anyIndeterminate = true
			allPass = false
		}
	}
	if anyIncomplete {
		return VerdictIndeterminate
	}
	if allPass {
		return VerdictYes
	}
	if anyIndeterminate && !anyFail {
		return VerdictConditional
	}
	return VerdictNo
}

func recommendation(v Verdict, batch, country string) string {
	switch v {
	case VerdictYes:
		return fmt.Sprintf("Proceed with the shelf-life extension for batch %s in %s. All required checks passed.", batch, country)
	case VerdictNo:
		return fmt.Sprintf("Do not extend batch %s for %s. A required check failed.", batch, country)
	case VerdictConditional:
		return fmt.Sprintf("Extension of batch %s for %s needs additional verification. Some checks were inconclusive.", batch, country)
	default:
		return fmt.Sprintf("The assessment for batch %s in %s could not be completed. Re-run once the failing checks are resolved.", batch, country)
	}
}

func buildTechnicalCheck(findings []evaluator.Finding, incomplete map[string]error) Check {
	check := Check{Name: "technical", Status: CheckIndeterminate, Source: "re_evaluation", Detail: "No re-evaluation data found."}
	if err, ok := incomplete["technical"]; ok {
		check.Incomplete = true
		check.Detail = "The technical history check could not be completed: " + summarize(err)
		return check
	}
	for _, f := range findings {
		if hist, ok := f.Payload.(evaluator.TechnicalHistory); ok {
			check.Status = CheckPass
			check.Detail = fmt.Sprintf("%d prior re-evaluation request(s) on record; latest status %q.", hist.Requests, hist.LastStatus)
			return check
		}
	}
	return check
}

func buildRegulatoryCheck(country string, findings []evaluator.Finding, incomplete map[string]error) Check {
	check := Check{Name: "regulatory", Status: CheckIndeterminate, Source: "rim",
		Detail: fmt.Sprintf("Could not verify regulatory status for %s.", country)}
	if err, ok := incomplete["regulatory"]; ok {
		check.Incomplete = true
		check.Detail = "The regulatory check could not be completed: " + summarize(err)
		return check
	}
	for _, f := range findings {
		if status, ok := f.Payload.(evaluator.RegulatoryStatus); ok {
			if status.Approved {
				check.Status = CheckPass
				check.Detail = fmt.Sprintf("Extension approved in %s by %s on %s.", status.Country, status.HealthAuthority, status.ApprovedDate)
			} else {
				check.Status = CheckFail
				check.Detail = fmt.Sprintf("No regulatory approval on record for %s (%d submission(s) found).", status.Country, status.Submissions)
			}
			return check
		}
		if f.NotFound && f.Evaluator == "regulatory" {
			check.Status = CheckFail
			check.Detail = fmt.Sprintf("No regulatory submissions on record for %s.", country)
			return check
		}
	}
	return check
}

func buildLogisticsCheck(country string, findings []evaluator.Finding, incomplete map[string]error) Check {
	check := Check{Name: "logistics", Status: CheckIndeterminate, Source: "ip_shipping_timelines_report",
		Detail: fmt.Sprintf("No shipping timeline found for %s.", country)}
	if err, ok := incomplete["logistics"]; ok {
		check.Incomplete = true
		check.Detail = "The logistics check could not be completed: " + summarize(err)
		return check
	}
	for _, f := range findings {
		if tl, ok := f.Payload.(evaluator.ShippingTimeline); ok {
			switch {
			case tl.Feasible != nil && !*tl.Feasible:
				check.Status = CheckFail
				check.Detail = fmt.Sprintf("Shipping to %s takes %d days; arrival %s is after expiry %s.", tl.Country, tl.Days, tl.ArrivalDate, tl.ExpiryDate)
			case tl.Days > 0:
				check.Status = CheckPass
				check.Detail = fmt.Sprintf("Shipping timeline to %s is %d days door-to-door.", tl.Country, tl.Days)
			}
			return check
		}
	}
	return check
}

// summarize renders an upstream error for the user without leaking raw store
// messages: structured errors already carry translated text.
func summarize(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}

// AnswerVerdict derives the generic interactive verdict for non-extension
// inquiries: YES when cited data answered the question, NO when every source
// checked came back empty, INDETERMINATE when any check was incomplete.
func AnswerVerdict(findings []evaluator.Finding, incomplete map[string]error) Verdict {
	if len(incomplete) > 0 {
		return VerdictIndeterminate
	}
	valid, _ := Validate(findings)
	if len(valid) == 0 {
		return VerdictIndeterminate
	}
	allNotFound := true
	for _, f := range valid {
		if !f.NotFound {
			allNotFound = false
			break
		}
	}
	if allNotFound {
		return VerdictNo
	}
	return VerdictYes
}

// SortedIncomplete lists incomplete evaluator names deterministically.
func SortedIncomplete(incomplete map[string]error) []string {
	names := make([]string, 0, len(incomplete))
	for name := range incomplete {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Package router classifies incoming requests. Classification is a pure
// function over the request text producing a tagged Route consumed by the
// orchestrator's dispatch table; the router holds no data access capability.
package router

import (
	"regexp"
	"strings"
)

// Mode separates the autonomous watchdog scan from conversational requests.
type Mode string

const (
	ModeAutonomous  Mode = "autonomous"
	ModeInteractive Mode = "interactive"
)

// Subkind tags the interactive request variants.
type Subkind string

const (
	SubkindExtension   Subkind = "extension"
	SubkindOutstanding Subkind = "outstanding"
	SubkindPurchase    Subkind = "purchase"
	SubkindInventory   Subkind = "inventory"
	SubkindDemand      Subkind = "demand"
	SubkindRegulatory  Subkind = "regulatory"
	SubkindLogistics   Subkind = "logistics"
	SubkindGeneral     Subkind = "general"
)

// Route is the classification result. When Ambiguous is set, nothing may be
// dispatched; Clarify carries the question to put back to the caller.
type Route struct {
	Mode       Mode
	Subkind    Subkind
	Intent     string
	Evaluators []string
	Entities   map[string][]string
	Ambiguous  bool
	Clarify    string
}

// Evaluator sets per subkind. Order matters: producers come before consumers,
// so logistics can receive inventory's expiry finding.
var dispatch = map[Subkind][]string{
	SubkindExtension:   {"inventory", "technical", "regulatory", "logistics"},
	SubkindOutstanding: {"inventory"},
	SubkindPurchase:    {"inventory"},
	SubkindInventory:   {"inventory"},
	SubkindDemand:      {"demand"},
	SubkindRegulatory:  {"regulatory"},
	SubkindLogistics:   {"logistics"},
	SubkindGeneral:     {"inventory"},
}

var autonomousKeywords = []string{
	"scheduled", "daily check", "monitoring", "watchdog",
	"run supply check", "expiry alert", "shortfall", "autonomous",
}

// Keyword sets checked in priority order. "outstanding" wins over
// "logistics" so pending-shipment questions do not fall into the timeline
// path.
var subkindKeywords = []struct {
	subkind Subkind
	intent  string
	words   []string
}{
	{SubkindOutstanding, "Outstanding shipments inquiry", []string{"outstanding", "pending"}},
	{SubkindExtension, "Shelf-life extension feasibility assessment", []string{"extend", "extension", "shelf-life", "expiry"}},
	{SubkindPurchase, "Purchase requirement inquiry", []string{"purchase", "requirement", "procurement", "supplier"}},
	{SubkindInventory, "Inventory level inquiry", []string{"stock", "inventory", "quantity", "available"}},
	{SubkindDemand, "Demand forecasting inquiry", []string{"demand", "enrollment", "forecast", "predict"}},
	{SubkindRegulatory, "Regulatory compliance inquiry", []string{"approval", "regulatory", "compliance", "approved"}},
	{SubkindLogistics, "Logistics and shipping inquiry", []string{"shipping", "timeline", "transport"}},
}

var (
	batchRe    = regexp.MustCompile(`(?i)\bLOT[- ]?(\d+)\b`)
	materialRe = regexp.MustCompile(`(?i)\bMAT-(\d+)\b`)
	trialRe    = regexp.MustCompile(`(?i)\bCT-\d+-[A-Z]+\b`)
)

var knownCountries = []string{
	"Germany", "France", "USA", "UK", "China", "Japan", "India",
	"Canada", "Australia", "Brazil", "Mexico", "Spain", "Italy",
	"Saint Kitts and Nevis",
}

// Classify routes one request. Pure: same input, same Route.
func Classify(query string) Route {
	lower := strings.ToLower(query)

	for _, kw := range autonomousKeywords {
		if strings.Contains(lower, kw) {
			return Route{
				Mode:       ModeAutonomous,
				Intent:     "Autonomous supply risk scan",
				Evaluators: []string{"inventory", "demand"},
				Entities:   extractEntities(query),
			}
		}
	}

	route := Route{
		Mode:     ModeInteractive,
		Subkind:  SubkindGeneral,
		Intent:   "General supply chain inquiry",
		Entities: extractEntities(query),
	}
	for _, set := range subkindKeywords {
		if containsAny(lower, set.words) {
			route.Subkind = set.subkind
			route.Intent = set.intent
			break
		}
	}
	route.Evaluators = dispatch[route.Subkind]

	// Ambiguity is decided before dispatch; an ambiguous route starts
	// nothing downstream.
	switch route.Subkind {
	case SubkindExtension:
		if len(route.Entities["batch"]) == 0 {
			route.Ambiguous = true
			route.Clarify = "Which batch should the extension assessment cover? Please name a lot number."
			route.Evaluators = nil
		}
	case SubkindRegulatory, SubkindLogistics:
		if len(route.Entities["country"]) == 0 {
			route.Ambiguous = true
			route.Clarify = "Which country should be checked? Please name the destination country."
			route.Evaluators = nil
		}
	}
	return route
}

// extractEntities pulls raw entity mentions out of the query text, keyed by
// kind. Values are raw mentions; canonicalization is the resolver's job.
func extractEntities(query string) map[string][]string {
	entities := make(map[string][]string)

	for _, m := range batchRe.FindAllStringSubmatch(query, -1) {
		entities["batch"] = append(entities["batch"], "LOT-"+m[1])
	}
	for _, m := range materialRe.FindAllStringSubmatch(query, -1) {
		entities["material"] = append(entities["material"], "MAT-"+m[1])
	}
	for _, m := range trialRe.FindAllString(query, -1) {
		entities["trial"] = append(entities["trial"], strings.ToUpper(m))
	}
	lower := strings.ToLower(query)
	for _, c := range knownCountries {
		if strings.Contains(lower, strings.ToLower(c)) {
			entities["country"] = append(entities["country"], c)
		}
	}
	return entities
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

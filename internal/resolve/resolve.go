// Package resolve disambiguates user-supplied entity names against canonical
// database values. Matching runs a strict ladder: exact, case-insensitive,
// punctuation-normalized, then token-sort fuzzy scoring with confidence tiers.
//
// The fuzzy score is a Levenshtein ratio over token-sorted inputs:
// both strings are lowercased, split into tokens, the tokens sorted and
// rejoined, and the score is 100*(1 - distance/maxLen). This keeps word order
// out of the comparison ("acme depot" matches "depot acme") while staying
// fully deterministic.
package resolve

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"controltower/internal/logging"
	"controltower/internal/session"
)

// Tier classifies how a raw input matched a canonical value.
type Tier string

const (
	TierExact      Tier = "exact"
	TierNormalized Tier = "normalized"
	TierFuzzyHigh  Tier = "fuzzy-high"
	TierFuzzyLow   Tier = "fuzzy-low"
	TierNone       Tier = "none"
)

// Confidence boundaries for the fuzzy tiers. Scores above AutoApplyThreshold
// are used without confirmation; scores below ConfirmThreshold force the
// caller to re-prompt.
const (
	AutoApplyThreshold = 80
	ConfirmThreshold   = 60
)

// EntityKind names the class of entity being resolved.
type EntityKind string

const (
	KindTrial    EntityKind = "trial"
	KindBatch    EntityKind = "batch"
	KindMaterial EntityKind = "material"
	KindCountry  EntityKind = "country"
	KindSite     EntityKind = "site"
)

// Candidate is the outcome of one resolution attempt.
type Candidate struct {
	RawInput     string
	Kind         EntityKind
	Canonical    string
	Tier         Tier
	Confidence   int // 0-100
	Alternatives []string

	// RequiresConfirmation is set for fuzzy-low and none tiers: the caller
	// must ask the user before any canonical value is used downstream.
	RequiresConfirmation bool
}

// AutoApply reports whether the candidate may be used without confirmation.
func (c Candidate) AutoApply() bool {
	return !c.RequiresConfirmation && c.Tier != TierNone
}

// Resolver matches raw inputs against candidate sets, consulting session
// memory for previously confirmed mappings.
type Resolver struct {
	mem *session.Memory
}

// New creates a resolver bound to one conversation's memory.
func New(mem *session.Memory) *Resolver {
	return &Resolver{mem: mem}
}

// Resolve matches rawInput against candidates. An empty candidate set is a
// valid terminal outcome (tier none, no alternatives), not an error.
func (r *Resolver) Resolve(rawInput string, candidates []string, kind EntityKind) Candidate {
	log := logging.For(logging.CategoryResolver)

	// Session override: a confirmed mapping short-circuits the ladder.
	if r.mem != nil {
		if canonical, ok := r.mem.Lookup(rawInput); ok {
			log.Debugw("session override", "raw", rawInput, "canonical", canonical)
			return Candidate{
				RawInput:   rawInput,
				Kind:       kind,
				Canonical:  canonical,
				Tier:       TierExact,
				Confidence: 100,
			}
		}
	}

	if len(candidates) == 0 {
		return Candidate{RawInput: rawInput, Kind: kind, Tier: TierNone, RequiresConfirmation: true}
	}

	// Step 1: exact byte-for-byte match.
	for _, c := range candidates {
		if rawInput == c {
			return Candidate{RawInput: rawInput, Kind: kind, Canonical: c, Tier: TierExact, Confidence: 100}
		}
	}

	// Step 2: case-insensitive match.
	for _, c := range candidates {
		if strings.EqualFold(rawInput, c) {
			return Candidate{RawInput: rawInput, Kind: kind, Canonical: c, Tier: TierNormalized, Confidence: 95}
		}
	}

	// Step 3: match after stripping non-alphanumerics and lowercasing.
	normRaw := Normalize(rawInput)
	for _, c := range candidates {
		if normRaw != "" && normRaw == Normalize(c) {
			return Candidate{RawInput: rawInput, Kind: kind, Canonical: c, Tier: TierNormalized, Confidence: 95}
		}
	}

	// Step 4: token-sort fuzzy scoring against every candidate.
	scored := scoreAll(rawInput, candidates)
	best := scored[0]

	switch {
	case best.score > AutoApplyThreshold:
		return Candidate{
			RawInput:     rawInput,
			Kind:         kind,
			Canonical:    best.value,
			Tier:         TierFuzzyHigh,
			Confidence:   best.score,
			Alternatives: values(scored[1:], 3),
		}
	case best.score >= ConfirmThreshold:
		return Candidate{
			RawInput:             rawInput,
			Kind:                 kind,
			Canonical:            best.value,
			Tier:                 TierFuzzyLow,
			Confidence:           best.score,
			Alternatives:         values(scored[1:], 2),
			RequiresConfirmation: true,
		}
	default:
		log.Debugw("no confident match", "raw", rawInput, "best", best.value, "score", best.score)
		return Candidate{
			RawInput:             rawInput,
			Kind:                 kind,
			Tier:                 TierNone,
			Confidence:           best.score,
			Alternatives:         values(scored, 5),
			RequiresConfirmation: true,
		}
	}
}

// Confirm records the caller's selection for rawInput in session memory and
// returns the resulting session-override candidate. Subsequent Resolve calls
// on the same rawInput short-circuit to this mapping.
func (r *Resolver) Confirm(rawInput, selection string, kind EntityKind) Candidate {
	canonical := selection
	if r.mem != nil {
		canonical = r.mem.Confirm(rawInput, selection)
	}
	return Candidate{
		RawInput:   rawInput,
		Kind:       kind,
		Canonical:  canonical,
		Tier:       TierExact,
		Confidence: 100,
	}
}

// Normalize lowercases and strips every non-alphanumeric rune.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TokenSortRatio scores two strings 0-100, ignoring token order.
func TokenSortRatio(a, b string) int {
	sa := tokenSort(a)
	sb := tokenSort(b)
	if sa == "" && sb == "" {
		return 0
	}
	if sa == sb {
		return 100
	}
	maxLen := len(sa)
	if len(sb) > maxLen {
		maxLen = len(sb)
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(sa, sb)
	score := 100 - (100*dist)/maxLen
	if score < 0 {
		score = 0
	}
	return score
}

func tokenSort(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	sort.Strings(fields)
	return strings.Join(fields, " ")
}

type scoredCandidate struct {
	value string
	score int
}

// scoreAll returns candidates ordered by descending score; ties break
// lexicographically so resolution is deterministic across runs.
func scoreAll(rawInput string, candidates []string) []scoredCandidate {
	scored := make([]scoredCandidate, len(candidates))
	for i, c := range candidates {
		scored[i] = scoredCandidate{value: c, score: TokenSortRatio(rawInput, c)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].value < scored[j].value
	})
	return scored
}

func values(scored []scoredCandidate, limit int) []string {
	if len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.value
	}
	return out
}

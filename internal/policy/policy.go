// Package policy implements the Policy Gate (spec §4.5): a deterministic,
// purely functional mapping from an IntentResult and the calling
// SearchContext to a PolicyDecision. It is grounded on the same
// signal-to-decision dispatch shape as the Aman-CERP-amanmcp search
// engine's weight-resolution logic (other_examples/937856b8_...), adapted
// from an inline if-chain into an ordered pipeline of named adjustments so
// each rule in the base-policy table stays independently testable.
package policy

import (
	"fmt"
	"path/filepath"
	"strings"

	"pampax/internal/pampax"
)

// SearchContext is the caller-supplied context the Policy Gate adjusts for.
type SearchContext struct {
	Repo        string
	Language    string
	QueryLength int
	Budget      int
}

// RepoOverride binds a repo pattern (exact name, or a "*"-glob) to a base
// PolicyDecision that replaces the intent-derived base for matching repos.
type RepoOverride struct {
	Pattern string
	Policy  pampax.PolicyDecision
}

var basePolicies = map[pampax.IntentLabel]pampax.PolicyDecision{
	pampax.IntentSymbol:   {MaxDepth: 2, EarlyStopThreshold: 3, IncludeSymbols: true, IncludeFiles: false, IncludeContent: true, SeedWeights: map[string]float64{}},
	pampax.IntentConfig:   {MaxDepth: 1, EarlyStopThreshold: 2, IncludeSymbols: false, IncludeFiles: true, IncludeContent: true, SeedWeights: map[string]float64{}},
	pampax.IntentAPI:      {MaxDepth: 2, EarlyStopThreshold: 2, IncludeSymbols: true, IncludeFiles: false, IncludeContent: true, SeedWeights: map[string]float64{}},
	pampax.IntentIncident: {MaxDepth: 3, EarlyStopThreshold: 5, IncludeSymbols: true, IncludeFiles: true, IncludeContent: true, SeedWeights: map[string]float64{}},
	pampax.IntentSearch:   {MaxDepth: 2, EarlyStopThreshold: 10, IncludeSymbols: true, IncludeFiles: true, IncludeContent: true, SeedWeights: map[string]float64{}},
}

// languageBoosts maps a language to the seed keys it boosts, per spec §4.5
// rule 5.
var languageBoosts = map[string][]string{
	"python":     {"definition", "implementation"},
	"typescript": {"handler", "middleware"},
	"java":       {"class"},
	"go":         {"package"},
}

// Evaluate computes a PolicyDecision for intent under ctx, applying the
// ordered adjustments from spec §4.5: repo override, confidence, query
// length, budget, language. overrides may be nil.
func Evaluate(intent pampax.IntentResult, ctx SearchContext, overrides []RepoOverride) pampax.PolicyDecision {
	base, ok := basePolicies[intent.Intent]
	if !ok {
		base = basePolicies[pampax.IntentSearch]
	}
	decision := clonePolicy(base)

	if ov, matched := matchRepoOverride(ctx.Repo, overrides); matched {
		decision = clonePolicy(ov)
	}

	applyConfidence(&decision, intent.Confidence)
	applyQueryLength(&decision, ctx.QueryLength)
	applyBudget(&decision, ctx.Budget)
	applyLanguage(&decision, ctx.Language)

	decision.MaxDepth = clampInt(decision.MaxDepth, 1, 10)
	decision.EarlyStopThreshold = clampInt(decision.EarlyStopThreshold, 1, 50)
	return decision
}

func clonePolicy(p pampax.PolicyDecision) pampax.PolicyDecision {
	weights := make(map[string]float64, len(p.SeedWeights))
	for k, v := range p.SeedWeights {
		weights[k] = v
	}
	p.SeedWeights = weights
	return p
}

// matchRepoOverride picks an exact match first, then the most specific
// (longest-pattern) glob match via path/filepath.Match, which handles "*"
// anywhere in the pattern (leading, trailing, or interior) rather than only
// a trailing wildcard.
func matchRepoOverride(repo string, overrides []RepoOverride) (pampax.PolicyDecision, bool) {
	if repo == "" {
		return pampax.PolicyDecision{}, false
	}
	for _, ov := range overrides {
		if ov.Pattern == repo {
			return ov.Policy, true
		}
	}

	var best RepoOverride
	bestLen := -1
	for _, ov := range overrides {
		if !strings.Contains(ov.Pattern, "*") {
			continue
		}
		matched, err := filepath.Match(ov.Pattern, repo)
		if err != nil || !matched {
			continue
		}
		if len(ov.Pattern) > bestLen {
			best = ov
			bestLen = len(ov.Pattern)
		}
	}
	if bestLen >= 0 {
		return best.Policy, true
	}
	return pampax.PolicyDecision{}, false
}

func applyConfidence(d *pampax.PolicyDecision, confidence float64) {
	switch {
	case confidence < 0.4:
		d.MaxDepth = maxInt(1, d.MaxDepth-1)
		d.EarlyStopThreshold = maxInt(1, d.EarlyStopThreshold-1)
	case confidence > 0.8:
		d.MaxDepth++
		d.EarlyStopThreshold += 2
	}
}

func applyQueryLength(d *pampax.PolicyDecision, length int) {
	switch {
	case length < 10 && length > 0:
		d.MaxDepth++
	case length > 50:
		d.MaxDepth = maxInt(1, d.MaxDepth-1)
		d.EarlyStopThreshold = maxInt(1, d.EarlyStopThreshold-1)
	}
}

func applyBudget(d *pampax.PolicyDecision, budget int) {
	if budget > 0 && budget < 2000 {
		d.IncludeContent = false
		d.EarlyStopThreshold = maxInt(1, d.EarlyStopThreshold-1)
	}
}

func applyLanguage(d *pampax.PolicyDecision, language string) {
	boosts, ok := languageBoosts[strings.ToLower(language)]
	if !ok {
		return
	}
	for _, key := range boosts {
		d.SeedWeights[key] = d.SeedWeights[key] + 1
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Validate checks a PolicyDecision's invariants: maxDepth in [1,10],
// earlyStop in [1,50], and every seed weight non-negative and ≤ 5.
func Validate(d pampax.PolicyDecision) []error {
	var errs []error
	if d.MaxDepth < 1 || d.MaxDepth > 10 {
		errs = append(errs, fmt.Errorf("policy: maxDepth %d out of range [1,10]", d.MaxDepth))
	}
	if d.EarlyStopThreshold < 1 || d.EarlyStopThreshold > 50 {
		errs = append(errs, fmt.Errorf("policy: earlyStopThreshold %d out of range [1,50]", d.EarlyStopThreshold))
	}
	for k, w := range d.SeedWeights {
		if w < 0 || w > 5 {
			errs = append(errs, fmt.Errorf("policy: seed weight %q=%v out of range [0,5]", k, w))
		}
	}
	return errs
}

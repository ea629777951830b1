// Package intent implements the Intent Classifier (spec §4.4): a
// deterministic, sub-10ms mapping from a raw query string to an
// IntentResult. The classifier contract leaves the implementation
// strategy open ("rules vs ML is not pinned" — spec §9); PAMPAX picks a
// rule-based classifier in the style of the Aman-CERP-amanmcp search
// engine's classifyQueryType seam (other_examples/937856b8_..., a
// signal-driven dispatcher with a safe fallback), since it is the only
// classification precedent in the retrieval pack and trivially satisfies
// the "never throws, deterministic, ≤10ms" contract.
package intent

import (
	"regexp"
	"strings"

	"pampax/internal/pampax"
)

// Hints are optional context the caller already knows about the query.
type Hints struct {
	Repo     string
	Language string
}

var (
	errorWords   = []string{"error", "exception", "panic", "crash", "fail", "bug", "stack trace", "traceback"}
	configWords  = []string{"config", "configuration", "setting", "env", "yaml", "toml", "json", ".env"}
	apiWords     = []string{"endpoint", "route", "handler", "api", "rest", "http", "request", "response"}
	symbolRegex  = regexp.MustCompile(`\b([A-Z][a-zA-Z0-9]*|[a-z]+(?:[A-Z][a-z0-9]*)+|[a-z_][a-z0-9_]*\()\b`)
	fileRegex    = regexp.MustCompile(`[\w./-]+\.\w{1,8}\b`)
	routeRegex   = regexp.MustCompile(`/[\w{}:/-]+`)
)

// Classify maps query + hints to an IntentResult. It never throws: any
// internal failure path (there are none today, but future signal extraction
// may add fallible steps) must still return the §4.4 "total uncertainty"
// default rather than propagate an error.
func Classify(query string, hints Hints) (result pampax.IntentResult) {
	defer func() {
		if recover() != nil {
			result = defaultResult()
		}
	}()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return defaultResult()
	}

	entities := extractEntities(query)

	switch {
	case containsAny(q, errorWords):
		return pampax.IntentResult{Intent: pampax.IntentIncident, Confidence: 0.85, Entities: entities, SuggestedPolicies: []string{"incident"}}
	case containsAny(q, apiWords) || routeRegex.MatchString(query):
		return pampax.IntentResult{Intent: pampax.IntentAPI, Confidence: 0.75, Entities: entities, SuggestedPolicies: []string{"api"}}
	case containsAny(q, configWords):
		return pampax.IntentResult{Intent: pampax.IntentConfig, Confidence: 0.75, Entities: entities, SuggestedPolicies: []string{"config"}}
	case hasSymbolShape(query):
		return pampax.IntentResult{Intent: pampax.IntentSymbol, Confidence: 0.7, Entities: entities, SuggestedPolicies: []string{"symbol"}}
	default:
		conf := 0.6
		if len(entities) == 0 {
			conf = 0.5
		}
		return pampax.IntentResult{Intent: pampax.IntentSearch, Confidence: conf, Entities: entities, SuggestedPolicies: []string{"search"}}
	}
}

func defaultResult() pampax.IntentResult {
	return pampax.IntentResult{Intent: pampax.IntentSearch, Confidence: 0.5, Entities: nil}
}

func containsAny(q string, words []string) bool {
	for _, w := range words {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}

func hasSymbolShape(query string) bool {
	return symbolRegex.MatchString(query)
}

// extractEntities tags tokens as function|class|file|route|error|other.
func extractEntities(query string) []pampax.Entity {
	seen := make(map[string]bool)
	var out []pampax.Entity

	add := func(text, kind string) {
		k := kind + ":" + text
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, pampax.Entity{Text: text, Kind: kind})
	}

	for _, m := range fileRegex.FindAllString(query, -1) {
		add(m, "file")
	}
	for _, m := range routeRegex.FindAllString(query, -1) {
		add(m, "route")
	}
	for _, m := range symbolRegex.FindAllString(query, -1) {
		if strings.HasSuffix(m, "(") {
			add(strings.TrimSuffix(m, "("), "function")
		} else if len(m) > 0 && m[0] >= 'A' && m[0] <= 'Z' {
			add(m, "class")
		} else {
			add(m, "other")
		}
	}
	lower := strings.ToLower(query)
	for _, w := range errorWords {
		if strings.Contains(lower, w) {
			add(w, "error")
		}
	}
	return out
}

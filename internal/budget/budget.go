// Package budget implements the Token-Budget Tracker (spec §4.2): a mutable
// per-query accounting of tokens spent against a budget, plus
// fit_to_budget's greedy best-fit packing with truncation stubs. The
// packing strategy (sort by score, include while it fits, replace the first
// over-budget item with a marker) follows
// AbdelazizMoustafa10m-Harvx's BudgetEnforcer.Enforce, generalized from a
// file-tier ordering to a free-form relevance-scored item list.
package budget

import (
	"fmt"
	"sort"
)

// Item is one accounted unit: a chunk summary and its token cost.
type Item struct {
	Summary   string
	Tokens    int
	Truncated bool // marks a truncation stub produced by FitToBudget
}

// Tracker holds a mutable used counter, a budget, and the ordered items
// added so far.
type Tracker struct {
	budget int
	used   int
	items  []Item
}

// NewTracker constructs a Tracker against budget tokens.
func NewTracker(budget int) *Tracker {
	return &Tracker{budget: budget}
}

// Report is tracker.report()'s output.
type Report struct {
	Budget     int
	Used       int
	Remaining  int
	Percentage float64
	Items      []Item
}

// AddItem records an item and returns the remaining budget afterward.
// Remaining may go negative; callers check CanFit beforehand when they need
// to stay within budget rather than merely track overage.
func (t *Tracker) AddItem(summary string, tokens int) int {
	t.items = append(t.items, Item{Summary: summary, Tokens: tokens})
	t.used += tokens
	return t.budget - t.used
}

// CanFit reports whether tokens more would still fit within budget.
func (t *Tracker) CanFit(tokens int) bool {
	return t.used+tokens <= t.budget
}

// Report returns the current accounting snapshot.
func (t *Tracker) Report() Report {
	pct := 0.0
	if t.budget > 0 {
		pct = float64(t.used) / float64(t.budget) * 100
	}
	items := make([]Item, len(t.items))
	copy(items, t.items)
	return Report{Budget: t.budget, Used: t.used, Remaining: t.budget - t.used, Percentage: pct, Items: items}
}

// Scored pairs an Item with the relevance score fit_to_budget sorts by.
type Scored struct {
	Item
	Score float64
}

// FitResult is fit_to_budget's output.
type FitResult struct {
	Results    []Scored
	TokenReport Report
}

const truncationStubTokens = 1

// FitToBudget selects the highest-scoring subset of items whose summed
// tokens fit within budget, using greedy best-fit: items are considered in
// descending score order and included whenever they still fit in what
// remains. The first item that no longer fits is replaced by a one-token
// truncation stub (Item.Truncated=true); every item after that is dropped,
// since the budget is then fully consumed. Pass Unbounded to request every
// item untouched, satisfying spec §8's fit_to_budget(items, ∞) round-trip
// law.
func FitToBudget(items []Scored, budget int) FitResult {
	if len(items) == 0 {
		return FitResult{Results: nil, TokenReport: Report{Budget: budget}}
	}

	sorted := make([]Scored, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	tracker := NewTracker(budget)
	results := make([]Scored, 0, len(sorted))
	stubbed := false

	for _, it := range sorted {
		if stubbed {
			break
		}
		if budget == Unbounded || tracker.CanFit(it.Tokens) {
			tracker.AddItem(it.Summary, it.Tokens)
			results = append(results, it)
			continue
		}
		if tracker.CanFit(truncationStubTokens) {
			stub := Scored{
				Item: Item{
					Summary:   fmt.Sprintf("%s (truncated to fit budget)", it.Summary),
					Tokens:    truncationStubTokens,
					Truncated: true,
				},
				Score: it.Score,
			}
			tracker.AddItem(stub.Summary, stub.Tokens)
			results = append(results, stub)
		}
		stubbed = true
	}

	return FitResult{Results: results, TokenReport: tracker.Report()}
}

// Unbounded is the sentinel budget value meaning "no limit": FitToBudget
// returns every item with no truncation stubs, satisfying spec §8's
// fit_to_budget(items, ∞) round-trip law.
const Unbounded = -1

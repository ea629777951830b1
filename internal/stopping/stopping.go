// Package stopping implements the Stopping-Reason Engine (spec §4.11): a
// session-scoped recorder of structured StoppingConditions with default,
// configurable triggers, a should_stop() gate, and an end_session()
// summary exportable as JSON or CSV. It follows the mutex-guarded
// accumulator shape used throughout codeNERD's telemetry-adjacent stores
// (session-scoped state behind a single mutex, a read method that copies
// rather than leaking internal slices) rather than any single teacher
// file, since no pack repo carries a dedicated stopping-condition
// recorder; the shape is the natural Go rendering of the contract spec
// §4.11 describes.
package stopping

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"pampax/internal/pampax"
)

// Thresholds configures the Stopping-Reason Engine's trigger points.
// Zero values fall back to the spec §4.11 defaults.
type Thresholds struct {
	BudgetWarning     float64 // used/budget ratio, default 0.9
	BudgetExhausted   float64 // default 1.0
	CacheHitRateFloor float64 // default 0.8
}

var defaultThresholds = Thresholds{BudgetWarning: 0.9, BudgetExhausted: 1.0, CacheHitRateFloor: 0.8}

func (t Thresholds) withDefaults() Thresholds {
	if t.BudgetWarning == 0 {
		t.BudgetWarning = defaultThresholds.BudgetWarning
	}
	if t.BudgetExhausted == 0 {
		t.BudgetExhausted = defaultThresholds.BudgetExhausted
	}
	if t.CacheHitRateFloor == 0 {
		t.CacheHitRateFloor = defaultThresholds.CacheHitRateFloor
	}
	return t
}

// severityOf maps each StoppingType to its fixed severity per spec §4.11.
var severityOf = map[pampax.StoppingType]pampax.Severity{
	pampax.StopBudgetExhausted:     pampax.SeverityHigh,
	pampax.StopSearchFailure:       pampax.SeverityHigh,
	pampax.StopTimeout:             pampax.SeverityHigh,
	pampax.StopBudgetWarning:       pampax.SeverityMedium,
	pampax.StopResultLimit:         pampax.SeverityMedium,
	pampax.StopQualityThreshold:    pampax.SeverityMedium,
	pampax.StopGraphTraversalLimit: pampax.SeverityMedium,
	pampax.StopDegradationTriggered: pampax.SeverityMedium,
	pampax.StopLowCacheHitRate:     pampax.SeverityMedium,
	pampax.StopCacheBoundary:       pampax.SeverityLow,
}

// Recorder is a session-scoped accumulator of StoppingConditions.
type Recorder struct {
	mu         sync.Mutex
	thresholds Thresholds
	conditions []pampax.StoppingCondition
}

// NewRecorder constructs a Recorder for one query session.
func NewRecorder(thresholds Thresholds) *Recorder {
	return &Recorder{thresholds: thresholds.withDefaults()}
}

// Record appends a StoppingCondition of the given type, deriving its fixed
// severity and stamping the current time.
func (r *Recorder) Record(t pampax.StoppingType, category, source string, values map[string]interface{}, explanation string, actionable []string) pampax.StoppingCondition {
	sev, ok := severityOf[t]
	if !ok {
		sev = pampax.SeverityMedium
	}
	cond := pampax.StoppingCondition{
		Type:        t,
		Severity:    sev,
		Category:    category,
		Source:      source,
		Values:      values,
		Timestamp:   time.Now(),
		Explanation: explanation,
		Actionable:  actionable,
	}
	r.mu.Lock()
	r.conditions = append(r.conditions, cond)
	r.mu.Unlock()
	return cond
}

// CheckBudget records BUDGET_WARNING/BUDGET_EXHAUSTED as appropriate,
// given the current used/budget ratio. Returns the condition recorded, if
// any.
func (r *Recorder) CheckBudget(used, budget int, source string) *pampax.StoppingCondition {
	if budget <= 0 {
		return nil
	}
	ratio := float64(used) / float64(budget)
	values := map[string]interface{}{"used": used, "budget": budget, "ratio": ratio}
	if ratio >= r.thresholds.BudgetExhausted {
		c := r.Record(pampax.StopBudgetExhausted, "budget", source, values, fmt.Sprintf("budget exhausted: %d/%d tokens used", used, budget), []string{"increase budget", "enable more aggressive degradation"})
		return &c
	}
	if ratio >= r.thresholds.BudgetWarning {
		c := r.Record(pampax.StopBudgetWarning, "budget", source, values, fmt.Sprintf("budget warning: %d/%d tokens used", used, budget), []string{"monitor remaining budget"})
		return &c
	}
	return nil
}

// CheckResultLimit records RESULT_LIMIT when actual exceeds limit.
func (r *Recorder) CheckResultLimit(actual, limit int, source string) *pampax.StoppingCondition {
	if actual <= limit {
		return nil
	}
	c := r.Record(pampax.StopResultLimit, "retrieval", source, map[string]interface{}{"actual": actual, "cap": limit}, fmt.Sprintf("result count %d exceeded cap %d", actual, limit), []string{"raise the result cap", "tighten the query"})
	return &c
}

// CheckCacheHitRate records LOW_CACHE_HIT_RATE when hitRate falls below
// the configured floor.
func (r *Recorder) CheckCacheHitRate(hitRate float64, source string) *pampax.StoppingCondition {
	if hitRate >= r.thresholds.CacheHitRateFloor {
		return nil
	}
	c := r.Record(pampax.StopLowCacheHitRate, "cache", source, map[string]interface{}{"hitRate": hitRate, "floor": r.thresholds.CacheHitRateFloor}, fmt.Sprintf("cache hit rate %.2f below floor %.2f", hitRate, r.thresholds.CacheHitRateFloor), []string{"warm the cache", "increase scope size"})
	return &c
}

// ShouldStop implements should_stop(): true iff any high-severity
// condition was recorded, OR BUDGET_EXHAUSTED was recorded, OR at least
// 3 SEARCH_FAILUREs were recorded.
func (r *Recorder) ShouldStop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	searchFailures := 0
	for _, c := range r.conditions {
		if c.Severity == pampax.SeverityHigh {
			return true
		}
		if c.Type == pampax.StopBudgetExhausted {
			return true
		}
		if c.Type == pampax.StopSearchFailure {
			searchFailures++
		}
	}
	return searchFailures >= 3
}

// Conditions returns a copy of the recorded conditions so far.
func (r *Recorder) Conditions() []pampax.StoppingCondition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pampax.StoppingCondition, len(r.conditions))
	copy(out, r.conditions)
	return out
}

// Grouped buckets conditions by severity.
type Grouped struct {
	High   []pampax.StoppingCondition
	Medium []pampax.StoppingCondition
	Low    []pampax.StoppingCondition
}

// Summary is end_session()'s output.
type Summary struct {
	Conditions      []pampax.StoppingCondition
	Grouped         Grouped
	Recommendations []string
	Metrics         map[string]interface{}
}

// EndSession produces the grouped, explained end-of-session summary.
func (r *Recorder) EndSession() Summary {
	conditions := r.Conditions()

	grouped := Grouped{}
	recSet := make(map[string]bool)
	var recommendations []string
	for _, c := range conditions {
		switch c.Severity {
		case pampax.SeverityHigh:
			grouped.High = append(grouped.High, c)
		case pampax.SeverityMedium:
			grouped.Medium = append(grouped.Medium, c)
		default:
			grouped.Low = append(grouped.Low, c)
		}
		for _, a := range c.Actionable {
			if !recSet[a] {
				recSet[a] = true
				recommendations = append(recommendations, a)
			}
		}
	}

	metrics := map[string]interface{}{
		"totalConditions":  len(conditions),
		"highSeverity":     len(grouped.High),
		"mediumSeverity":   len(grouped.Medium),
		"lowSeverity":      len(grouped.Low),
		"shouldStop":       r.ShouldStop(),
	}

	return Summary{Conditions: conditions, Grouped: grouped, Recommendations: recommendations, Metrics: metrics}
}

// ExportJSON serializes a Summary as JSON.
func ExportJSON(s Summary) ([]byte, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("stopping: marshal summary: %w", err)
	}
	return b, nil
}

// ExportCSV serializes a Summary's conditions as CSV: one row per
// condition, columns type/severity/category/source/explanation/timestamp.
func ExportCSV(s Summary) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"type", "severity", "category", "source", "explanation", "timestamp"}); err != nil {
		return nil, fmt.Errorf("stopping: write csv header: %w", err)
	}
	for _, c := range s.Conditions {
		row := []string{
			string(c.Type), string(c.Severity), c.Category, c.Source, c.Explanation, c.Timestamp.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("stopping: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("stopping: flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

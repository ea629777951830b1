// Package assembler implements the Context Assembler (spec §4.10): the
// orchestrator that drives classify → gate → retrieve → expand → rerank →
// degrade → emit for one query, and is the single place that owns a
// query's correlation id end-to-end. The state-machine-per-query shape
// (spec §9: "states are classify → gate → retrieve → expand → rerank →
// degrade → emit ... cancellation checks occur at every transition") is
// implemented as a linear sequence of cancellation-checked steps rather
// than a literal state-machine type, matching how codeNERD's own
// multi-stage pipelines (e.g. internal/campaign/intelligence_gatherer.go)
// run a fixed ordered sequence of phases under one context and one
// correlation-scoped logger.
package assembler

import (
	"context"
	"net/http"
	"time"

	"pampax/internal/cache"
	"pampax/internal/degrade"
	"pampax/internal/graphexpand"
	"pampax/internal/intent"
	"pampax/internal/pampax"
	"pampax/internal/policy"
	"pampax/internal/rerank"
	"pampax/internal/retrieval"
	"pampax/internal/stopping"
	"pampax/internal/telemetry"
	"pampax/internal/tokenizer"
)

// Options configures one AssembleWithExplanation call (spec §4.10).
type Options struct {
	Budget        int
	Model         string
	GraphEnabled  bool
	RerankEnabled bool
	CacheEnabled  bool
	Repo          string
	Language      string

	RetrievalOptions  retrieval.Options
	GraphParams       graphexpand.Params
	RerankOptions     rerank.Options
	DegradeThresholds degrade.Thresholds
	RepoOverrides     []policy.RepoOverride
	SeedSymbols       []string
}

// Backend bundles the storage-contract surfaces the Assembler needs.
type Backend interface {
	retrieval.Backend
	graphexpand.EdgeLookup
}

// Assembler owns the shared process-wide collaborators (spec §9: tokenizer
// factory, cache manager, metrics collector are process-wide, lazily
// initialized, torn down via Shutdown).
type Assembler struct {
	backend    Backend
	cache      *cache.Cache
	tokenizers *tokenizer.Factory
	metrics    *telemetry.Collector
	logger     *telemetry.Logger
	httpClient *http.Client
}

// NewAssembler wires the pipeline's collaborators.
func NewAssembler(backend Backend, c *cache.Cache, tf *tokenizer.Factory, metrics *telemetry.Collector, logger *telemetry.Logger) *Assembler {
	return &Assembler{backend: backend, cache: c, tokenizers: tf, metrics: metrics, logger: logger, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// Shutdown stops the cache sweeper. The tokenizer factory has no background
// goroutine and is reset with its own Clear(); the metrics collector's
// per-sink delivery goroutines are not stopped here.
func (a *Assembler) Shutdown() {
	if a.cache != nil {
		a.cache.StopSweeper()
	}
}

func defaultBudget(b int) int {
	if b <= 0 {
		return 4096
	}
	return b
}

// AssembleWithExplanation implements the Context Assembler's public
// contract: classify → gate → retrieve → expand → rerank → degrade → emit.
// It never panics: every internal stage failure degrades the pipeline
// (graph expansion skipped, rerank falls back, degrade engine engaged)
// rather than aborting, per spec §7. A single correlation id is minted
// here and threaded through every log line, metric, and the returned
// Bundle.CorrelationID.
func (a *Assembler) AssembleWithExplanation(ctx context.Context, query string, opts Options) pampax.Bundle {
	start := time.Now()
	corrID := telemetry.NewCorrelationID()
	ctx = telemetry.ContextWithCorrelation(ctx, corrID)

	var log *telemetry.Logger
	if a.logger != nil {
		log = a.logger.WithCorrID(corrID)
	}
	recorder := stopping.NewRecorder(stopping.Thresholds{})
	budget := defaultBudget(opts.Budget)

	// classify
	intentResult := intent.Classify(query, intent.Hints{Repo: opts.Repo, Language: opts.Language})

	// gate
	searchCtx := policy.SearchContext{Repo: opts.Repo, Language: opts.Language, QueryLength: len(query), Budget: budget}
	decision := policy.Evaluate(intentResult, searchCtx, opts.RepoOverrides)

	explanation := pampax.Explanation{Policy: decision}

	if isDone(ctx, recorder) {
		return a.emit(query, budget, nil, explanation, recorder, corrID, start)
	}

	// retrieve
	retrievalOpts := opts.RetrievalOptions
	retrievalOpts.IncludeBM25 = retrievalOpts.IncludeBM25 || decision.IncludeContent
	retrievalOpts.IncludeSymbol = retrievalOpts.IncludeSymbol || decision.IncludeSymbols
	retrievalOpts.IncludeMemory = true
	if retrievalOpts.Limit <= 0 {
		retrievalOpts.Limit = decision.EarlyStopThreshold
	}

	results := a.retrieve(ctx, query, retrievalOpts, opts, log, recorder, &explanation)

	// expand
	if opts.GraphEnabled && len(results) > 0 && !isDone(ctx, recorder) {
		results = a.expandGraph(ctx, query, results, decision, intentResult, opts, recorder, &explanation)
	}

	// rerank
	if opts.RerankEnabled && len(results) > 1 && !isDone(ctx, recorder) {
		results = a.rerank(ctx, query, results, opts, recorder, &explanation)
	}

	recorder.CheckResultLimit(len(results), decision.EarlyStopThreshold, "assembler")

	// degrade
	degraded, level := a.degradeToFit(results, budget, opts.DegradeThresholds)
	explanation.DegradeLevel = int(level)
	if level != degrade.LevelNone {
		recorder.Record(pampax.StopDegradationTriggered, "degrade", "assembler", map[string]interface{}{"level": level.String()}, "degradation applied to fit token budget", []string{"raise the token budget", "narrow the query"})
	}

	return a.emit(query, budget, degraded, explanation, recorder, corrID, start)
}

func isDone(ctx context.Context, recorder *stopping.Recorder) bool {
	select {
	case <-ctx.Done():
		recorder.Record(pampax.StopTimeout, "assembler", "assembler", nil, "context cancelled before pipeline completed", []string{"raise the per-query timeout"})
		return true
	default:
		return false
	}
}

// retrieve runs the Hybrid Retriever, folding its outcome into explanation
// and the Stopping-Reason Engine.
func (a *Assembler) retrieve(ctx context.Context, query string, opts retrieval.Options, aopts Options, log *telemetry.Logger, recorder *stopping.Recorder, explanation *pampax.Explanation) []pampax.SearchResult {
	var result retrieval.Result
	if aopts.CacheEnabled && a.cache != nil {
		key := retrievalCacheKey(query, opts)
		cached, err := a.cache.Get("search", key, func() (interface{}, error) {
			r := retrieval.Retrieve(ctx, a.backend, query, opts, log)
			return r, nil
		})
		if err == nil {
			result = cached.Value.(retrieval.Result)
		}
	} else {
		result = retrieval.Retrieve(ctx, a.backend, query, opts, log)
	}

	explanation.RetrieversUsed = result.SourcesUsed
	explanation.Errors = append(explanation.Errors, result.SoftFailures...)
	if result.AllFailed {
		recorder.Record(pampax.StopSearchFailure, "retrieval", "assembler", nil, "every enabled sub-retriever failed", []string{"check storage backend health", "retry with fewer sources enabled"})
	}
	return result.Results
}

func retrievalCacheKey(query string, opts retrieval.Options) string {
	k := cache.Generate("search", map[string]interface{}{
		"query":   query,
		"bm25":    opts.IncludeBM25,
		"vector":  opts.IncludeVector,
		"memory":  opts.IncludeMemory,
		"symbol":  opts.IncludeSymbol,
		"limit":   opts.Limit,
	})
	return k.String()
}

// expandGraph runs the Graph BFS Expander from the top-scoring retrieved
// results (or caller-supplied seeds) and folds newly visited nodes back in
// as additional SearchResults so degrade/emit see them uniformly.
func (a *Assembler) expandGraph(ctx context.Context, query string, results []pampax.SearchResult, decision pampax.PolicyDecision, intentResult pampax.IntentResult, opts Options, recorder *stopping.Recorder, explanation *pampax.Explanation) []pampax.SearchResult {
	seeds := opts.SeedSymbols
	if len(seeds) == 0 {
		seeds = seedsFromResults(results, 5)
	}
	if len(seeds) == 0 {
		return results
	}

	params := opts.GraphParams
	if params.MaxDepth <= 0 {
		params.MaxDepth = decision.MaxDepth
	}
	if params.Timeout <= 0 {
		params.Timeout = 2 * time.Second
	}
	params.Intent = intentResult.Intent

	expansion, err := graphexpand.Expand(ctx, a.backend, query, seeds, params)
	if err != nil {
		explanation.Errors = append(explanation.Errors, "graphexpand: "+err.Error())
	}
	explanation.GraphExpanded = true
	if expansion.Truncated {
		recorder.Record(pampax.StopGraphTraversalLimit, "graph", "assembler", map[string]interface{}{"degradedDueTo": expansion.DegradedDueTo}, "graph traversal stopped early: "+expansion.DegradedDueTo, nil)
	}

	existing := make(map[string]bool, len(results))
	for _, r := range results {
		existing[r.ID] = true
	}

	out := append([]pampax.SearchResult{}, results...)
	for _, node := range expansion.VisitedNodes {
		if existing[node] {
			continue
		}
		chunk, err := a.backend.GetChunk(ctx, node)
		if err != nil {
			continue
		}
		existing[node] = true
		out = append(out, pampax.SearchResult{
			ID:       chunk.ID,
			Path:     chunk.Path,
			Content:  chunk.Content,
			Score:    0.5,
			SpanKind: chunk.SpanKind,
			Source:   "graph",
		})
	}
	return out
}

func seedsFromResults(results []pampax.SearchResult, n int) []string {
	if n > len(results) {
		n = len(results)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, results[i].ID)
	}
	return out
}

// rerank runs the Reranker Service and reorders results by its fused score,
// falling back to leaving the retrieval order untouched on failure.
func (a *Assembler) rerank(ctx context.Context, query string, results []pampax.SearchResult, opts Options, recorder *stopping.Recorder, explanation *pampax.Explanation) []pampax.SearchResult {
	docs := make([]rerank.Document, len(results))
	for i, r := range results {
		docs[i] = rerank.Document{ID: r.ID, Content: r.Content}
	}

	ropts := opts.RerankOptions
	resp, err := rerank.Rerank(ctx, query, docs, ropts, a.cache, a.httpClient)
	if err != nil {
		explanation.Errors = append(explanation.Errors, "rerank: "+err.Error())
		recorder.Record(pampax.StopQualityThreshold, "rerank", "assembler", nil, "reranker unavailable, original order kept", []string{"check reranker provider configuration"})
		return results
	}

	explanation.RerankProvider = resp.Provider
	byID := make(map[string]pampax.SearchResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}
	out := make([]pampax.SearchResult, 0, len(resp.Results))
	for _, rr := range resp.Results {
		r, ok := byID[rr.Document.ID]
		if !ok {
			continue
		}
		r.FusedScore = rr.FusedScore
		if rr.RelevanceScore > 0 {
			r.FusedScore = rr.RelevanceScore
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return results
	}
	return out
}

// degradeToFit tokenizes each result, then runs the Degrade-Policy Engine
// against budget, returning the final degraded item set.
func (a *Assembler) degradeToFit(results []pampax.SearchResult, budget int, thresholds degrade.Thresholds) ([]degrade.DegradedItem, degrade.Level) {
	items := make([]degrade.Item, len(results))
	for i, r := range results {
		items[i] = degrade.Item{ID: r.ID, Content: r.Content, SpanKind: r.SpanKind, Score: maxScore(r), Tokens: a.countTokens(r.Content)}
	}
	res := degrade.Degrade(items, budget, thresholdsOrDefault(thresholds))
	return res.Degraded, res.Applied.Level
}

func thresholdsOrDefault(t degrade.Thresholds) degrade.Thresholds {
	if t == (degrade.Thresholds{}) {
		return degrade.DefaultThresholds
	}
	return t
}

func maxScore(r pampax.SearchResult) float64 {
	if r.FusedScore > 0 {
		return r.FusedScore
	}
	return r.Score
}

func (a *Assembler) countTokens(content string) int {
	if a.tokenizers == nil {
		return len(content) / 4
	}
	t := a.tokenizers.Create("default", tokenizer.Options{})
	return int(t.CountTokens(content))
}

// emit assembles the final Bundle from degraded items, stamping token
// totals, stopping conditions, and performance timing.
func (a *Assembler) emit(query string, budget int, degraded []degrade.DegradedItem, explanation pampax.Explanation, recorder *stopping.Recorder, corrID string, start time.Time) pampax.Bundle {
	totalTokens := 0
	results := make([]pampax.SearchResult, 0, len(degraded))
	tokenCounts := make([]int, 0, len(degraded))
	for _, d := range degraded {
		if d.Dropped {
			continue
		}
		totalTokens += d.Tokens
		results = append(results, pampax.SearchResult{ID: d.ID, Content: d.Content, Score: 1})
		tokenCounts = append(tokenCounts, d.Tokens)
	}

	recorder.CheckBudget(totalTokens, budget, "assembler")
	truncated := totalTokens > budget || recorder.ShouldStop()

	// The Degrade-Policy Engine already shed what it can; if the lowest-
	// priority survivors still don't fit (spec §8's hard "total_tokens ≤
	// budget" Bundle invariant), drop from the tail — degrade.Degrade
	// returns items highest-priority first — until the budget holds.
	for totalTokens > budget && len(results) > 0 {
		last := len(results) - 1
		totalTokens -= tokenCounts[last]
		results = results[:last]
		tokenCounts = tokenCounts[:last]
		truncated = true
	}

	bundle := pampax.Bundle{
		Query:              query,
		Sources:            explanation.RetrieversUsed,
		Results:            results,
		TotalTokens:        totalTokens,
		Budget:             budget,
		Explanation:        explanation,
		StoppingConditions: recorder.Conditions(),
		PerformanceMS:      float64(time.Since(start).Microseconds()) / 1000.0,
		CorrelationID:      corrID,
		Truncated:          truncated,
	}

	if a.metrics != nil {
		a.metrics.Timing(corrID, "assembler.query_ms", bundle.PerformanceMS, map[string]string{"truncated": boolTag(truncated)})
		a.metrics.Counter(corrID, "assembler.results", float64(len(results)), nil)
		a.metrics.Gauge(corrID, "assembler.tokens_used", float64(totalTokens), nil)
	}
	return bundle
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

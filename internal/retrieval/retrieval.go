// Package retrieval implements the Hybrid Retriever (spec §4.6): four
// sub-retrievers (BM25/FTS, vector k-NN, memory facts, symbol match) run
// concurrently against a storage backend, merged by dedup key, each
// sub-retriever's failure treated as a soft failure. The concurrent
// fan-out with per-task error capture follows the errgroup.WithContext
// pattern used by codeNERD's semantic classifier
// (internal/perception/semantic_classifier.go) and intelligence gatherer
// (internal/campaign/intelligence_gatherer.go), generalized from "gather N
// independent signals, log but don't abort on one failing" to exactly
// that shape over the four retrieval sources named in the spec.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"pampax/internal/pampax"
	"pampax/internal/telemetry"
)

// Source names tag which sub-retriever produced a SearchResult.
const (
	SourceBM25   = "bm25"
	SourceVector = "vector"
	SourceMemory = "memory"
	SourceSymbol = "symbol"
)

// Options bounds and routes a single retrieval call.
type Options struct {
	Limit          int
	IncludeBM25    bool
	IncludeVector  bool
	IncludeMemory  bool
	IncludeSymbol  bool

	// Classifier, if set, re-weights each sub-retriever's raw scores by
	// query shape before the merge/sort step, mirroring the Aman-CERP
	// search engine's classifyQueryType seam: the Policy Gate already
	// gates depth/caps from IntentResult, this additionally lets the
	// retriever itself favor e.g. symbol matches for a "where is X
	// defined" query without touching any sub-retriever's own ranking.
	Classifier Classifier
}

// Classifier re-weights sub-retriever scores for one query. Weights returns
// a per-source multiplier (missing sources default to 1.0, i.e. no-op).
type Classifier interface {
	Weights(query string) map[string]float64
}

// Backend is the storage contract (spec §6) the Hybrid Retriever needs:
// one search entry point per source. A nil Backend method, or one that
// always errors, is equivalent to that sub-retriever being unavailable.
type Backend interface {
	SearchBM25(ctx context.Context, query string, opts Options) ([]pampax.SearchResult, error)
	SearchVector(ctx context.Context, query string, opts Options) ([]pampax.SearchResult, error)
	SearchMemory(ctx context.Context, query string, opts Options) ([]pampax.SearchResult, error)
	SearchSymbol(ctx context.Context, query string, opts Options) ([]pampax.SearchResult, error)
}

// Result is the merged output of a Retrieve call.
type Result struct {
	Results       []pampax.SearchResult
	SourcesUsed   []string
	SoftFailures  []string
	AllFailed     bool
}

// Retrieve runs every enabled sub-retriever concurrently, logs but does
// not abort on an individual failure, and deduplicates by (path,
// id-or-content). Keeping the max raw score and unioning metadata across
// sources that surface the same item, per spec §4.6.
func Retrieve(ctx context.Context, backend Backend, query string, opts Options, log *telemetry.Logger) Result {
	type outcome struct {
		source  string
		results []pampax.SearchResult
		err     error
	}

	tasks := []struct {
		enabled bool
		source  string
		fn      func(context.Context, string, Options) ([]pampax.SearchResult, error)
	}{
		{opts.IncludeBM25, SourceBM25, backend.SearchBM25},
		{opts.IncludeVector, SourceVector, backend.SearchVector},
		{opts.IncludeMemory, SourceMemory, backend.SearchMemory},
		{opts.IncludeSymbol, SourceSymbol, backend.SearchSymbol},
	}

	outcomes := make([]outcome, 0, len(tasks))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, task := range tasks {
		if !task.enabled {
			continue
		}
		task := task
		g.Go(func() error {
			results, err := task.fn(gctx, query, opts)
			mu.Lock()
			outcomes = append(outcomes, outcome{source: task.source, results: results, err: err})
			mu.Unlock()
			return nil // soft failures never abort the group
		})
	}
	_ = g.Wait()

	var weights map[string]float64
	if opts.Classifier != nil {
		weights = opts.Classifier.Weights(query)
	}

	var softFailures []string
	var sourcesUsed []string
	merged := make(map[string]*pampax.SearchResult)
	var order []string

	for _, o := range outcomes {
		if o.err != nil {
			softFailures = append(softFailures, fmt.Sprintf("%s: %v", o.source, o.err))
			if log != nil {
				log.Warn("retrieval", "sub-retriever failed", map[string]interface{}{"source": o.source, "error": o.err.Error()})
			}
			continue
		}
		sourcesUsed = append(sourcesUsed, o.source)
		w := sourceWeight(weights, o.source)
		for _, r := range o.results {
			r.Score *= w
			r.Source = o.source
			key := dedupKey(r)
			if existing, ok := merged[key]; ok {
				mergeInto(existing, r)
				continue
			}
			copyResult := r
			copyResult.Source = o.source
			merged[key] = &copyResult
			order = append(order, key)
		}
	}

	out := make([]pampax.SearchResult, 0, len(order))
	for _, k := range order {
		out = append(out, *merged[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}

	sort.Strings(sourcesUsed)
	return Result{
		Results:      out,
		SourcesUsed:  dedupStrings(sourcesUsed),
		SoftFailures: softFailures,
		AllFailed:    len(sourcesUsed) == 0 && len(softFailures) > 0,
	}
}

// sourceWeight returns the Classifier-supplied multiplier for source, or 1.0
// (no-op) when the Classifier didn't weigh in on that source.
func sourceWeight(weights map[string]float64, source string) float64 {
	if w, ok := weights[source]; ok {
		return w
	}
	return 1.0
}

// dedupKey is (repo, path, span_id or content-hash) per spec §4.6. Path
// and metadata["repo"] + metadata["spanId"] (falling back to content hash
// via the result id) are used since Backend implementations surface those
// through SearchResult.Metadata.
func dedupKey(r pampax.SearchResult) string {
	repo, _ := r.Metadata["repo"].(string)
	spanID, _ := r.Metadata["spanId"].(string)
	if spanID == "" {
		spanID = r.ID
	}
	return repo + "|" + r.Path + "|" + spanID
}

func mergeInto(existing *pampax.SearchResult, incoming pampax.SearchResult) {
	if incoming.Score > existing.Score {
		existing.Score = incoming.Score
	}
	if existing.Metadata == nil {
		existing.Metadata = map[string]interface{}{}
	}
	for k, v := range incoming.Metadata {
		if _, ok := existing.Metadata[k]; !ok {
			existing.Metadata[k] = v
		}
	}
	if existing.Source != incoming.Source {
		existing.Source = existing.Source + "," + incoming.Source
	}
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

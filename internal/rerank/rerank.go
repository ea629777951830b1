// Package rerank implements the Reranker Service (spec §4.7): RRF fusion
// of ranked lists, a local cross-encoder stand-in, and a remote API
// provider (Cohere/Voyage/Jina wire shape). The remote HTTP call is
// grounded on codeNERD's OpenAI client
// (internal/perception/client_openai.go): context-scoped
// http.NewRequestWithContext, `Authorization: Bearer` header, and
// non-2xx-to-error handling, adapted from a chat-completion POST to the
// rerank endpoint's request/response shape.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"pampax/internal/cache"
)

// Document is one candidate passed to Rerank.
type Document struct {
	ID      string
	Text    string
	Content string
}

func (d Document) text() string {
	if d.Text != "" {
		return d.Text
	}
	return d.Content
}

// Options configures a single rerank call.
type Options struct {
	Provider  string // local|api|rrf|transformers|cohere|voyage|jina
	Fallback  string // defaults to "rrf"
	Model     string
	MaxTokens int // text truncated to MaxTokens*4 chars before sending remotely
	TopK      int
	APIURL    string
	APIKey    string
	RankedLists [][]string // for rrf: ordered document ids per source list
}

// RankedResult is one reranked document.
type RankedResult struct {
	Index           int
	Document        Document
	RelevanceScore  float64
	Score           float64
	FusedScore      float64
}

// Response is the Rerank contract's return value.
type Response struct {
	Success        bool
	Provider       string
	Query          string
	Results        []RankedResult
	TotalProcessed int
	Cached         bool
	Model          string
}

// normalizeProvider applies the alias table from spec §4.7.
func normalizeProvider(p string) string {
	switch strings.ToLower(p) {
	case "transformers":
		return "local"
	case "cohere", "voyage", "jina":
		return "api"
	case "":
		return "rrf"
	default:
		return strings.ToLower(p)
	}
}

const rrfK = 60

const defaultRerankTTL = 24 * time.Hour

// Rerank implements the Reranker Service contract. On a primary provider
// error it falls back to opts.Fallback (default "rrf") and reports the
// fallback provider name in the response.
func Rerank(ctx context.Context, query string, documents []Document, opts Options, c *cache.Cache, httpClient *http.Client) (Response, error) {
	if len(documents) == 0 {
		return Response{}, fmt.Errorf("rerank: documents must be non-empty")
	}
	for _, d := range documents {
		if d.text() == "" {
			return Response{}, fmt.Errorf("rerank: document %q has no text or content", d.ID)
		}
	}

	provider := normalizeProvider(opts.Provider)
	fallback := normalizeProvider(opts.Fallback)
	if fallback == "" {
		fallback = "rrf"
	}

	key := cacheKey(provider, opts.Model, query, documents)

	fetch := func() (interface{}, error) {
		resp, err := dispatch(ctx, provider, query, documents, opts, httpClient)
		if err != nil {
			resp, err = dispatch(ctx, fallback, query, documents, opts, httpClient)
			if err != nil {
				return nil, err
			}
		}
		return resp, nil
	}

	if c == nil {
		v, err := fetch()
		if err != nil {
			return Response{}, err
		}
		return v.(Response), nil
	}

	result, err := c.Get("rerank", key, fetch)
	if err != nil {
		return Response{}, err
	}
	resp := result.Value.(Response)
	resp.Cached = result.FromCache
	return resp, nil
}

func cacheKey(provider, model, query string, documents []Document) string {
	ids := make([]string, len(documents))
	for i, d := range documents {
		ids[i] = d.ID
	}
	k := cache.Generate("rerank", map[string]interface{}{
		"provider": provider,
		"model":    model,
		"query":    strings.TrimSpace(strings.ToLower(query)),
		"docIds":   toInterfaceSlice(ids),
	})
	return k.String()
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func dispatch(ctx context.Context, provider, query string, documents []Document, opts Options, httpClient *http.Client) (Response, error) {
	switch provider {
	case "local":
		return localCrossEncoder(query, documents, opts), nil
	case "api":
		return apiRerank(ctx, query, documents, opts, httpClient)
	case "rrf":
		return rrfFuse(query, documents, opts), nil
	default:
		return Response{}, fmt.Errorf("rerank: unknown provider %q", provider)
	}
}

// localCrossEncoder is a deterministic lexical-overlap stand-in for a real
// cross-encoder model: it scores each document by the fraction of query
// terms it contains. It never calls out over the network, so it cannot
// fail, matching the "local" provider's always-available contract.
func localCrossEncoder(query string, documents []Document, opts Options) Response {
	terms := strings.Fields(strings.ToLower(query))
	results := make([]RankedResult, len(documents))
	for i, d := range documents {
		text := strings.ToLower(d.text())
		hits := 0
		for _, t := range terms {
			if strings.Contains(text, t) {
				hits++
			}
		}
		score := 0.0
		if len(terms) > 0 {
			score = float64(hits) / float64(len(terms))
		}
		results[i] = RankedResult{Index: i, Document: d, RelevanceScore: score, Score: score}
	}
	sortByRelevance(results)
	results = applyTopK(results, opts.TopK)
	return Response{Success: true, Provider: "local", Query: query, Results: results, TotalProcessed: len(documents), Model: opts.Model}
}

type apiRequestDoc struct {
	Text string `json:"text"`
}

type apiRequest struct {
	Model     string          `json:"model"`
	Query     string          `json:"query"`
	Documents []apiRequestDoc `json:"documents"`
	TopN      int             `json:"top_n,omitempty"`
}

type apiResultItem struct {
	Index           int     `json:"index"`
	RelevanceScore  float64 `json:"relevance_score"`
}

type apiResponseBody struct {
	Results []apiResultItem `json:"results"`
}

// apiRerank posts to the remote rerank endpoint per spec §4.7's wire
// format and maps its response back onto the input documents.
func apiRerank(ctx context.Context, query string, documents []Document, opts Options, httpClient *http.Client) (Response, error) {
	if opts.APIURL == "" {
		return Response{}, fmt.Errorf("rerank: api provider requires an APIURL")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	maxChars := opts.MaxTokens * 4
	reqDocs := make([]apiRequestDoc, len(documents))
	for i, d := range documents {
		text := d.text()
		if maxChars > 0 && len(text) > maxChars {
			text = text[:maxChars]
		}
		reqDocs[i] = apiRequestDoc{Text: text}
	}

	body, err := json.Marshal(apiRequest{Model: opts.Model, Query: query, Documents: reqDocs, TopN: opts.TopK})
	if err != nil {
		return Response{}, fmt.Errorf("rerank: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.APIURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("rerank: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+opts.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("rerank: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("Rerank API error (%d)", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("rerank: read response: %w", err)
	}
	var parsed apiResponseBody
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Response{}, fmt.Errorf("rerank: decode response: %w", err)
	}

	results := make([]RankedResult, 0, len(parsed.Results))
	for _, item := range parsed.Results {
		if item.Index < 0 || item.Index >= len(documents) {
			continue
		}
		results = append(results, RankedResult{
			Index:          item.Index,
			Document:       documents[item.Index],
			RelevanceScore: item.RelevanceScore,
			Score:          item.RelevanceScore,
		})
	}
	sortByRelevance(results)
	results = applyTopK(results, opts.TopK)

	return Response{Success: true, Provider: "api", Query: query, Results: results, TotalProcessed: len(documents), Model: opts.Model}, nil
}

// rrfFuse fuses opts.RankedLists (ordered document id lists) by Reciprocal
// Rank Fusion with constant k=60 (spec §4.7). If no ranked lists are
// supplied, the documents' input order is used as the single ranked list.
func rrfFuse(query string, documents []Document, opts Options) Response {
	byID := make(map[string]Document, len(documents))
	inputOrder := make(map[string]int, len(documents))
	for i, d := range documents {
		byID[d.ID] = d
		inputOrder[d.ID] = i
	}

	lists := opts.RankedLists
	if len(lists) == 0 {
		ids := make([]string, len(documents))
		for i, d := range documents {
			ids[i] = d.ID
		}
		lists = [][]string{ids}
	}

	fused := make(map[string]float64)
	rawScore := make(map[string]float64)
	for _, list := range lists {
		for rank, id := range list {
			fused[id] += 1.0 / float64(rrfK+rank+1)
			if s := 1.0 / float64(rank+1); s > rawScore[id] {
				rawScore[id] = s
			}
		}
	}

	results := make([]RankedResult, 0, len(fused))
	for id, score := range fused {
		doc, ok := byID[id]
		if !ok {
			continue
		}
		results = append(results, RankedResult{
			Index:      inputOrder[id],
			Document:   doc,
			Score:      rawScore[id],
			FusedScore: score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].FusedScore != results[j].FusedScore {
			return results[i].FusedScore > results[j].FusedScore
		}
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Index < results[j].Index
	})
	results = applyTopK(results, opts.TopK)

	return Response{Success: true, Provider: "rrf", Query: query, Results: results, TotalProcessed: len(documents)}
}

func sortByRelevance(results []RankedResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		return results[i].Index < results[j].Index
	})
}

func applyTopK(results []RankedResult, topK int) []RankedResult {
	if topK > 0 && len(results) > topK {
		return results[:topK]
	}
	return results
}

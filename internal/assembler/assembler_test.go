package assembler

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pampax/internal/cache"
	"pampax/internal/graphexpand"
	"pampax/internal/pampax"
	"pampax/internal/policy"
	"pampax/internal/retrieval"
	"pampax/internal/telemetry"
	"pampax/internal/tokenizer"
)

type fakeBackend struct {
	bm25    []pampax.SearchResult
	chunks  map[string]pampax.Chunk
	outEdge map[string][]pampax.Edge
	inEdge  map[string][]pampax.Edge
}

func (f *fakeBackend) SearchBM25(ctx context.Context, query string, opts retrieval.Options) ([]pampax.SearchResult, error) {
	return f.bm25, nil
}
func (f *fakeBackend) SearchVector(ctx context.Context, query string, opts retrieval.Options) ([]pampax.SearchResult, error) {
	return nil, nil
}
func (f *fakeBackend) SearchMemory(ctx context.Context, query string, opts retrieval.Options) ([]pampax.SearchResult, error) {
	return nil, nil
}
func (f *fakeBackend) SearchSymbol(ctx context.Context, query string, opts retrieval.Options) ([]pampax.SearchResult, error) {
	return nil, nil
}
func (f *fakeBackend) OutgoingEdges(ctx context.Context, nodeID string, types []pampax.EdgeType) ([]pampax.Edge, error) {
	return f.outEdge[nodeID], nil
}
func (f *fakeBackend) IncomingEdges(ctx context.Context, nodeID string, types []pampax.EdgeType) ([]pampax.Edge, error) {
	return f.inEdge[nodeID], nil
}
func (f *fakeBackend) GetChunk(ctx context.Context, id string) (pampax.Chunk, error) {
	c, ok := f.chunks[id]
	if !ok {
		return pampax.Chunk{}, assert.AnError
	}
	return c, nil
}

func newTestAssembler(backend Backend) *Assembler {
	return NewAssembler(backend, nil, tokenizer.NewFactory(nil), nil, nil)
}

func TestPolicyOverrideLiftsDepthViaGlobPattern(t *testing.T) {
	backend := &fakeBackend{bm25: []pampax.SearchResult{{ID: "c1", Path: "a.go", Content: "func Handler() {}", Score: 0.9}}}
	a := newTestAssembler(backend)

	override := policy.RepoOverride{
		Pattern: "*-frontend",
		Policy:  pampax.PolicyDecision{MaxDepth: 3, EarlyStopThreshold: 2, IncludeSymbols: true, IncludeContent: true, SeedWeights: map[string]float64{}},
	}

	bundle := a.AssembleWithExplanation(context.Background(), "GET /api/users endpoint", Options{
		Budget:        4096,
		Repo:          "my-frontend",
		RepoOverrides: []policy.RepoOverride{override},
	})

	assert.Equal(t, 3, bundle.Explanation.Policy.MaxDepth)
}

func TestEmergencyDegradationProducesPathOnlyStubsUnderBudget(t *testing.T) {
	content := strings.Repeat("x", 400) // ~100 tokens at the 4-chars-per-token estimator
	backend := &fakeBackend{bm25: []pampax.SearchResult{
		{ID: "c1", Path: "a.go", Content: content, Score: 0.9, SpanKind: pampax.SpanFunction},
		{ID: "c2", Path: "b.go", Content: content, Score: 0.8, SpanKind: pampax.SpanFunction},
		{ID: "c3", Path: "c.go", Content: content, Score: 0.7, SpanKind: pampax.SpanFunction},
	}}
	a := newTestAssembler(backend)

	// A budget under 2000 turns IncludeContent off, which would also leave
	// BM25 disabled; enable it explicitly so the fake's chunks are retrieved.
	bundle := a.AssembleWithExplanation(context.Background(), "search something", Options{
		Budget:           50,
		RetrievalOptions: retrieval.Options{IncludeBM25: true},
	})

	assert.Equal(t, 5, bundle.Explanation.DegradeLevel)
	require.NotEmpty(t, bundle.Results)
	for _, r := range bundle.Results {
		assert.True(t, strings.HasPrefix(r.Content, "// "))
	}
	assert.LessOrEqual(t, bundle.TotalTokens, 50)
}

func TestBundleNeverExceedsBudget(t *testing.T) {
	content := strings.Repeat("y", 2000)
	backend := &fakeBackend{bm25: []pampax.SearchResult{
		{ID: "c1", Path: "a.go", Content: content, Score: 0.9, SpanKind: pampax.SpanFunction},
		{ID: "c2", Path: "b.go", Content: content, Score: 0.5, SpanKind: pampax.SpanFunction},
	}}
	a := newTestAssembler(backend)

	bundle := a.AssembleWithExplanation(context.Background(), "find something", Options{Budget: 200})
	assert.LessOrEqual(t, bundle.TotalTokens, bundle.Budget)
}

func TestCorrelationIDIsStampedOnBundle(t *testing.T) {
	backend := &fakeBackend{}
	a := newTestAssembler(backend)
	bundle := a.AssembleWithExplanation(context.Background(), "anything", Options{Budget: 1000})
	assert.NotEmpty(t, bundle.CorrelationID)
}

func TestEmptyRetrievalYieldsEmptyBundle(t *testing.T) {
	backend := &fakeBackend{} // every SearchX returns (nil, nil): no results, no error
	a := newTestAssembler(backend)
	bundle := a.AssembleWithExplanation(context.Background(), "anything", Options{Budget: 1000})
	assert.Empty(t, bundle.Results)
}

func TestGraphExpansionAddsChunksFromBFS(t *testing.T) {
	backend := &fakeBackend{
		bm25: []pampax.SearchResult{{ID: "UserService", Path: "user.go", Content: "func UserService() {}", Score: 0.9, SpanKind: pampax.SpanFunction}},
		chunks: map[string]pampax.Chunk{
			"UserService": {ID: "UserService", Path: "user.go", Content: "func UserService() {}", TokenCount: 4, SpanKind: pampax.SpanFunction},
			"AuthService": {ID: "AuthService", Path: "auth.go", Content: "func AuthService() {}", TokenCount: 4, SpanKind: pampax.SpanFunction},
		},
		outEdge: map[string][]pampax.Edge{
			"UserService": {{From: "UserService", To: "AuthService", Type: pampax.EdgeCalls, Confidence: 0.9}},
		},
		inEdge: map[string][]pampax.Edge{},
	}
	a := newTestAssembler(backend)

	bundle := a.AssembleWithExplanation(context.Background(), "UserService", Options{
		Budget:       4096,
		GraphEnabled: true,
		GraphParams:  graphexpand.Params{MaxDepth: 2, Timeout: 0},
	})

	assert.True(t, bundle.Explanation.GraphExpanded)
	ids := make([]string, 0, len(bundle.Results))
	for _, r := range bundle.Results {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, "AuthService")
}

func TestCacheEnabledRetrievalIsReusedOnSecondCall(t *testing.T) {
	calls := 0
	backend := &countingBackend{fakeBackend: fakeBackend{bm25: []pampax.SearchResult{{ID: "c1", Path: "a.go", Content: "func Foo() {}", Score: 0.9}}}, calls: &calls}
	c := cache.New(100, 0)
	a := NewAssembler(backend, c, tokenizer.NewFactory(nil), nil, nil)

	opts := Options{Budget: 4096, CacheEnabled: true}
	_ = a.AssembleWithExplanation(context.Background(), "same query", opts)
	_ = a.AssembleWithExplanation(context.Background(), "same query", opts)

	assert.Equal(t, 1, calls)
}

type countingBackend struct {
	fakeBackend
	calls *int
}

func (c *countingBackend) SearchBM25(ctx context.Context, query string, opts retrieval.Options) ([]pampax.SearchResult, error) {
	*c.calls++
	return c.fakeBackend.bm25, nil
}

func TestShutdownStopsSweeperWithoutPanicking(t *testing.T) {
	c := cache.New(10, 0)
	c.StartSweeper(1000)
	a := NewAssembler(&fakeBackend{}, c, tokenizer.NewFactory(nil), nil, nil)
	assert.NotPanics(t, func() { a.Shutdown() })
}

func TestMetricsCollectorReceivesTimingAndCounter(t *testing.T) {
	collector := telemetry.NewCollector()
	a := NewAssembler(&fakeBackend{bm25: []pampax.SearchResult{{ID: "c1", Content: "func Foo() {}", Score: 0.9}}}, nil, tokenizer.NewFactory(nil), collector, nil)
	_ = a.AssembleWithExplanation(context.Background(), "anything", Options{Budget: 4096})

	counters, _, histograms := collector.Snapshot()
	assert.NotEmpty(t, counters)
	assert.NotEmpty(t, histograms)
}

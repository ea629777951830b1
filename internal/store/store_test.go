package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pampax/internal/pampax"
	"pampax/internal/retrieval"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := newTestStore(t)
	assert.NotNil(t, s)
}

func TestInsertAndGetChunkRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := pampax.Chunk{ID: "c1", RepoID: "r1", Path: "a.go", Content: "func Foo() {}", SpanKind: pampax.SpanFunction, TokenCount: 4}
	require.NoError(t, s.InsertChunk(ctx, c))

	got, err := s.GetChunk(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "a.go", got.Path)
	assert.Equal(t, pampax.SpanFunction, got.SpanKind)
}

func TestBM25SearchFindsIndexedChunk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertChunk(ctx, pampax.Chunk{ID: "c1", RepoID: "r1", Path: "a.go", Content: "func ParseConfig() error", SpanKind: pampax.SpanFunction}))
	require.NoError(t, s.InsertChunk(ctx, pampax.Chunk{ID: "c2", RepoID: "r1", Path: "b.go", Content: "func WriteReport() error", SpanKind: pampax.SpanFunction}))

	results, err := s.SearchBM25(ctx, "ParseConfig", retrieval.Options{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c1", results[0].ID)
}

func TestOutgoingAndIncomingEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertEdge(ctx, pampax.Edge{From: "a", To: "b", Type: pampax.EdgeCalls, Confidence: 0.9}))
	require.NoError(t, s.InsertEdge(ctx, pampax.Edge{From: "a", To: "c", Type: pampax.EdgeUses, Confidence: 0.5}))

	out, err := s.OutgoingEdges(ctx, "a", nil)
	require.NoError(t, err)
	assert.Len(t, out, 2)

	in, err := s.IncomingEdges(ctx, "b", nil)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, "a", in[0].From)
}

func TestOutgoingEdgesFiltersByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertEdge(ctx, pampax.Edge{From: "a", To: "b", Type: pampax.EdgeCalls, Confidence: 0.9}))
	require.NoError(t, s.InsertEdge(ctx, pampax.Edge{From: "a", To: "c", Type: pampax.EdgeUses, Confidence: 0.5}))

	out, err := s.OutgoingEdges(ctx, "a", []pampax.EdgeType{pampax.EdgeCalls})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, pampax.EdgeCalls, out[0].Type)
}

func TestMemoryInsertAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertMemoryFact(ctx, "r1", "deploy", "note", "rollback-procedure", "run scripts/rollback.sh", 0.8))

	facts, err := s.QueryMemoryFacts(ctx, "r1", "deploy", "")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "rollback-procedure", facts[0].Key)
}

func TestSearchMemoryMatchesSubstring(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertMemoryFact(ctx, "r1", "deploy", "note", "rollback-procedure", "run scripts/rollback.sh", 0.8))

	results, err := s.SearchMemory(ctx, "rollback", retrieval.Options{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestSymbolSearchMatchesPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertChunk(ctx, pampax.Chunk{ID: "c1", RepoID: "r1", Path: "a.go", Content: "func NewTracker(budget int) *Tracker", SpanKind: pampax.SpanFunction}))

	results, err := s.SearchSymbol(ctx, "func NewTracker", retrieval.Options{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestSearchVectorEmbeddingRejectsMismatchedDimension(t *testing.T) {
	s := newTestStore(t)
	s.vectorExt = true // simulate the vec0 extension having loaded, regardless of this build's cgo availability
	s.dim = 8

	_, err := s.SearchVectorEmbedding(context.Background(), make([]float32, 4), retrieval.Options{})
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestGetChunkMissingReturnsError(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetChunk(context.Background(), "missing")
	assert.Error(t, err)
}

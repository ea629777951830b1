package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pampax/internal/pampax"
)

type fakeBackend struct {
	bm25   func(ctx context.Context, q string, o Options) ([]pampax.SearchResult, error)
	vector func(ctx context.Context, q string, o Options) ([]pampax.SearchResult, error)
	memory func(ctx context.Context, q string, o Options) ([]pampax.SearchResult, error)
	symbol func(ctx context.Context, q string, o Options) ([]pampax.SearchResult, error)
}

func (f fakeBackend) SearchBM25(ctx context.Context, q string, o Options) ([]pampax.SearchResult, error) {
	if f.bm25 == nil {
		return nil, nil
	}
	return f.bm25(ctx, q, o)
}
func (f fakeBackend) SearchVector(ctx context.Context, q string, o Options) ([]pampax.SearchResult, error) {
	if f.vector == nil {
		return nil, nil
	}
	return f.vector(ctx, q, o)
}
func (f fakeBackend) SearchMemory(ctx context.Context, q string, o Options) ([]pampax.SearchResult, error) {
	if f.memory == nil {
		return nil, nil
	}
	return f.memory(ctx, q, o)
}
func (f fakeBackend) SearchSymbol(ctx context.Context, q string, o Options) ([]pampax.SearchResult, error) {
	if f.symbol == nil {
		return nil, nil
	}
	return f.symbol(ctx, q, o)
}

func allOpts() Options {
	return Options{IncludeBM25: true, IncludeVector: true, IncludeMemory: true, IncludeSymbol: true}
}

func TestRetrieveDedupesKeepingMaxScore(t *testing.T) {
	backend := fakeBackend{
		bm25: func(ctx context.Context, q string, o Options) ([]pampax.SearchResult, error) {
			return []pampax.SearchResult{{ID: "a", Path: "x.go", Score: 0.4, Metadata: map[string]interface{}{"spanName": "Foo"}}}, nil
		},
		vector: func(ctx context.Context, q string, o Options) ([]pampax.SearchResult, error) {
			return []pampax.SearchResult{{ID: "a", Path: "x.go", Score: 0.9, Metadata: map[string]interface{}{}}}, nil
		},
	}
	res := Retrieve(context.Background(), backend, "q", allOpts(), nil)
	require.Len(t, res.Results, 1)
	assert.Equal(t, 0.9, res.Results[0].Score)
	assert.Contains(t, res.Results[0].Source, SourceBM25)
	assert.Contains(t, res.Results[0].Source, SourceVector)
	assert.Equal(t, "Foo", res.Results[0].Metadata["spanName"])
}

func TestRetrieveSoftFailureContinuesWithRemaining(t *testing.T) {
	backend := fakeBackend{
		bm25: func(ctx context.Context, q string, o Options) ([]pampax.SearchResult, error) {
			return nil, errors.New("fts unavailable")
		},
		vector: func(ctx context.Context, q string, o Options) ([]pampax.SearchResult, error) {
			return []pampax.SearchResult{{ID: "b", Path: "y.go", Score: 0.5}}, nil
		},
	}
	res := Retrieve(context.Background(), backend, "q", Options{IncludeBM25: true, IncludeVector: true}, nil)
	require.Len(t, res.Results, 1)
	assert.False(t, res.AllFailed)
	require.Len(t, res.SoftFailures, 1)
}

func TestRetrieveAllFailedWhenEveryEnabledSourceErrors(t *testing.T) {
	backend := fakeBackend{
		bm25: func(ctx context.Context, q string, o Options) ([]pampax.SearchResult, error) {
			return nil, errors.New("down")
		},
	}
	res := Retrieve(context.Background(), backend, "q", Options{IncludeBM25: true}, nil)
	assert.True(t, res.AllFailed)
	assert.Empty(t, res.Results)
}

func TestRetrieveRespectsLimit(t *testing.T) {
	backend := fakeBackend{
		symbol: func(ctx context.Context, q string, o Options) ([]pampax.SearchResult, error) {
			return []pampax.SearchResult{
				{ID: "1", Path: "a", Score: 0.9},
				{ID: "2", Path: "b", Score: 0.8},
				{ID: "3", Path: "c", Score: 0.7},
			}, nil
		},
	}
	res := Retrieve(context.Background(), backend, "q", Options{IncludeSymbol: true, Limit: 2}, nil)
	assert.Len(t, res.Results, 2)
}

func TestRetrieveNoSourcesEnabledReturnsEmpty(t *testing.T) {
	res := Retrieve(context.Background(), fakeBackend{}, "q", Options{}, nil)
	assert.Empty(t, res.Results)
	assert.False(t, res.AllFailed)
}

type fixedWeights map[string]float64

func (f fixedWeights) Weights(query string) map[string]float64 { return f }

func TestClassifierReweightsScoresBeforeMerge(t *testing.T) {
	backend := fakeBackend{
		bm25: func(ctx context.Context, q string, o Options) ([]pampax.SearchResult, error) {
			return []pampax.SearchResult{{ID: "a", Path: "x.go", Score: 0.9}}, nil
		},
		symbol: func(ctx context.Context, q string, o Options) ([]pampax.SearchResult, error) {
			return []pampax.SearchResult{{ID: "b", Path: "y.go", Score: 0.5}}, nil
		},
	}
	opts := Options{IncludeBM25: true, IncludeSymbol: true, Classifier: fixedWeights{SourceSymbol: 2.0}}
	res := Retrieve(context.Background(), backend, "q", opts, nil)

	byID := map[string]float64{}
	for _, r := range res.Results {
		byID[r.ID] = r.Score
	}
	assert.Equal(t, 0.9, byID["a"])
	assert.Equal(t, 1.0, byID["b"])
}

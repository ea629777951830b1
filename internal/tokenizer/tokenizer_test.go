package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimatorCountTokensCeilsLength(t *testing.T) {
	f := NewFactory(nil)
	tok := f.Create("default-unknown-model", Options{})
	assert.Equal(t, uint32(0), tok.CountTokens(""))
	assert.Equal(t, uint32(1), tok.CountTokens("abcd"))
	assert.Equal(t, uint32(2), tok.CountTokens("abcde"))
}

func TestUnknownModelFallsBackToDefault(t *testing.T) {
	cfg := LookupModel("some-model-nobody-registered")
	assert.Equal(t, DefaultModel, cfg)
}

func TestFactoryCachesInstancesPerModelAndOptions(t *testing.T) {
	f := NewFactory(nil)
	a := f.Create("gpt-4", Options{Reserve: 100})
	b := f.Create("gpt-4", Options{Reserve: 100})
	assert.Same(t, a, b)

	c := f.Create("gpt-4", Options{Reserve: 200})
	assert.NotSame(t, a, c)
}

func TestFactoryClearEmptiesCache(t *testing.T) {
	f := NewFactory(nil)
	a := f.Create("gpt-4", Options{})
	f.Clear()
	b := f.Create("gpt-4", Options{})
	assert.NotSame(t, a, b)
}

func TestFitToContextReportsTruncation(t *testing.T) {
	f := NewFactory(nil)
	tok := f.Create("llama", Options{}) // estimator, context_size=4096, chars_per_token=4
	long := strings.Repeat("x", 20000)

	res := tok.FitToContext(long, 3900) // limit = 4096-3900 = 196 tokens -> 784 chars
	require.True(t, res.Truncated)
	assert.LessOrEqual(t, res.Tokens, uint32(196))
	assert.Equal(t, tok.CountTokens(long), res.OriginalTokens)
}

func TestFitToContextNoTruncationWhenUnderLimit(t *testing.T) {
	f := NewFactory(nil)
	tok := f.Create("claude-3", Options{})
	short := "hello world"

	res := tok.FitToContext(short, 0)
	assert.False(t, res.Truncated)
	assert.Equal(t, short, res.Text)
}

func TestBatchCountIsOrderPreservingAndMatchesPerItem(t *testing.T) {
	f := NewFactory(nil)
	tok := f.Create("default", Options{})
	texts := []string{"a", "abcdefgh", "", "abcd"}

	batch := BatchCount(tok, texts)
	for i, s := range texts {
		assert.Equal(t, tok.CountTokens(s), batch[i])
	}
}

func TestCanonicalHashIsStableAndOrderIndependent(t *testing.T) {
	h1 := CanonicalHash(map[string]string{"a": "1", "b": "2"})
	h2 := CanonicalHash(map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 16)

	h3 := CanonicalHash(map[string]string{"a": "1", "b": "2", "c": ""})
	assert.Equal(t, h1, h3, "empty values must be dropped before hashing")
}

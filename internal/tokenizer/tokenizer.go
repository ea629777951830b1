// Package tokenizer implements the Tokenizer Factory (spec §4.1): a
// model-specific token counter and context-fitter behind a uniform
// contract. It follows AbdelazizMoustafa10m-Harvx's internal/tokenizer
// shape (a Tokenizer interface, a tiktoken-go-backed BPE implementation,
// and a chars-per-token estimator fallback) generalized to PAMPAX's model
// registry and per-(model,options) instance cache.
package tokenizer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// Tokenizer is the uniform per-model contract spec §4.1 requires.
type Tokenizer interface {
	// CountTokens returns the token count of text. Non-string inputs never
	// reach this interface (Go's type system rules those out); callers that
	// bridge untyped data must coerce to string or pass "" beforehand, in
	// which case CountTokens("") == 0.
	CountTokens(text string) uint32
	ContextSize() uint32
	FitToContext(text string, reserve uint32) FitResult
}

// FitResult is fit_to_context's output.
type FitResult struct {
	Text           string
	Tokens         uint32
	Truncated      bool
	OriginalTokens uint32
}

// Family is the underlying counting strategy a model config selects.
type Family string

const (
	FamilyCL100K    Family = "cl100k_base"
	FamilyO200K     Family = "o200k_base"
	FamilyEstimator Family = "estimator"
)

// ModelConfig is one registry entry.
type ModelConfig struct {
	Name            string
	CharsPerToken   float64
	ContextSize     uint32
	MaxTokens       uint32
	TokenizerFamily Family
}

// DefaultModel is used for unknown model names.
var DefaultModel = ModelConfig{Name: "default", CharsPerToken: 4.0, ContextSize: 4096, MaxTokens: 4096, TokenizerFamily: FamilyEstimator}

// registry holds the known model configs from spec §4.1.
var registry = map[string]ModelConfig{
	"gpt-4":            {Name: "gpt-4", CharsPerToken: 3.5, ContextSize: 8192, MaxTokens: 8192, TokenizerFamily: FamilyCL100K},
	"gpt-3.5-turbo":     {Name: "gpt-3.5-turbo", CharsPerToken: 4.0, ContextSize: 16384, MaxTokens: 16384, TokenizerFamily: FamilyCL100K},
	"gpt-4o":            {Name: "gpt-4o", CharsPerToken: 4.0, ContextSize: 128000, MaxTokens: 16384, TokenizerFamily: FamilyO200K},
	"claude-3":          {Name: "claude-3", CharsPerToken: 4.0, ContextSize: 100000, MaxTokens: 4096, TokenizerFamily: FamilyEstimator},
	"llama":             {Name: "llama", CharsPerToken: 4.0, ContextSize: 4096, MaxTokens: 4096, TokenizerFamily: FamilyEstimator},
	"mistral":           {Name: "mistral", CharsPerToken: 4.0, ContextSize: 8192, MaxTokens: 8192, TokenizerFamily: FamilyEstimator},
}

// LookupModel returns the registry entry for name, falling back to
// DefaultModel for anything unknown.
func LookupModel(name string) ModelConfig {
	if cfg, ok := registry[name]; ok {
		return cfg
	}
	return DefaultModel
}

// Options tweaks an instance beyond its base model config; it participates
// in the factory's cache key alongside the model name.
type Options struct {
	Reserve uint32
}

func (o Options) hash() string {
	return fmt.Sprintf("r%d", o.Reserve)
}

// Factory creates and caches Tokenizer instances per (model, options-hash)
// so repeated Create(model) calls return the same object, and the cache can
// be cleared wholesale — the process-wide global mutable state spec §9
// calls for, with a required reset hook for tests.
type Factory struct {
	mu       sync.Mutex
	cache    map[string]Tokenizer
	bpeCache map[Family]BPECounter
}

// BPECounter is the narrow seam a real BPE implementation plugs into; when
// absent for a family, Create falls back to the chars-per-token estimator
// exactly as spec §4.1 requires ("when a real BPE implementation is
// present, use it; otherwise estimate").
type BPECounter interface {
	Count(text string) int
}

// NewFactory constructs an empty Factory. bpe supplies real BPE counters
// keyed by Family (typically {FamilyCL100K: tiktoken cl100k_base,
// FamilyO200K: tiktoken o200k_base}); pass nil to run estimator-only.
func NewFactory(bpe map[Family]BPECounter) *Factory {
	return &Factory{cache: make(map[string]Tokenizer), bpeCache: bpe}
}

// Create returns the cached Tokenizer for (model, opts), constructing one
// on first use.
func (f *Factory) Create(model string, opts Options) Tokenizer {
	key := model + "|" + opts.hash()

	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.cache[key]; ok {
		return t
	}

	cfg := LookupModel(model)
	var t Tokenizer
	if bpe, ok := f.bpeCache[cfg.TokenizerFamily]; ok {
		t = &bpeTokenizer{cfg: cfg, bpe: bpe}
	} else {
		t = &estimatorTokenizer{cfg: cfg}
	}
	f.cache[key] = t
	return t
}

// Clear empties the instance cache; tests must be able to reset process-wide
// global state per spec §9.
func (f *Factory) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[string]Tokenizer)
}

// estimatorTokenizer implements the ceil(len(text)/chars_per_token)
// fallback used for every model family without a wired BPE counter.
type estimatorTokenizer struct{ cfg ModelConfig }

func (e *estimatorTokenizer) CountTokens(text string) uint32 {
	if text == "" {
		return 0
	}
	return uint32(math.Ceil(float64(len(text)) / e.cfg.CharsPerToken))
}

func (e *estimatorTokenizer) ContextSize() uint32 { return e.cfg.ContextSize }

func (e *estimatorTokenizer) FitToContext(text string, reserve uint32) FitResult {
	return fitToContext(e, text, reserve)
}

// bpeTokenizer counts with a real BPE implementation (tiktoken-go) when
// available for the model's family.
type bpeTokenizer struct {
	cfg ModelConfig
	bpe BPECounter
}

func (b *bpeTokenizer) CountTokens(text string) uint32 {
	if text == "" {
		return 0
	}
	n := b.bpe.Count(text)
	if n < 0 {
		return 0
	}
	return uint32(n)
}

func (b *bpeTokenizer) ContextSize() uint32 { return b.cfg.ContextSize }

func (b *bpeTokenizer) FitToContext(text string, reserve uint32) FitResult {
	return fitToContext(b, text, reserve)
}

// fitToContext returns the largest head-prefix of text whose token count is
// <= contextSize - reserve, via binary search over byte offsets (token
// counts are monotone non-decreasing in prefix length for every counting
// strategy here).
func fitToContext(t Tokenizer, text string, reserve uint32) FitResult {
	original := t.CountTokens(text)
	limit := t.ContextSize()
	if reserve >= limit {
		limit = 0
	} else {
		limit -= reserve
	}
	if uint32(original) <= limit {
		return FitResult{Text: text, Tokens: uint32(original), Truncated: false, OriginalTokens: uint32(original)}
	}

	lo, hi := 0, len(text)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if t.CountTokens(text[:mid]) <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	fitted := text[:lo]
	return FitResult{Text: fitted, Tokens: t.CountTokens(fitted), Truncated: true, OriginalTokens: uint32(original)}
}

// BatchCount counts tokens for each item in order, preserving order and
// matching per-item CountTokens results exactly.
func BatchCount(t Tokenizer, texts []string) []uint32 {
	out := make([]uint32, len(texts))
	for i, s := range texts {
		out[i] = t.CountTokens(s)
	}
	return out
}

// CanonicalHash produces a stable 16-hex-char digest over a canonicalized
// representation of kv (keys sorted, empty values dropped). The cache
// package computes its keys with its own canonicalization, and
// Options.hash formats its single field directly, so neither calls this.
func CanonicalHash(kv map[string]string) string {
	keys := make([]string, 0, len(kv))
	for k, v := range kv {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(kv[k])
		b.WriteString(";")
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// TiktokenCounter adapts pkoukk/tiktoken-go into the BPECounter seam. It
// lives here (rather than importing tiktoken-go directly into Factory's
// construction path) so callers decide at wiring time whether BPE counting
// is worth tiktoken-go's one-time encoding load.
type TiktokenCounter struct {
	encode func(text string) int
}

// NewTiktokenCounter wraps an encode function obtained from
// tiktoken.GetEncoding(name).Encode, matching
// AbdelazizMoustafa10m-Harvx's tiktokenTokenizer.Count.
func NewTiktokenCounter(encode func(text string) int) *TiktokenCounter {
	return &TiktokenCounter{encode: encode}
}

func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return c.encode(text)
}

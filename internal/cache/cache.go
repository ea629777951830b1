// Package cache implements the Namespaced LRU+TTL Cache (spec §4.3): scopes
// of independent LRU maps with per-scope TTL, a read-through get(scope,
// key, fetch_fn) API, a background sweeper, and aggregate health/stats. The
// eviction and TTL-at-read-time pattern is grounded on codeNERD's
// KeywordHitCache (internal/retrieval/sparse.go), generalized from a single
// flat map to independent per-scope LRU lists (container/list, true O(1)
// strict-LRU eviction rather than a timestamp scan) and enriched with
// golang.org/x/sync/singleflight so concurrent misses for the same key
// invoke fetch_fn exactly once.
package cache

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CacheVersion is embedded in every generated key; bumping it invalidates
// every namespace atomically (spec §3, CacheKey).
const CacheVersion = 1

// entry is one scope's LRU list element payload.
type entry struct {
	key          string
	value        interface{}
	expiresAt    time.Time
	lastAccessed time.Time
	sizeEstimate int
}

// scopeStats mirrors spec §4.3's per-scope {hits, misses, size, hit_rate}.
type scopeStats struct {
	hits   int64
	misses int64
}

// scope is one independent LRU+TTL map.
type scope struct {
	mu       sync.Mutex
	maxSize  int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List // front = most recently used
	stats    scopeStats
	inflight singleflight.Group
}

func newScope(maxSize int, ttl time.Duration) *scope {
	return &scope{maxSize: maxSize, ttl: ttl, items: make(map[string]*list.Element), order: list.New()}
}

// Cache is the namespaced cache manager: a registry of scopes plus a
// background sweeper that evicts expired entries independent of reads.
type Cache struct {
	mu     sync.RWMutex
	scopes map[string]*scope

	defaultMaxSize int
	defaultTTL     time.Duration

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepDone     chan struct{}
}

// ScopeConfig configures a scope at creation time.
type ScopeConfig struct {
	MaxSize int
	TTL     time.Duration
}

// New constructs a Cache with the given default scope sizing. Call
// ConfigureScope before first use of a scope to give it non-default
// sizing (e.g. "search", "bundle", "index", "graph", "rerank" each get
// their own max size and TTL per spec §4.3).
func New(defaultMaxSize int, defaultTTL time.Duration) *Cache {
	return &Cache{
		scopes:         make(map[string]*scope),
		defaultMaxSize: defaultMaxSize,
		defaultTTL:     defaultTTL,
	}
}

// ConfigureScope sets or overrides sizing for a named scope. Safe to call
// before the scope has received any traffic; calling it afterward resets
// that scope's contents, since maxSize/ttl are immutable per scope instance.
func (c *Cache) ConfigureScope(name string, cfg ScopeConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = c.defaultMaxSize
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.scopes[name] = newScope(maxSize, ttl)
}

func (c *Cache) getScope(name string) *scope {
	c.mu.RLock()
	s, ok := c.scopes[name]
	c.mu.RUnlock()
	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.scopes[name]; ok {
		return s
	}
	s = newScope(c.defaultMaxSize, c.defaultTTL)
	c.scopes[name] = s
	return s
}

// Result is get()'s return value.
type Result struct {
	Value     interface{}
	FromCache bool
}

// FetchFunc produces a value on a cache miss. Returning (nil, nil) means "no
// value available"; per spec §4.3 this is never cached, so the next Get for
// the same key re-invokes FetchFunc.
type FetchFunc func() (interface{}, error)

// Get is the read-through API. On hit it refreshes LRU recency and returns
// FromCache=true. On miss it invokes fetch (de-duplicated across concurrent
// callers for the same key via singleflight), and only caches a non-nil
// result. Errors from fetch propagate unchanged — no negative caching.
func (c *Cache) Get(scopeName, key string, fetch FetchFunc) (Result, error) {
	s := c.getScope(scopeName)

	if v, ok := s.lookup(key, true); ok {
		return Result{Value: v, FromCache: true}, nil
	}

	v, err, _ := s.inflight.Do(key, func() (interface{}, error) {
		// Re-check under the singleflight gate: another caller may have
		// populated the entry while we were waiting to run. The miss was
		// already counted above, so this re-check records no stats.
		if v, ok := s.lookup(key, false); ok {
			return v, nil
		}
		val, ferr := fetch()
		if ferr != nil {
			return nil, ferr
		}
		if val == nil {
			return nil, nil
		}
		s.set(key, val)
		return val, nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Value: v, FromCache: false}, nil
}

// Set inserts or replaces a value directly, bypassing fetch. Useful for
// warming the cache (e.g. after a write) without a round-trip through Get.
func (c *Cache) Set(scopeName, key string, value interface{}) {
	c.getScope(scopeName).set(key, value)
}

// lookup returns the live value for key, refreshing LRU recency on hit.
// Expired entries are treated as absent (and removed) — TTL is enforced
// lazily at read time per spec §4.3. record controls whether the outcome
// counts toward the scope's hit/miss stats.
func (s *scope) lookup(key string, record bool) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		if record {
			s.stats.misses++
		}
		return nil, false
	}
	e := el.Value.(*entry)
	if s.ttl > 0 && time.Now().After(e.expiresAt) {
		s.order.Remove(el)
		delete(s.items, key)
		if record {
			s.stats.misses++
		}
		return nil, false
	}

	e.lastAccessed = time.Now()
	s.order.MoveToFront(el)
	if record {
		s.stats.hits++
	}
	return e.value, true
}

// set inserts key, evicting the least-recently-used entry if at capacity.
func (s *scope) set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if el, ok := s.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expiresAt = now.Add(s.ttl)
		e.lastAccessed = now
		s.order.MoveToFront(el)
		return
	}

	if s.maxSize > 0 && len(s.items) >= s.maxSize {
		s.evictLRU()
	}

	e := &entry{key: key, value: value, expiresAt: now.Add(s.ttl), lastAccessed: now}
	el := s.order.PushFront(e)
	s.items[key] = el
}

// evictLRU removes exactly the least-recently-used entry. Caller holds s.mu.
func (s *scope) evictLRU() {
	back := s.order.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry)
	s.order.Remove(back)
	delete(s.items, e.key)
}

// Clear empties one scope's contents without removing its configuration.
func (c *Cache) Clear(scopeName string) {
	s := c.getScope(scopeName)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*list.Element)
	s.order = list.New()
}

// ScopeStats is one scope's {hits, misses, size, hit_rate}.
type ScopeStats struct {
	Hits    int64
	Misses  int64
	Size    int
	HitRate float64
}

// Stats returns the current stats for one scope.
func (c *Cache) Stats(scopeName string) ScopeStats {
	s := c.getScope(scopeName)
	s.mu.Lock()
	defer s.mu.Unlock()
	denom := s.stats.hits + s.stats.misses
	rate := 0.0
	if denom > 0 {
		rate = float64(s.stats.hits) / float64(denom)
	}
	return ScopeStats{Hits: s.stats.hits, Misses: s.stats.misses, Size: len(s.items), HitRate: rate}
}

// GlobalSummary aggregates stats across every scope.
type GlobalSummary struct {
	Version      int
	Namespaces   map[string]ScopeStats
	TotalHits    int64
	TotalMisses  int64
	GlobalHitRate float64
}

// GlobalStats returns {version, namespaces, summary} across every scope
// that has been touched so far.
func (c *Cache) GlobalStats() GlobalSummary {
	c.mu.RLock()
	names := make([]string, 0, len(c.scopes))
	for name := range c.scopes {
		names = append(names, name)
	}
	c.mu.RUnlock()

	summary := GlobalSummary{Version: CacheVersion, Namespaces: make(map[string]ScopeStats, len(names))}
	for _, name := range names {
		st := c.Stats(name)
		summary.Namespaces[name] = st
		summary.TotalHits += st.Hits
		summary.TotalMisses += st.Misses
	}
	denom := summary.TotalHits + summary.TotalMisses
	if denom > 0 {
		summary.GlobalHitRate = float64(summary.TotalHits) / float64(denom)
	}
	return summary
}

// Health is the cache's self-reported health snapshot.
type Health struct {
	Healthy   bool
	Issues    []string
	Stats     GlobalSummary
	Timestamp time.Time
}

// LowHitRateThreshold below which CheckHealth lists a scope under Issues.
const LowHitRateThreshold = 0.3

// CheckHealth reports aggregate health. A scope whose hit rate sits well
// below expectation (once it has seen meaningful traffic) is surfaced as an
// issue, but never makes Healthy false by itself — callers decide policy
// from Issues, matching the Stopping-Reason Engine's LOW_CACHE_HIT_RATE
// trigger rather than duplicating its threshold here.
func (c *Cache) CheckHealth() Health {
	summary := c.GlobalStats()
	var issues []string
	for name, st := range summary.Namespaces {
		if st.Hits+st.Misses >= 20 && st.HitRate < LowHitRateThreshold {
			issues = append(issues, "scope "+name+" has a low hit rate")
		}
	}
	return Health{Healthy: true, Issues: issues, Stats: summary, Timestamp: time.Now()}
}

// StartSweeper launches the background goroutine that periodically removes
// expired entries from every scope. It must be shut down with StopSweeper.
func (c *Cache) StartSweeper(interval time.Duration) {
	c.mu.Lock()
	if c.stopSweep != nil {
		c.mu.Unlock()
		return
	}
	c.stopSweep = make(chan struct{})
	c.sweepDone = make(chan struct{})
	c.sweepInterval = interval
	stop := c.stopSweep
	done := c.sweepDone
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// StopSweeper stops the background sweeper and waits for it to exit.
func (c *Cache) StopSweeper() {
	c.mu.Lock()
	stop := c.stopSweep
	done := c.sweepDone
	c.stopSweep = nil
	c.sweepDone = nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (c *Cache) sweep() {
	c.mu.RLock()
	scopes := make([]*scope, 0, len(c.scopes))
	for _, s := range c.scopes {
		scopes = append(scopes, s)
	}
	c.mu.RUnlock()

	now := time.Now()
	for _, s := range scopes {
		s.mu.Lock()
		var next *list.Element
		for el := s.order.Back(); el != nil; el = next {
			next = el.Prev()
			e := el.Value.(*entry)
			if s.ttl > 0 && now.After(e.expiresAt) {
				s.order.Remove(el)
				delete(s.items, e.key)
			}
		}
		s.mu.Unlock()
	}
}

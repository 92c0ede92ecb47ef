package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rapidroutes/lane-engine/internal/metrics"
)

// PairCache is a concurrent-safe LRU cache of pairing outcomes with TTL
// expiration, keyed by the full request fingerprint including the indicator
// snapshot generation, so a refreshed snapshot never serves stale pairs. Rows
// are never cached.
type PairCache struct {
	mu         sync.Mutex
	entries    map[string]*pairCacheEntry
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	hits       atomic.Int64
	misses     atomic.Int64
}

type pairCacheEntry struct {
	out       *outcome
	createdAt time.Time
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewPairCache creates a PairCache holding up to maxEntries outcomes for ttl.
func NewPairCache(maxEntries int, ttl time.Duration) *PairCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &PairCache{
		entries:    make(map[string]*pairCacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

func (c *PairCache) get(key string) (*outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.miss()
		return nil, false
	}
	if c.now().Sub(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.miss()
		return nil, false
	}

	c.removeFromOrder(key)
	c.order = append(c.order, key)
	c.hits.Add(1)
	metrics.CacheHits.WithLabelValues("pairs").Inc()
	return entry.out, true
}

func (c *PairCache) put(key string, out *outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = &pairCacheEntry{out: out, createdAt: c.now()}
		c.removeFromOrder(key)
		c.order = append(c.order, key)
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = &pairCacheEntry{out: out, createdAt: c.now()}
	c.order = append(c.order, key)
}

// Invalidate drops every entry, e.g. after the city table is reloaded.
func (c *PairCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*pairCacheEntry)
	c.order = nil
}

// Stats returns cache performance statistics.
func (c *PairCache) Stats() CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return CacheStats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}

func (c *PairCache) miss() {
	c.misses.Add(1)
	metrics.CacheMisses.WithLabelValues("pairs").Inc()
}

func (c *PairCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

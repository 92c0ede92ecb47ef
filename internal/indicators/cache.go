package indicators

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultTTL is how long a fetched snapshot stays valid.
const DefaultTTL = time.Hour

// SharedStore is an optional second-level cache shared between processes.
type SharedStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Cache holds one snapshot for TTL. It is created once and passed by
// reference to whoever needs indicators; nothing is cached at package level.
type Cache struct {
	source Source
	ttl    time.Duration
	shared SharedStore
	key    string
	now    func() time.Time

	mu        sync.Mutex
	snap      Snapshot
	fetchedAt time.Time
	valid     bool
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithShared adds a second-level store under key.
func WithShared(s SharedStore, key string) CacheOption {
	return func(c *Cache) {
		c.shared = s
		if key != "" {
			c.key = key
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a Cache over source. ttl <= 0 uses DefaultTTL.
func NewCache(source Source, ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		source: source,
		ttl:    ttl,
		key:    "lane-engine:indicators",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached snapshot, refreshing it when older than the TTL.
// Concurrent callers share one refresh.
func (c *Cache) Get(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.snap, nil
	}

	if snap, ok := c.loadShared(ctx); ok {
		c.store(snap)
		return snap, nil
	}

	snap, err := c.source.Fetch(ctx)
	if err != nil {
		return Snapshot{}, eris.Wrap(err, "indicators: refresh cache")
	}
	c.store(snap)
	c.saveShared(ctx, snap)
	return snap, nil
}

// Invalidate drops the local and shared copies so the next Get refetches.
func (c *Cache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	c.valid = false
	c.snap = Snapshot{}
	c.mu.Unlock()

	if c.shared == nil {
		return nil
	}
	if err := c.shared.Delete(ctx, c.key); err != nil {
		return eris.Wrap(err, "indicators: invalidate shared cache")
	}
	return nil
}

// FetchedAt returns when the current snapshot was stored, or zero.
func (c *Cache) FetchedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return time.Time{}
	}
	return c.fetchedAt
}

func (c *Cache) store(snap Snapshot) {
	c.snap = snap
	c.fetchedAt = c.now()
	c.valid = true
}

// Shared store failures only cost a refetch, so they are logged and ignored.
func (c *Cache) loadShared(ctx context.Context) (Snapshot, bool) {
	if c.shared == nil {
		return Snapshot{}, false
	}
	data, ok, err := c.shared.Get(ctx, c.key)
	if err != nil {
		zap.L().Warn("indicators: shared cache get failed", zap.Error(err))
		return Snapshot{}, false
	}
	if !ok {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		zap.L().Warn("indicators: discarding corrupt shared entry", zap.Error(err))
		return Snapshot{}, false
	}
	return snap, true
}

func (c *Cache) saveShared(ctx context.Context, snap Snapshot) {
	if c.shared == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		zap.L().Warn("indicators: marshal snapshot", zap.Error(err))
		return
	}
	if err := c.shared.Set(ctx, c.key, data, c.ttl); err != nil {
		zap.L().Warn("indicators: shared cache set failed", zap.Error(err))
	}
}

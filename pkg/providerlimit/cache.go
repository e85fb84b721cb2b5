package providerlimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
)

// ResultCache deduplicates identical recent requests per provider.
//
// Entries are keyed by a stable hash of (provider, normalized query) and
// expire after a TTL. The cache is purely a cost optimization: misses never
// change correctness, only load. A disabled cache never hits and discards
// writes.
//
// Expired entries are evicted lazily on read; when SweepInterval is set, a
// background janitor also sweeps them periodically. The entry count is
// bounded by MaxEntries.
type ResultCache struct {
	config  CacheConfig
	clock   Clock
	metrics Metrics

	mu      sync.RWMutex
	entries map[uint64]cacheEntry

	group singleflight.Group

	janitorStop chan struct{}
	janitorOnce sync.Once
	wg          sync.WaitGroup
}

// cacheEntry holds one cached payload.
type cacheEntry struct {
	expiresAt time.Time
	payload   string
}

// NewResultCache creates a cache with the given configuration.
//
// If clock is nil, the system clock is used; if metrics is nil, metrics are
// discarded. When the cache is enabled and SweepInterval is positive, a
// janitor goroutine starts immediately; stop it with Close.
func NewResultCache(config CacheConfig, clock Clock, metrics Metrics) *ResultCache {
	if clock == nil {
		clock = &SystemClock{}
	}
	if metrics == nil {
		metrics = NewNoOpMetrics()
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 10000
	}

	c := &ResultCache{
		config:      config,
		clock:       clock,
		metrics:     metrics,
		entries:     make(map[uint64]cacheEntry),
		janitorStop: make(chan struct{}),
	}

	if config.Enabled && config.SweepInterval > 0 {
		c.wg.Add(1)
		go c.janitor()
	}

	return c
}

// Get returns the cached payload for (provider, query) when a live entry
// exists. An expired entry is evicted and reported as a miss.
func (c *ResultCache) Get(provider, query string) (string, bool) {
	if !c.config.Enabled {
		return "", false
	}

	key := cacheKey(provider, query)
	now := c.clock.Now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.metrics.RecordCacheEvent("miss")
		return "", false
	}

	if !now.Before(entry.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have
		// refreshed the entry.
		if cur, ok := c.entries[key]; ok && !now.Before(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.metrics.RecordCacheEvent("expired")
		return "", false
	}

	c.metrics.RecordCacheEvent("hit")
	return entry.payload, true
}

// Set stores payload for (provider, query) with the given TTL. A zero ttl
// uses the configured default. Writes to a full cache are dropped after one
// sweep attempt fails to make room.
func (c *ResultCache) Set(provider, query, payload string, ttl time.Duration) {
	if !c.config.Enabled {
		return
	}
	if ttl <= 0 {
		ttl = c.config.TTL
	}

	key := cacheKey(provider, query)
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.config.MaxEntries {
		c.sweepLocked(now)
		if len(c.entries) >= c.config.MaxEntries {
			c.metrics.RecordCacheEvent("full")
			return
		}
	}

	c.entries[key] = cacheEntry{
		expiresAt: now.Add(ttl),
		payload:   payload,
	}
	c.metrics.RecordCacheEvent("set")
}

// GetOrFill returns the cached payload for (provider, query), or executes
// fill to produce it. Concurrent callers with the same key share a single
// in-flight fill; the winner's result is cached with the given TTL.
//
// A fill error is returned to every waiting caller and nothing is cached.
func (c *ResultCache) GetOrFill(ctx context.Context, provider, query string, ttl time.Duration, fill func(ctx context.Context) (string, error)) (string, error) {
	if payload, ok := c.Get(provider, query); ok {
		return payload, nil
	}
	if !c.config.Enabled {
		return fill(ctx)
	}

	flightKey := provider + "\x00" + normalizeQuery(query)
	v, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		// Another caller may have filled while this one queued.
		if payload, ok := c.Get(provider, query); ok {
			return payload, nil
		}
		payload, err := fill(ctx)
		if err != nil {
			return "", err
		}
		c.Set(provider, query, payload, ttl)
		return payload, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Len returns the current number of entries, expired or not.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the janitor goroutine. Safe to call multiple times.
func (c *ResultCache) Close() {
	c.janitorOnce.Do(func() {
		close(c.janitorStop)
	})
	c.wg.Wait()
}

// janitor periodically sweeps expired entries until Close is called.
func (c *ResultCache) janitor() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.janitorStop:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.sweepLocked(c.clock.Now())
			c.mu.Unlock()
		}
	}
}

// sweepLocked removes expired entries.
//
// Must be called while holding the write lock.
func (c *ResultCache) sweepLocked(now time.Time) {
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			c.metrics.RecordCacheEvent("evicted")
		}
	}
}

// cacheKey hashes (provider, normalized query) into a stable 64-bit key.
func cacheKey(provider, query string) uint64 {
	var h xxhash.Digest
	_, _ = h.WriteString(provider)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(normalizeQuery(query))
	return h.Sum64()
}

// normalizeQuery lower-cases the query and collapses runs of whitespace so
// trivially different spellings of the same request share a cache entry.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

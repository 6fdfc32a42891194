package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	aggregation "energy-dashboard/internal/aggregation/domain"
)

type cacheItem struct {
	value     aggregation.Result
	expiresAt time.Time
}

// Cache is an in-memory TTL cache of aggregation results.
type Cache struct {
	mu     sync.RWMutex
	items  map[aggregation.Key]cacheItem
	ttl    time.Duration
	clock  clockwork.Clock
	hits   atomic.Uint64
	misses atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Option configures the cache.
type Option func(*Cache)

// WithClock overrides the clock used for expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewCache creates a cache and starts its cleanup loop. A non-positive
// cleanup interval disables the loop; expired entries are still misses.
func NewCache(ttl, cleanupInterval time.Duration, opts ...Option) *Cache {
	c := &Cache{
		items: make(map[aggregation.Key]cacheItem),
		ttl:   ttl,
		clock: clockwork.NewRealClock(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if cleanupInterval > 0 {
		go c.cleanupLoop(cleanupInterval)
	} else {
		close(c.done)
	}
	return c
}

// Enabled is always true for the memory cache.
func (c *Cache) Enabled() bool { return true }

// Get returns the cached result. A read past expiry is a miss.
func (c *Cache) Get(_ context.Context, key aggregation.Key) (aggregation.Result, bool, error) {
	c.mu.RLock()
	item, found := c.items[key]
	c.mu.RUnlock()

	if !found || !c.clock.Now().Before(item.expiresAt) {
		c.misses.Add(1)
		return aggregation.Result{}, false, nil
	}
	c.hits.Add(1)
	return item.value, true, nil
}

// Set stores a result. A non-positive ttl falls back to the cache default.
func (c *Cache) Set(_ context.Context, key aggregation.Key, value aggregation.Result, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	c.items[key] = cacheItem{value: value, expiresAt: c.clock.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Invalidate removes every entry selected by the filter and returns how many were removed.
func (c *Cache) Invalidate(_ context.Context, filter aggregation.CacheFilter) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.items {
		if filter.Matches(key) {
			delete(c.items, key)
			removed++
		}
	}
	return removed, nil
}

// Stats returns cache statistics.
func (c *Cache) Stats(_ context.Context) (aggregation.CacheStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.clock.Now()
	expired := 0
	for _, item := range c.items {
		if !now.Before(item.expiresAt) {
			expired++
		}
	}
	hits, misses := c.hits.Load(), c.misses.Load()
	stats := aggregation.CacheStats{
		Enabled:    true,
		Keys:       len(c.items),
		Active:     len(c.items) - expired,
		Expired:    expired,
		Hits:       hits,
		Misses:     misses,
		TTLSeconds: c.ttl.Seconds(),
	}
	if total := hits + misses; total > 0 {
		stats.HitRatio = float64(hits) / float64(total)
	}
	return stats, nil
}

// Close stops the cleanup loop and waits for it to exit.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	defer close(c.done)
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	for key, item := range c.items {
		if !now.Before(item.expiresAt) {
			delete(c.items, key)
		}
	}
}

// DisabledCache is used when caching is switched off. Every Get is a miss.
type DisabledCache struct{}

func (DisabledCache) Enabled() bool { return false }

func (DisabledCache) Get(context.Context, aggregation.Key) (aggregation.Result, bool, error) {
	return aggregation.Result{}, false, nil
}

func (DisabledCache) Set(context.Context, aggregation.Key, aggregation.Result, time.Duration) error {
	return nil
}

func (DisabledCache) Invalidate(context.Context, aggregation.CacheFilter) (int, error) {
	return 0, nil
}

func (DisabledCache) Stats(context.Context) (aggregation.CacheStats, error) {
	return aggregation.CacheStats{Enabled: false}, nil
}

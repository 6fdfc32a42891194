package aggregation

import (
	"context"
	"time"

	hierarchy "energy-dashboard/internal/hierarchy/domain"
)

// Cache memoizes results by key. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key Key) (Result, bool, error)
	Set(ctx context.Context, key Key, value Result, ttl time.Duration) error
	Invalidate(ctx context.Context, filter CacheFilter) (int, error)
	Stats(ctx context.Context) (CacheStats, error)
	Enabled() bool
}

// CacheFilter selects entries to invalidate. Empty fields match everything,
// so the zero filter clears the whole cache.
type CacheFilter struct {
	Level      hierarchy.Level
	EntityID   string
	TimeWindow TimeWindow
}

// Matches reports whether the key is selected by the filter.
func (f CacheFilter) Matches(key Key) bool {
	if f.Level != "" && f.Level != key.Level {
		return false
	}
	if f.EntityID != "" && f.EntityID != key.EntityID {
		return false
	}
	if f.TimeWindow != "" && f.TimeWindow != key.TimeWindow {
		return false
	}
	return true
}

// CacheStats describes the cache state. A disabled cache reports only Enabled.
type CacheStats struct {
	Enabled    bool    `json:"enabled"`
	Keys       int     `json:"keys"`
	Active     int     `json:"active"`
	Expired    int     `json:"expired"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	HitRatio   float64 `json:"hitRatio"`
	TTLSeconds float64 `json:"ttlSeconds"`
}

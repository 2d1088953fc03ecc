package report

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const platformStatsKey = "report:platform"

// JSONCache is the cache the decorator writes through. *cache.Cache
// satisfies it.
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CachedReporter serves platform stats from a cache for up to ttl. Cache
// failures fall back to recomputation. User stats are never cached.
//
// Invalidate is called after payments and user creation. A recomputation
// that overlaps an Invalidate in this process is not written back; one
// running in another process can be, so readers may see figures up to ttl
// old.
type CachedReporter struct {
	next  Source
	cache JSONCache
	ttl   time.Duration
	gen   atomic.Uint64
}

// NewCachedReporter wraps next with a platform stats cache.
func NewCachedReporter(next Source, cache JSONCache, ttl time.Duration) *CachedReporter {
	return &CachedReporter{next: next, cache: cache, ttl: ttl}
}

func (c *CachedReporter) UserStats(ctx context.Context, userID string) (UserStats, error) {
	return c.next.UserStats(ctx, userID)
}

func (c *CachedReporter) PlatformStats(ctx context.Context) (PlatformStats, error) {
	var stats PlatformStats
	found, err := c.cache.GetJSON(ctx, platformStatsKey, &stats)
	if err != nil {
		slog.Warn("platform stats cache read failed", "error", err)
	}
	if found {
		return stats, nil
	}

	gen := c.gen.Load()
	stats, err = c.next.PlatformStats(ctx)
	if err != nil {
		return PlatformStats{}, err
	}
	if c.gen.Load() != gen {
		return stats, nil
	}
	if err := c.cache.SetJSON(ctx, platformStatsKey, stats, c.ttl); err != nil {
		slog.Warn("platform stats cache write failed", "error", err)
	}
	return stats, nil
}

// Invalidate drops the cached platform stats.
func (c *CachedReporter) Invalidate(ctx context.Context) {
	c.gen.Add(1)
	if err := c.cache.Delete(ctx, platformStatsKey); err != nil {
		slog.Warn("platform stats cache invalidation failed", "error", err)
	}
}

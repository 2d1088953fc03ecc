package report_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-n-ai/pai-learn/internal/report"
)

type countingSource struct {
	platformCalls int
	userCalls     int
	during        func() // runs inside PlatformStats
}

func (s *countingSource) UserStats(_ context.Context, userID string) (report.UserStats, error) {
	s.userCalls++
	return report.UserStats{}, nil
}

func (s *countingSource) PlatformStats(_ context.Context) (report.PlatformStats, error) {
	s.platformCalls++
	if s.during != nil {
		s.during()
	}
	return report.PlatformStats{TotalUsers: s.platformCalls}, nil
}

type mapCache struct {
	data map[string][]byte
	err  error
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (c *mapCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	b, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *mapCache) SetJSON(_ context.Context, key string, v any, _ time.Duration) error {
	if c.err != nil {
		return c.err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.data[key] = b
	return nil
}

func (c *mapCache) Delete(_ context.Context, keys ...string) error {
	if c.err != nil {
		return c.err
	}
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func TestCachedReporter_PlatformStats(t *testing.T) {
	src := &countingSource{}
	c := report.NewCachedReporter(src, newMapCache(), time.Minute)

	first, err := c.PlatformStats(t.Context())
	require.NoError(t, err)
	second, err := c.PlatformStats(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 1, src.platformCalls)
	assert.Equal(t, first.TotalUsers, second.TotalUsers)

	c.Invalidate(t.Context())
	third, err := c.PlatformStats(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, src.platformCalls)
	assert.Equal(t, 2, third.TotalUsers)
}

func TestCachedReporter_CacheDownFallsBack(t *testing.T) {
	src := &countingSource{}
	cache := newMapCache()
	cache.err = errors.New("connection refused")
	c := report.NewCachedReporter(src, cache, time.Minute)

	for range 2 {
		_, err := c.PlatformStats(t.Context())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, src.platformCalls)

	c.Invalidate(t.Context())
}

func TestCachedReporter_UserStatsNotCached(t *testing.T) {
	src := &countingSource{}
	c := report.NewCachedReporter(src, newMapCache(), time.Minute)

	for range 2 {
		_, err := c.UserStats(t.Context(), "u1")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, src.userCalls)
}

func TestCachedReporter_InvalidateDuringRecompute(t *testing.T) {
	src := &countingSource{}
	c := report.NewCachedReporter(src, newMapCache(), time.Minute)
	src.during = func() { c.Invalidate(context.Background()) }

	_, err := c.PlatformStats(t.Context())
	require.NoError(t, err)

	src.during = nil
	got, err := c.PlatformStats(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, src.platformCalls, "stale result must not be cached")
	assert.Equal(t, 2, got.TotalUsers)

	_, err = c.PlatformStats(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, src.platformCalls)
}

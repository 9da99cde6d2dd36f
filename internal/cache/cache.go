package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"discord-invite-tracker/internal/metrics"
)

// Remote is the shared second tier. *redis.Client satisfies it.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Cache provides a multi-layer caching system with L1 (in-memory) and L2 (Redis)
type Cache struct {
	l1           *ristretto.Cache
	l2           Remote
	ttl          time.Duration
	singleflight singleflight.Group
	// gen advances on every Delete. A load is only stored when no Delete
	// ran while it was in flight.
	gen atomic.Uint64

	l1Hits   atomic.Uint64
	l1Misses atomic.Uint64
	l2Hits   atomic.Uint64
	l2Misses atomic.Uint64
}

// Config for cache initialization
type Config struct {
	L1MaxCost     int64
	L1NumCounters int64
	DefaultTTL    time.Duration
}

// NewCache creates a new multi-layer cache. A nil l2 keeps everything in
// process.
func NewCache(l2 Remote, cfg Config) (*Cache, error) {
	if cfg.L1MaxCost == 0 {
		cfg.L1MaxCost = 10 << 20 // 10MB default
	}
	if cfg.L1NumCounters == 0 {
		cfg.L1NumCounters = 100000
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = time.Minute
	}

	l1, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.L1NumCounters,
		MaxCost:     cfg.L1MaxCost,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create L1 cache: %w", err)
	}

	return &Cache{l1: l1, l2: l2, ttl: cfg.DefaultTTL}, nil
}

// Fetch returns the cached value of key, falling back to L2 and then to
// load. Concurrent misses on one key share a single load. A load that
// overlaps a Delete is returned to its callers but not stored. A nil cache
// always loads.
func Fetch[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}

	if val, found := c.l1.Get(key); found {
		if v, ok := val.(T); ok {
			c.l1Hits.Add(1)
			metrics.CacheResults.WithLabelValues("l1_hit").Inc()
			return v, nil
		}
	}
	c.l1Misses.Add(1)

	if c.l2 != nil {
		if raw, err := c.l2.Get(ctx, key); err == nil {
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				c.l2Hits.Add(1)
				metrics.CacheResults.WithLabelValues("l2_hit").Inc()
				c.l1.SetWithTTL(key, v, 1, c.ttl)
				return v, nil
			}
		}
		c.l2Misses.Add(1)
	}
	metrics.CacheResults.WithLabelValues("miss").Inc()

	val, err, _ := c.singleflight.Do(key, func() (interface{}, error) {
		gen := c.gen.Load()
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if c.gen.Load() == gen {
			c.set(ctx, key, v)
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return val.(T), nil
}

func (c *Cache) set(ctx context.Context, key string, value any) {
	c.l1.SetWithTTL(key, value, 1, c.ttl)

	if c.l2 != nil {
		if raw, err := json.Marshal(value); err == nil {
			_ = c.l2.Set(ctx, key, raw, c.ttl)
		}
	}
}

// Delete removes keys from all cache layers
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if c == nil {
		return
	}
	c.gen.Add(1)
	for _, key := range keys {
		c.singleflight.Forget(key)
		c.l1.Del(key)
	}
	if c.l2 != nil {
		_ = c.l2.Del(ctx, keys...)
	}
}

// Wait blocks until pending L1 writes are applied.
func (c *Cache) Wait() {
	if c != nil {
		c.l1.Wait()
	}
}

// GetMetrics returns cache performance metrics. A nil cache reports zeros.
func (c *Cache) GetMetrics() Metrics {
	if c == nil {
		return Metrics{}
	}
	l1Metrics := c.l1.Metrics

	l1Total := c.l1Hits.Load() + c.l1Misses.Load()
	l2Total := c.l2Hits.Load() + c.l2Misses.Load()

	var l1HitRate, l2HitRate float64
	if l1Total > 0 {
		l1HitRate = float64(c.l1Hits.Load()) / float64(l1Total)
	}
	if l2Total > 0 {
		l2HitRate = float64(c.l2Hits.Load()) / float64(l2Total)
	}

	return Metrics{
		L1Hits:        c.l1Hits.Load(),
		L1Misses:      c.l1Misses.Load(),
		L1HitRate:     l1HitRate,
		L2Hits:        c.l2Hits.Load(),
		L2Misses:      c.l2Misses.Load(),
		L2HitRate:     l2HitRate,
		L1KeysAdded:   l1Metrics.KeysAdded(),
		L1KeysEvicted: l1Metrics.KeysEvicted(),
	}
}

// Metrics holds cache performance data
type Metrics struct {
	L1Hits        uint64
	L1Misses      uint64
	L1HitRate     float64
	L2Hits        uint64
	L2Misses      uint64
	L2HitRate     float64
	L1KeysAdded   uint64
	L1KeysEvicted uint64
}

// Close gracefully shuts down the cache
func (c *Cache) Close() {
	if c != nil {
		c.l1.Close()
	}
}

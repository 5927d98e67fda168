// Package cache is a small TTL cache for read-through remote data.
//
// Entries younger than the TTL are fresh. Older entries are misses for Get
// but can still be served by Fetch when the refresh itself fails. Sweep
// drops entries older than twice the TTL.
package cache

import (
	"context"
	"errors"
	"time"

	"scentcart/internal/logger"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const DefaultCapacity = 1024

var ErrInvalidTTL = errors.New("cache ttl must be positive")

type entry[V any] struct {
	value    V
	storedAt time.Time
}

type options struct {
	now      func() time.Time
	capacity int
}

type Option func(*options)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithCapacity bounds the number of keys; the least recently used key is
// evicted first.
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

type Cache[V any] struct {
	ttl     time.Duration
	now     func() time.Time
	entries *lru.Cache[string, entry[V]]
}

func New[V any](ttl time.Duration, opts ...Option) (*Cache[V], error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	o := options{now: time.Now, capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(&o)
	}

	entries, err := lru.New[string, entry[V]](o.capacity)
	if err != nil {
		return nil, err
	}
	return &Cache[V]{ttl: ttl, now: o.now, entries: entries}, nil
}

func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the value only while it is fresh.
func (c *Cache[V]) Get(key string) (V, bool) {
	e, ok := c.entries.Get(key)
	if !ok || c.now().Sub(e.storedAt) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Stale returns the value regardless of age.
func (c *Cache[V]) Stale(key string) (V, bool) {
	e, ok := c.entries.Peek(key)
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) Set(key string, value V) {
	c.entries.Add(key, entry[V]{value: value, storedAt: c.now()})
}

func (c *Cache[V]) Delete(key string) {
	c.entries.Remove(key)
}

func (c *Cache[V]) Clear() {
	c.entries.Purge()
}

func (c *Cache[V]) Len() int {
	return c.entries.Len()
}

// Sweep removes entries older than twice the TTL and reports how many went.
func (c *Cache[V]) Sweep() int {
	cutoff := 2 * c.ttl
	now := c.now()

	removed := 0
	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if !ok {
			continue
		}
		if now.Sub(e.storedAt) > cutoff {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Fetch serves a fresh entry, else calls fetch and caches its result. When
// fetch fails and an entry of any age exists, that entry is returned with a
// nil error.
func (c *Cache[V]) Fetch(ctx context.Context, key string, fetch func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := fetch(ctx)
	if err == nil {
		c.Set(key, v)
		return v, nil
	}

	if stale, ok := c.Stale(key); ok {
		logger.FromCtx(ctx).Warn("refresh failed, serving stale cache entry",
			zap.String("layer", "cache"),
			zap.String("key", key),
			zap.Error(err),
		)
		return stale, nil
	}
	return v, err
}

// Run sweeps every interval until ctx is done.
func (c *Cache[V]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				logger.L().Debug("cache swept", zap.Int("removed", n))
			}
		}
	}
}

// Package cache stores computed region scores and statistics keyed by the
// record population version, so a write to the store invalidates them.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/regwatch/internal/metrics"
)

// Cache is a byte-oriented TTL cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Key builds a cache key scoped to a population version.
func Key(kind string, version int64, parts ...string) string {
	k := fmt.Sprintf("%s:v%d", kind, version)
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// GetJSON decodes the cached value for key into a T.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool, error) {
	var zero T
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return zero, false, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return zero, false, eris.Wrapf(err, "cache: decode %s", key)
	}
	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	return v, true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "cache: encode %s", key)
	}
	return c.Set(ctx, key, data, ttl)
}

// GetOrCompute returns the cached value for key, computing and storing it on
// a miss. Cache failures are not fatal: compute runs and its result is
// returned.
func GetOrCompute[T any](ctx context.Context, c Cache, key string, ttl time.Duration, compute func() (T, error)) (T, error) {
	if v, ok, err := GetJSON[T](ctx, c, key); err == nil && ok {
		return v, nil
	}
	v, err := compute()
	if err != nil {
		return v, err
	}
	_ = SetJSON(ctx, c, key, v, ttl)
	return v, nil
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemory creates an empty MemoryCache.
func NewMemory() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), now: time.Now}
}

// Get implements Cache.
func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if !it.expiresAt.IsZero() && !m.now().Before(it.expiresAt) {
		delete(m.items, key)
		return nil, false, nil
	}
	return it.value, true, nil
}

// Set implements Cache. A zero ttl never expires.
func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := memoryItem{value: value}
	if ttl > 0 {
		it.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = it
	return nil
}

// Close implements Cache.
func (m *MemoryCache) Close() error { return nil }

type nopCache struct{}

// Nop returns a Cache that stores nothing.
func Nop() Cache { return nopCache{} }

func (nopCache) Get(context.Context, string) ([]byte, bool, error)         { return nil, false, nil }
func (nopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (nopCache) Close() error                                             { return nil }

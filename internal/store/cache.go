package store

import (
	"context"
	"strings"
	"sync"
	"time"

	catalog "github.com/syssam/metacatalog"
)

// Cache is catalog.Cache, aliased locally so callers in this package don't
// need to import the root module under two names.
type Cache = catalog.Cache

type memEntry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

// MemCache is a process-local, mutex-guarded implementation of
// catalog.Cache. It's the default wired into Writer when no external cache
// is configured; production deployments are expected to supply a shared
// cache (Redis, Memcached) for multi-instance deployments instead.
type MemCache struct {
	mu      sync.RWMutex
	entries map[string]memEntry
}

// NewMemCache returns an empty MemCache.
func NewMemCache() *MemCache {
	return &MemCache{entries: make(map[string]memEntry)}
}

func (c *MemCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, nil
	}
	return e.value, nil
}

func (c *MemCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = memEntry{value: value, expires: exp}
	c.mu.Unlock()
	return nil
}

func (c *MemCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *MemCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
	return nil
}

func (c *MemCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]memEntry)
	c.mu.Unlock()
	return nil
}

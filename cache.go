package catalog

import (
	"context"
	"time"
)

// Cache is the interface the Graph Writer uses to front hot read paths
// (GetLatestVersionedAspect in particular) with an optional cache. Users
// may implement this with their preferred backend (Redis, Memcached,
// in-memory); internal/store ships an in-memory implementation.
type Cache interface {
	// Get retrieves a value from the cache. Returns nil, nil if the key
	// doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL. If ttl is 0,
	// the value should not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix. Used to
	// invalidate every cached aspect for a URN on cascade delete.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

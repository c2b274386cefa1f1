// Package cache is the shared key/value cache used for nonces, record blobs
// and record metadata. Redis is the production backend; MemoryCache keeps a
// single instance working without one.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented TTL cache. Get returns common.ErrNotFound on a
// miss or an expired key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	// CompareAndDelete removes key only if it currently holds expected, and
	// reports whether it did. The check and the delete are one atomic step.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)
	Ping(ctx context.Context) error
}

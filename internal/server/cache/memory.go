package cache

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/jellydator/ttlcache/v3"
)

// MemoryCache is an in-process Cache backed by ttlcache. Values are copied
// on the way in and out so callers never share backing arrays.
type MemoryCache struct {
	mu    sync.Mutex
	items *ttlcache.Cache[string, []byte]
}

// NewMemoryCache starts the expiry loop; call Close to stop it.
func NewMemoryCache() *MemoryCache {
	items := ttlcache.New[string, []byte](
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go items.Start()
	return &MemoryCache{items: items}
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	item := m.items.Get(key)
	if item == nil || item.IsExpired() {
		return nil, common.ErrNotFound
	}
	return bytes.Clone(item.Value()), nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items.Set(key, bytes.Clone(value), ttl)
	return nil
}

func (m *MemoryCache) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items.Delete(key)
	return nil
}

func (m *MemoryCache) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := m.items.Get(key)
	if item == nil || item.IsExpired() || !bytes.Equal(item.Value(), expected) {
		return false, nil
	}
	m.items.Delete(key)
	return true, nil
}

func (m *MemoryCache) Ping(ctx context.Context) error { return nil }

// Close stops the background expiry loop.
func (m *MemoryCache) Close() {
	m.items.Stop()
}

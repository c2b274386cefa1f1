package records

import (
	"bytes"
	"context"
	"sync"

	"github.com/dmitrijs2005/medvault/internal/common"
)

type memBlob struct {
	data []byte
	meta BlobMeta
}

// MemoryBlobStore keeps blobs in process memory.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]memBlob
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string]memBlob)}
}

func (m *MemoryBlobStore) Put(ctx context.Context, key string, data []byte, meta BlobMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = memBlob{data: bytes.Clone(data), meta: meta}
	return nil
}

func (m *MemoryBlobStore) Get(ctx context.Context, key string) ([]byte, BlobMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, BlobMeta{}, common.ErrNotFound
	}
	return bytes.Clone(b.data), b.meta, nil
}

func (m *MemoryBlobStore) Stat(ctx context.Context, key string) (BlobMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return BlobMeta{}, common.ErrNotFound
	}
	return b.meta, nil
}

func (m *MemoryBlobStore) Check(ctx context.Context) error { return nil }

// Len returns the number of stored blobs.
func (m *MemoryBlobStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

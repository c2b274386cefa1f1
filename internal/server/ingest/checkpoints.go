package ingest

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/server/ledger"
)

// MemoryCheckpoints is a Checkpoints kept in process memory.
type MemoryCheckpoints struct {
	mu      sync.Mutex
	cursors map[string]ledger.Cursor
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{cursors: make(map[string]ledger.Cursor)}
}

func (m *MemoryCheckpoints) Load(ctx context.Context, name string) (ledger.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[name]
	if !ok {
		return ledger.Cursor{}, common.ErrNotFound
	}
	return c, nil
}

func (m *MemoryCheckpoints) Save(ctx context.Context, name string, cursor ledger.Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.cursors[name]; ok && !cursor.After(cur) {
		return nil
	}
	m.cursors[name] = cursor
	return nil
}

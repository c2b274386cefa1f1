package audit

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps trails in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	trails map[string][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trails: make(map[string][]Entry)}
}

func (s *MemoryStore) Append(ctx context.Context, e Entry, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, have := range s.trails[e.Patient] {
		if have.LogID == e.LogID {
			return nil
		}
	}
	t := append(s.trails[e.Patient], e)
	// oldest first; equal timestamps keep arrival order
	sort.SliceStable(t, func(i, j int) bool { return t[i].Timestamp.Before(t[j].Timestamp) })
	if len(t) > keep {
		t = append([]Entry(nil), t[len(t)-keep:]...)
	}
	s.trails[e.Patient] = t
	return nil
}

func (s *MemoryStore) Newest(ctx context.Context, patient string, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.trails[patient]
	out := make([]Entry, 0, min(limit, len(t)))
	for i := len(t) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, t[i])
	}
	return out, nil
}

package notify

import (
	"context"
	"sync"
)

// MemoryPublisher records notifications in order.
type MemoryPublisher struct {
	mu   sync.Mutex
	sent []Notification
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(ctx context.Context, n Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return nil
}

// Sent returns a copy of everything published so far.
func (p *MemoryPublisher) Sent() []Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Notification(nil), p.sent...)
}

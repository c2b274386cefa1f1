package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dmitrijs2005/medvault/internal/common"
)

// MemoryLedger is an in-process Source. Events appended to it become visible
// to Backfill and to every open stream.
type MemoryLedger struct {
	mu      sync.Mutex
	events  []Event
	changed chan struct{}
	streams map[*memoryStream]struct{}

	failSubscribe int
	acked         []Cursor
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		changed: make(chan struct{}),
		streams: make(map[*memoryStream]struct{}),
	}
}

// Append adds events. An event with a zero Cursor is placed one block after
// the current head.
func (l *MemoryLedger) Append(events ...Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ev := range events {
		if ev.Cursor.IsZero() {
			var head Cursor
			if n := len(l.events); n > 0 {
				head = l.events[n-1].Cursor
			}
			ev.Cursor = Cursor{Block: head.Block + 1}
		}
		l.events = append(l.events, ev)
	}
	sort.SliceStable(l.events, func(i, j int) bool {
		return l.events[i].Cursor.Compare(l.events[j].Cursor) < 0
	})

	close(l.changed)
	l.changed = make(chan struct{})
}

// Head returns the cursor of the newest event.
func (l *MemoryLedger) Head() Cursor {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return Cursor{}
	}
	return l.events[len(l.events)-1].Cursor
}

// FailSubscribe makes the next n Subscribe calls fail with ErrTransientRPC.
func (l *MemoryLedger) FailSubscribe(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failSubscribe = n
}

// Disconnect breaks every open stream; their Next returns ErrTransientRPC.
func (l *MemoryLedger) Disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for s := range l.streams {
		s.broken = true
		delete(l.streams, s)
	}
	close(l.changed)
	l.changed = make(chan struct{})
}

// Acked returns the cursors acknowledged so far, in order.
func (l *MemoryLedger) Acked() []Cursor {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Cursor(nil), l.acked...)
}

func (l *MemoryLedger) Backfill(ctx context.Context, from Cursor) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Cursor.After(from) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (l *MemoryLedger) Subscribe(ctx context.Context, from Cursor) (Stream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failSubscribe > 0 {
		l.failSubscribe--
		return nil, fmt.Errorf("%w: subscribe refused", common.ErrTransientRPC)
	}
	s := &memoryStream{ledger: l, last: from}
	l.streams[s] = struct{}{}
	return s, nil
}

type memoryStream struct {
	ledger *MemoryLedger
	last   Cursor
	broken bool
	closed bool
}

func (s *memoryStream) Next(ctx context.Context) (Event, error) {
	for {
		l := s.ledger
		l.mu.Lock()
		if s.closed {
			l.mu.Unlock()
			return Event{}, fmt.Errorf("stream closed")
		}
		if s.broken {
			l.mu.Unlock()
			return Event{}, fmt.Errorf("%w: connection lost", common.ErrTransientRPC)
		}
		for _, ev := range l.events {
			if ev.Cursor.After(s.last) {
				s.last = ev.Cursor
				l.mu.Unlock()
				return ev, nil
			}
		}
		wait := l.changed
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-wait:
		}
	}
}

func (s *memoryStream) Ack(ctx context.Context, ev Event) error {
	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()
	s.ledger.acked = append(s.ledger.acked, ev.Cursor)
	return nil
}

func (s *memoryStream) Close() error {
	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()
	s.closed = true
	delete(s.ledger.streams, s)
	return nil
}

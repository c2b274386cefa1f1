package ledger

import "context"

// Source yields ledger events, normally in Cursor order.
//
// Backfill returns every event strictly after from that is already final.
// Subscribe then streams events strictly after from. A Source may return
// events Backfill already produced or deliver an older event late, so
// consumers order updates per entity by Cursor.
type Source interface {
	Backfill(ctx context.Context, from Cursor) ([]Event, error)
	Subscribe(ctx context.Context, from Cursor) (Stream, error)
}

// Stream is an ordered, single-consumer feed. Next blocks until an event
// is available, ctx ends or the connection fails (common.ErrTransientRPC).
// Ack marks an event as durably processed.
type Stream interface {
	Next(ctx context.Context) (Event, error)
	Ack(ctx context.Context, ev Event) error
	Close() error
}

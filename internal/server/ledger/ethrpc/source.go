package ethrpc

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/server/ledger"
)

type Options struct {
	URL string
	// Contracts emitting consent events; the emergency access contract is
	// optional.
	Contract          string
	EmergencyContract string
	// Confirmations is how far behind the head a block must be before its
	// logs are read.
	Confirmations uint64
	PollInterval  time.Duration
	// BatchBlocks caps the block range of one eth_getLogs call.
	BatchBlocks uint64
	Timeout     time.Duration
}

// Source implements ledger.Source on top of a JSON-RPC node.
type Source struct {
	client    *Client
	opts      Options
	addresses []string
	topics    []string
	logger    logging.Logger
}

var _ ledger.Source = (*Source)(nil)

func New(opts Options, logger logging.Logger) *Source {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchBlocks == 0 {
		opts.BatchBlocks = 2000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	addrs := []string{strings.ToLower(opts.Contract)}
	if opts.EmergencyContract != "" {
		addrs = append(addrs, strings.ToLower(opts.EmergencyContract))
	}
	topics := make([]string, 0, len(signatures))
	for t := range signatures {
		topics = append(topics, Topic(t))
	}
	sort.Strings(topics)

	return &Source{
		client:    NewClient(opts.URL, opts.Timeout),
		opts:      opts,
		addresses: addrs,
		topics:    topics,
		logger:    logger,
	}
}

// safeHead is the newest block with enough confirmations, and false when
// the chain is still shorter than that.
func (s *Source) safeHead(ctx context.Context) (uint64, bool, error) {
	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return 0, false, err
	}
	if head < s.opts.Confirmations {
		return 0, false, nil
	}
	return head - s.opts.Confirmations, true, nil
}

// fetch returns the consent events in blocks from..to, in cursor order.
func (s *Source) fetch(ctx context.Context, from, to uint64) ([]ledger.Event, error) {
	var out []ledger.Event
	for lo := from; lo <= to; lo += s.opts.BatchBlocks {
		hi := min(lo+s.opts.BatchBlocks-1, to)
		logs, err := s.client.Logs(ctx, lo, hi, s.addresses, s.topics)
		if err != nil {
			return nil, err
		}
		evs, err := s.decode(ctx, logs)
		if err != nil {
			return nil, err
		}
		out = append(out, evs...)
		if hi == to {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Cursor.Compare(out[j].Cursor) < 0 })
	return out, nil
}

func (s *Source) decode(ctx context.Context, logs []rpcLog) ([]ledger.Event, error) {
	blockTimes := make(map[uint64]time.Time)
	blockTime := func(n uint64) (time.Time, error) {
		if t, ok := blockTimes[n]; ok {
			return t, nil
		}
		t, err := s.client.BlockTime(ctx, n)
		if err != nil {
			return time.Time{}, err
		}
		blockTimes[n] = t
		return t, nil
	}

	out := make([]ledger.Event, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		ev, ok, err := decodeLog(l)
		if err != nil {
			return nil, fmt.Errorf("decode log %s: %w", l.TxHash, err)
		}
		if !ok {
			continue
		}
		if ev.BlockTime, err = blockTime(ev.Cursor.Block); err != nil {
			return nil, err
		}
		if ev.Type == ledger.AccessGranted {
			input, err := s.client.TxInput(ctx, ev.TxHash)
			if err != nil {
				return nil, err
			}
			if d, ok := grantDuration(input); ok {
				ev.Expiry = ev.BlockTime.Add(d)
			} else {
				s.logger.Warn(ctx, "grant duration not found in call data", "tx", ev.TxHash)
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Source) Backfill(ctx context.Context, from ledger.Cursor) ([]ledger.Event, error) {
	head, ok, err := s.safeHead(ctx)
	if err != nil || !ok || head < from.Block {
		return nil, err
	}
	evs, err := s.fetch(ctx, from.Block, head)
	if err != nil {
		return nil, err
	}
	return after(evs, from), nil
}

func (s *Source) Subscribe(ctx context.Context, from ledger.Cursor) (ledger.Stream, error) {
	// a cheap call so an unreachable node fails the subscription itself
	if _, err := s.client.BlockNumber(ctx); err != nil {
		return nil, err
	}
	return &pollStream{src: s, last: from, next: from.Block}, nil
}

func after(evs []ledger.Event, c ledger.Cursor) []ledger.Event {
	out := evs[:0]
	for _, ev := range evs {
		if ev.Cursor.After(c) {
			out = append(out, ev)
		}
	}
	return out
}

type pollStream struct {
	src  *Source
	last ledger.Cursor
	// next is the first block not yet scanned.
	next uint64
	buf  []ledger.Event
}

func (p *pollStream) Next(ctx context.Context) (ledger.Event, error) {
	for {
		if len(p.buf) > 0 {
			ev := p.buf[0]
			p.buf = p.buf[1:]
			p.last = ev.Cursor
			return ev, nil
		}

		head, ok, err := p.src.safeHead(ctx)
		if err != nil {
			return ledger.Event{}, err
		}
		if ok && head >= p.next {
			to := min(head, p.next+p.src.opts.BatchBlocks-1)
			evs, err := p.src.fetch(ctx, p.next, to)
			if err != nil {
				return ledger.Event{}, err
			}
			p.next = to + 1
			p.buf = after(evs, p.last)
			continue
		}

		t := time.NewTimer(p.src.opts.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ledger.Event{}, ctx.Err()
		case <-t.C:
		}
	}
}

// Ack is a no-op; the node keeps no consumer state.
func (p *pollStream) Ack(context.Context, ledger.Event) error { return nil }

func (p *pollStream) Close() error { return nil }

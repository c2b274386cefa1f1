// Package kafkafeed reads consent events that a relay has already decoded
// and published to a Kafka topic as JSON ledger.Event values. The topic must
// keep events in ledger order, so it has a single partition.
package kafkafeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/server/ledger"
	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var newReader = func(cfg Config) reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})
}

// Source is a ledger.Source over a consumer group. The group's committed
// offset is the replay position, so Backfill has nothing to add; the
// ingestor's checkpoint drops anything redelivered.
type Source struct {
	cfg    Config
	logger logging.Logger
}

var _ ledger.Source = (*Source)(nil)

func New(cfg Config, logger logging.Logger) (*Source, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, fmt.Errorf("kafka group id required")
	}
	cfg.Brokers = brokers
	return &Source{cfg: cfg, logger: logger}, nil
}

func (s *Source) Backfill(context.Context, ledger.Cursor) ([]ledger.Event, error) {
	return nil, nil
}

func (s *Source) Subscribe(ctx context.Context, from ledger.Cursor) (ledger.Stream, error) {
	return &stream{r: newReader(s.cfg), logger: s.logger}, nil
}

type stream struct {
	r      reader
	logger logging.Logger

	pending    kafka.Message
	pendingAt  ledger.Cursor
	hasPending bool
}

func (s *stream) Next(ctx context.Context) (ledger.Event, error) {
	for {
		msg, err := s.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ledger.Event{}, ctx.Err()
			}
			return ledger.Event{}, fmt.Errorf("%w: kafka fetch: %v", common.ErrTransientRPC, err)
		}

		var ev ledger.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil || ev.Type == "" {
			s.logger.Warn(ctx, "dropping undecodable message",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
			if err := s.r.CommitMessages(ctx, msg); err != nil {
				return ledger.Event{}, fmt.Errorf("%w: kafka commit: %v", common.ErrTransientRPC, err)
			}
			continue
		}

		s.pending, s.pendingAt, s.hasPending = msg, ev.Cursor, true
		return ev, nil
	}
}

// Ack commits the message that carried ev.
func (s *stream) Ack(ctx context.Context, ev ledger.Event) error {
	if !s.hasPending || s.pendingAt != ev.Cursor {
		return errors.New("ack for an event that is not the last one read")
	}
	if err := s.r.CommitMessages(ctx, s.pending); err != nil {
		return fmt.Errorf("%w: kafka commit: %v", common.ErrTransientRPC, err)
	}
	s.hasPending = false
	return nil
}

func (s *stream) Close() error {
	return s.r.Close()
}

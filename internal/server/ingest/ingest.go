// Package ingest is the single consumer of ledger events. It backfills from
// the durable checkpoint, follows the live stream, and drives the mirror,
// the audit trail and notifications.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/server/audit"
	"github.com/dmitrijs2005/medvault/internal/server/ledger"
	"github.com/dmitrijs2005/medvault/internal/server/metrics"
	"github.com/dmitrijs2005/medvault/internal/server/models"
	"github.com/dmitrijs2005/medvault/internal/server/notify"
	"github.com/dmitrijs2005/medvault/internal/timex"
)

// DefaultName is the checkpoint name used when Options.Name is empty.
const DefaultName = "ledger"

type Mirror interface {
	Grant(ctx context.Context, g models.Grant) (bool, error)
	Revoke(ctx context.Context, key models.GrantKey, cursor ledger.Cursor) (bool, error)
	RegisterRecord(ctx context.Context, ref models.RecordRef) error
}

type Auditor interface {
	Record(ctx context.Context, e audit.Entry)
}

type Notifier interface {
	Send(ctx context.Context, n notify.Notification)
}

// Checkpoints is satisfied by checkpoints.Repository.
type Checkpoints interface {
	Load(ctx context.Context, name string) (ledger.Cursor, error)
	Save(ctx context.Context, name string, cursor ledger.Cursor) error
}

type Options struct {
	// Name keys the checkpoint.
	Name string
	// StartBlock is where a consumer without a checkpoint begins.
	StartBlock uint64

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Clock   timex.Clock
	Metrics *metrics.Metrics
}

// Status describes the ingestor for readiness checks.
type Status struct {
	Connected   bool          `json:"connected"`
	Cursor      ledger.Cursor `json:"cursor"`
	LastEventAt time.Time     `json:"lastEventAt,omitzero"`
	Lag         time.Duration `json:"lag"`
}

type Ingestor struct {
	source      ledger.Source
	mirror      Mirror
	audit       Auditor
	notify      Notifier
	checkpoints Checkpoints
	opts        Options
	logger      logging.Logger

	mu     sync.RWMutex
	status Status
}

func New(src ledger.Source, m Mirror, a Auditor, n Notifier, cp Checkpoints, opts Options, logger logging.Logger) *Ingestor {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Ingestor{
		source:      src,
		mirror:      m,
		audit:       a,
		notify:      n,
		checkpoints: cp,
		opts:        opts,
		logger:      logger,
	}
}

// Status returns a snapshot of the ingestor state.
func (in *Ingestor) Status() Status {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.status
}

func (in *Ingestor) setConnected(v bool) {
	in.mu.Lock()
	in.status.Connected = v
	in.mu.Unlock()
}

func (in *Ingestor) cursor() ledger.Cursor {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.status.Cursor
}

// Run consumes events until ctx is done. Connection and processing failures
// end the current session; a new one starts after a jittered exponential
// delay that resets once a session makes progress.
func (in *Ingestor) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = in.opts.InitialBackoff
	bo.MaxInterval = in.opts.MaxBackoff

	for {
		progressed, err := in.session(ctx)
		in.setConnected(false)
		if ctx.Err() != nil {
			in.logger.Info(ctx, "ingestor stopped", "cursor", in.cursor().String())
			return nil
		}
		if progressed {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		in.opts.Metrics.IngestRetry()
		in.logger.Warn(ctx, "ledger session ended, reconnecting", "error", err, "retry_in", wait.String())

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (in *Ingestor) session(ctx context.Context) (progressed bool, err error) {
	start, err := in.loadCheckpoint(ctx)
	if err != nil {
		return false, err
	}
	in.mu.Lock()
	if start.After(in.status.Cursor) {
		in.status.Cursor = start
	}
	in.mu.Unlock()

	events, err := in.source.Backfill(ctx, in.cursor())
	if err != nil {
		return false, fmt.Errorf("backfill: %w", err)
	}
	if len(events) > 0 {
		in.logger.Info(ctx, "backfilling", "from", in.cursor().String(), "events", len(events))
	}
	for _, ev := range events {
		applied, err := in.handle(ctx, ev, nil)
		if err != nil {
			return progressed, err
		}
		progressed = progressed || applied
	}

	stream, err := in.source.Subscribe(ctx, in.cursor())
	if err != nil {
		return progressed, fmt.Errorf("subscribe: %w", err)
	}
	defer stream.Close()

	in.setConnected(true)
	in.logger.Info(ctx, "following ledger", "from", in.cursor().String())

	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			return progressed, fmt.Errorf("stream: %w", err)
		}
		applied, err := in.handle(ctx, ev, stream)
		if err != nil {
			return progressed, err
		}
		progressed = progressed || applied
	}
}

func (in *Ingestor) loadCheckpoint(ctx context.Context) (ledger.Cursor, error) {
	c, err := in.checkpoints.Load(ctx, in.opts.Name)
	if errors.Is(err, common.ErrNotFound) {
		if in.opts.StartBlock == 0 {
			return ledger.Cursor{}, nil
		}
		return ledger.Cursor{Block: in.opts.StartBlock - 1, LogIndex: math.MaxUint64}, nil
	}
	if err != nil {
		return ledger.Cursor{}, fmt.Errorf("load checkpoint: %w", err)
	}
	return c, nil
}

// handle applies one event. The mirror orders updates per grant and per
// record, so an event behind the checkpoint is still applied; only a
// redelivery of the checkpointed event itself is dropped. The checkpoint
// never moves backwards. It reports whether the event was applied.
func (in *Ingestor) handle(ctx context.Context, raw ledger.Event, stream ledger.Stream) (bool, error) {
	last := in.cursor()
	if raw.Cursor == last && !last.IsZero() {
		return false, nil
	}

	ev, err := raw.Normalize()
	switch {
	case err != nil:
		in.opts.Metrics.IngestEvent(string(raw.Type), "malformed")
		in.logger.Warn(ctx, "skipping malformed event", "error", err, "tx", raw.TxHash)
	default:
		if err := in.apply(ctx, ev); err != nil {
			in.opts.Metrics.IngestEvent(string(ev.Type), "error")
			return false, fmt.Errorf("apply %s at %s: %w", ev.Type, ev.Cursor, err)
		}
		in.opts.Metrics.IngestEvent(string(ev.Type), "applied")
	}

	if stream != nil {
		if err := stream.Ack(ctx, raw); err != nil {
			return false, fmt.Errorf("ack: %w", err)
		}
	}

	advanced := raw.Cursor.After(last)
	if !advanced {
		in.logger.Info(ctx, "applied event behind checkpoint", "cursor", raw.Cursor.String(), "checkpoint", last.String())
		return true, nil
	}
	if err := in.checkpoints.Save(ctx, in.opts.Name, raw.Cursor); err != nil {
		return false, fmt.Errorf("save checkpoint: %w", err)
	}

	now := in.opts.Clock.Now()
	var lag time.Duration
	if !raw.BlockTime.IsZero() {
		lag = max(now.Sub(raw.BlockTime), 0)
	}
	in.mu.Lock()
	in.status.Cursor = raw.Cursor
	in.status.LastEventAt = now
	in.status.Lag = lag
	in.mu.Unlock()
	in.opts.Metrics.IngestApplied(raw.Cursor.Block, lag)
	return true, nil
}

func (in *Ingestor) apply(ctx context.Context, ev ledger.Event) error {
	switch ev.Type {
	case ledger.RecordAdded:
		err := in.mirror.RegisterRecord(ctx, models.RecordRef{
			Patient:   ev.Patient,
			RecordID:  ev.RecordID,
			CID:       ev.CID,
			Cursor:    ev.Cursor,
			CreatedAt: ev.BlockTime,
		})
		if err != nil {
			return err
		}
		in.notify.Send(ctx, notify.Notification{
			Type: notify.TypeRecordAdded, Patient: ev.Patient, RecordID: ev.RecordID, CID: ev.CID,
		})

	case ledger.AccessGranted:
		applied, err := in.mirror.Grant(ctx, models.Grant{
			Patient:  ev.Patient,
			Grantee:  ev.Subject,
			RecordID: ev.RecordID,
			Purpose:  ev.Purpose,
			Expiry:   ev.Expiry,
			Cursor:   ev.Cursor,
		})
		if err != nil {
			return err
		}
		if applied {
			in.notify.Send(ctx, notify.Notification{
				Type: notify.TypeAccessGranted, Patient: ev.Patient, Subject: ev.Subject,
				RecordID: ev.RecordID, Purpose: ev.Purpose,
			})
		}

	case ledger.AccessRevoked:
		_, err := in.mirror.Revoke(ctx, models.GrantKey{
			Patient: ev.Patient, Grantee: ev.Subject, RecordID: ev.RecordID,
		}, ev.Cursor)
		return err

	case ledger.RecordAccessed:
		ts := ev.Timestamp
		if ts.IsZero() {
			ts = ev.BlockTime
		}
		in.audit.Record(ctx, audit.Entry{
			Patient:   ev.Patient,
			Accessor:  ev.Subject,
			RecordID:  ev.RecordID,
			Action:    audit.ActionLedgerAccess,
			Outcome:   audit.OutcomeRecorded,
			Timestamp: ts,
		})

	case ledger.EmergencyAccessRequested:
		in.notify.Send(ctx, notify.Notification{
			Type: notify.TypeEmergencyRequest, Patient: ev.Patient, Subject: ev.Subject, Urgent: true,
		})

	case ledger.EmergencyAccessApproved:
		_, err := in.mirror.Grant(ctx, models.Grant{
			Patient:  ev.Patient,
			Grantee:  ev.Subject,
			RecordID: models.WildcardRecordID,
			Purpose:  models.PurposeEmergency,
			Expiry:   ev.Expiry,
			Cursor:   ev.Cursor,
		})
		return err

	case ledger.EmergencyAccessRevoked:
		_, err := in.mirror.Revoke(ctx, models.GrantKey{
			Patient: ev.Patient, Grantee: ev.Subject, RecordID: models.WildcardRecordID,
		}, ev.Cursor)
		return err
	}
	return nil
}

package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/server/access"
	"github.com/dmitrijs2005/medvault/internal/server/audit"
	"github.com/dmitrijs2005/medvault/internal/server/ledger"
	"github.com/dmitrijs2005/medvault/internal/server/metrics"
	"github.com/dmitrijs2005/medvault/internal/server/mirror"
	"github.com/dmitrijs2005/medvault/internal/server/models"
	"github.com/dmitrijs2005/medvault/internal/server/notify"
	"github.com/dmitrijs2005/medvault/internal/walletsig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recordCID = "bafkreifzjut3te2nhyekklss27nh3k72ysco7y32koao5eei66wof36n5e"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	t        *testing.T
	clock    *clock
	ledger   *ledger.MemoryLedger
	mirror   *mirror.Mirror
	audit    *audit.Logger
	notes    *notify.MemoryPublisher
	cps      *MemoryCheckpoints
	engine   *access.Engine
	patient  *walletsig.Signer
	doctor   *walletsig.Signer
	ingestor *Ingestor
	cancel   context.CancelFunc
	done     chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		clock:  &clock{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)},
		ledger: ledger.NewMemoryLedger(),
		notes:  notify.NewMemoryPublisher(),
		cps:    NewMemoryCheckpoints(),
	}
	var err error
	h.patient, err = walletsig.GenerateSigner()
	require.NoError(t, err)
	h.doctor, err = walletsig.GenerateSigner()
	require.NoError(t, err)

	h.mirror = mirror.New(mirror.NewMemoryStore(), logging.Nop{}).WithClock(h.clock.Now)
	h.audit = audit.NewLogger(audit.NewMemoryStore(), time.Second, nil, logging.Nop{})
	h.engine = access.NewEngine(h.mirror, nil, logging.Nop{}).WithClock(h.clock.Now)
	return h
}

func (h *harness) start() {
	h.t.Helper()
	h.ingestor = New(h.ledger, h.mirror, h.audit, notify.NewNotifier(h.notes, logging.Nop{}), h.cps, Options{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Clock:          h.clock.Now,
		Metrics:        metrics.New(),
	}, logging.Nop{})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go func() {
		defer close(h.done)
		assert.NoError(h.t, h.ingestor.Run(ctx))
	}()
	h.t.Cleanup(h.stop)
}

func (h *harness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
	h.cancel = nil
}

// waitFor blocks until the ingestor has processed everything on the ledger.
func (h *harness) waitFor() {
	h.t.Helper()
	head := h.ledger.Head()
	require.Eventually(h.t, func() bool {
		return !head.After(h.ingestor.Status().Cursor)
	}, 2*time.Second, time.Millisecond)
}

func (h *harness) recordAdded() ledger.Event {
	return ledger.Event{Type: ledger.RecordAdded, Patient: h.patient.Address(), RecordID: "1", CID: recordCID}
}

func (h *harness) granted(expiry time.Time) ledger.Event {
	return ledger.Event{
		Type: ledger.AccessGranted, Patient: h.patient.Address(), Subject: h.doctor.Address(),
		RecordID: "1", Purpose: "treatment", Expiry: expiry, BlockTime: h.clock.Now(),
	}
}

func (h *harness) revoked() ledger.Event {
	return ledger.Event{Type: ledger.AccessRevoked, Patient: h.patient.Address(), Subject: h.doctor.Address(), RecordID: "1"}
}

func (h *harness) read() error {
	msg := common.AccessMessage(recordCID)
	_, err := h.engine.Authorize(context.Background(), access.Request{
		Requester: h.doctor.Address(),
		Signature: h.doctor.SignMessage(msg),
		Message:   msg,
		Patient:   h.patient.Address(),
		CID:       recordCID,
	})
	return err
}

func TestScenario_GrantThenExpire(t *testing.T) {
	h := newHarness(t)
	h.ledger.Append(h.recordAdded(), h.granted(h.clock.Now().Add(time.Hour)))
	h.start()
	h.waitFor()

	require.NoError(t, h.read())

	h.clock.Advance(59 * time.Minute)
	require.NoError(t, h.read())

	h.clock.Advance(time.Minute)
	assert.ErrorIs(t, h.read(), common.ErrExpired)
}

func TestScenario_RevokeAfterTenSeconds(t *testing.T) {
	h := newHarness(t)
	h.ledger.Append(h.recordAdded(), h.granted(h.clock.Now().Add(24*time.Hour)))
	h.start()
	h.waitFor()
	require.NoError(t, h.read())

	h.clock.Advance(10 * time.Second)
	h.ledger.Append(h.revoked())
	h.waitFor()

	assert.ErrorIs(t, h.read(), common.ErrDenied)
}

func TestScenario_EmergencyAccess(t *testing.T) {
	h := newHarness(t)
	h.ledger.Append(
		h.recordAdded(),
		ledger.Event{Type: ledger.EmergencyAccessRequested, Patient: h.patient.Address(), Subject: h.doctor.Address(), Duration: time.Hour},
		ledger.Event{Type: ledger.EmergencyAccessApproved, Patient: h.patient.Address(), Subject: h.doctor.Address(), Expiry: h.clock.Now().Add(time.Hour)},
	)
	h.start()
	h.waitFor()

	require.NoError(t, h.read())
	sent := h.notes.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, notify.TypeEmergencyRequest, sent[1].Type)
	assert.True(t, sent[1].Urgent)

	h.ledger.Append(ledger.Event{Type: ledger.EmergencyAccessRevoked, Patient: h.patient.Address(), Subject: h.doctor.Address()})
	h.waitFor()
	assert.ErrorIs(t, h.read(), common.ErrDenied)
}

func TestRecordAccessedGoesToAudit(t *testing.T) {
	h := newHarness(t)
	ts := h.clock.Now().Add(-time.Minute)
	h.ledger.Append(ledger.Event{
		Type: ledger.RecordAccessed, Patient: h.patient.Address(), Subject: h.doctor.Address(),
		RecordID: "1", Timestamp: ts,
	})
	h.start()
	h.waitFor()

	entries, err := h.audit.Query(context.Background(), h.patient.Address(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionLedgerAccess, entries[0].Action)
	assert.Equal(t, h.doctor.Address(), entries[0].Accessor)
	assert.True(t, ts.Equal(entries[0].Timestamp))
}

func TestReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.ledger.Append(
		h.recordAdded(),
		h.granted(h.clock.Now().Add(time.Hour)),
		h.revoked(),
		h.granted(h.clock.Now().Add(2*time.Hour)),
	)
	h.start()
	h.waitFor()
	h.stop()

	key := models.GrantKey{Patient: h.patient.Address(), Grantee: h.doctor.Address(), RecordID: "1"}
	before, ok := h.mirror.Get(key)
	require.True(t, ok)

	// a lost checkpoint replays the whole ledger into the same mirror
	h.cps = NewMemoryCheckpoints()
	h.start()
	h.waitFor()

	after, ok := h.mirror.Get(key)
	require.True(t, ok)
	assert.Equal(t, before, after)
	require.NoError(t, h.read())
	grants, records := h.mirror.Len()
	assert.Equal(t, 1, grants)
	assert.Equal(t, 1, records)
}

func TestRestartResumesFromCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.ledger.Append(h.recordAdded(), h.granted(h.clock.Now().Add(time.Hour)))
	h.start()
	h.waitFor()
	h.stop()
	require.Len(t, h.notes.Sent(), 2)

	h.ledger.Append(h.revoked(), h.granted(h.clock.Now().Add(time.Hour)))
	h.start()
	h.waitFor()

	// only the new grant notifies; nothing before the checkpoint is re-applied
	sent := h.notes.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, notify.TypeAccessGranted, sent[2].Type)

	c, err := h.cps.Load(context.Background(), DefaultName)
	require.NoError(t, err)
	assert.Equal(t, h.ledger.Head(), c)
}

func TestMalformedEventsAreSkipped(t *testing.T) {
	h := newHarness(t)
	h.ledger.Append(
		ledger.Event{Type: ledger.AccessGranted, Patient: "not-an-address", Subject: h.doctor.Address(), RecordID: "1"},
		ledger.Event{Type: "SomethingElse", Patient: h.patient.Address(), Subject: h.doctor.Address()},
		h.recordAdded(),
		h.granted(h.clock.Now().Add(time.Hour)),
	)
	h.start()
	h.waitFor()

	require.NoError(t, h.read())
	c, err := h.cps.Load(context.Background(), DefaultName)
	require.NoError(t, err)
	assert.Equal(t, h.ledger.Head(), c)
}

func TestReconnectsAfterTransientFailures(t *testing.T) {
	h := newHarness(t)
	h.ledger.FailSubscribe(3)
	h.ledger.Append(h.recordAdded())
	h.start()

	require.Eventually(t, func() bool { return h.ingestor.Status().Connected }, 2*time.Second, time.Millisecond)

	h.ledger.Disconnect()
	h.ledger.Append(h.granted(h.clock.Now().Add(time.Hour)))
	h.waitFor()
	require.NoError(t, h.read())
	require.Eventually(t, func() bool { return h.ingestor.Status().Connected }, 2*time.Second, time.Millisecond)
}

func TestStartBlock(t *testing.T) {
	h := newHarness(t)
	h.ledger.Append(
		ledger.Event{Type: ledger.RecordAdded, Patient: h.patient.Address(), RecordID: "1", CID: "bafkold", Cursor: ledger.Cursor{Block: 5}},
		ledger.Event{Type: ledger.RecordAdded, Patient: h.patient.Address(), RecordID: "2", CID: "bafknew", Cursor: ledger.Cursor{Block: 10}},
	)
	in := New(h.ledger, h.mirror, h.audit, notify.NewNotifier(h.notes, logging.Nop{}), h.cps,
		Options{StartBlock: 10, Clock: h.clock.Now}, logging.Nop{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = in.Run(ctx)
	}()
	require.Eventually(t, func() bool { return in.Status().Cursor == ledger.Cursor{Block: 10} }, 2*time.Second, time.Millisecond)
	cancel()
	<-done

	assert.Empty(t, h.mirror.RecordIDs(h.patient.Address(), "bafkold"))
	assert.Equal(t, []string{"2"}, h.mirror.RecordIDs(h.patient.Address(), "bafknew"))
}

type flakyCheckpoints struct {
	*MemoryCheckpoints
	mu    sync.Mutex
	fails int
}

func (f *flakyCheckpoints) Save(ctx context.Context, name string, c ledger.Cursor) error {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return errors.New("connection reset")
	}
	f.mu.Unlock()
	return f.MemoryCheckpoints.Save(ctx, name, c)
}

func TestCheckpointFailureRetriesEvent(t *testing.T) {
	h := newHarness(t)
	cps := &flakyCheckpoints{MemoryCheckpoints: NewMemoryCheckpoints(), fails: 2}
	h.ledger.Append(h.recordAdded(), h.granted(h.clock.Now().Add(time.Hour)))

	in := New(h.ledger, h.mirror, h.audit, notify.NewNotifier(h.notes, logging.Nop{}), cps,
		Options{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Clock: h.clock.Now}, logging.Nop{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = in.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	head := h.ledger.Head()
	require.Eventually(t, func() bool {
		c, err := cps.Load(context.Background(), DefaultName)
		return err == nil && c == head
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, h.read())
}

func TestLagReported(t *testing.T) {
	h := newHarness(t)
	ev := h.granted(h.clock.Now().Add(time.Hour))
	ev.BlockTime = h.clock.Now().Add(-3 * time.Second)
	h.ledger.Append(h.recordAdded(), ev)
	h.start()
	h.waitFor()

	assert.Equal(t, 3*time.Second, h.ingestor.Status().Lag)
}

// fixedSource backfills events in the order given and then idles.
type fixedSource struct{ events []ledger.Event }

func (s fixedSource) Backfill(ctx context.Context, from ledger.Cursor) ([]ledger.Event, error) {
	return s.events, nil
}

func (s fixedSource) Subscribe(ctx context.Context, from ledger.Cursor) (ledger.Stream, error) {
	return idleStream{}, nil
}

type idleStream struct{}

func (idleStream) Next(ctx context.Context) (ledger.Event, error) {
	<-ctx.Done()
	return ledger.Event{}, ctx.Err()
}

func (idleStream) Ack(context.Context, ledger.Event) error { return nil }
func (idleStream) Close() error { return nil }

func TestLateEventForAnotherGrantIsApplied(t *testing.T) {
	h := newHarness(t)
	nurse, err := walletsig.GenerateSigner()
	require.NoError(t, err)
	expiry := h.clock.Now().Add(time.Hour)

	grantTo := func(s *walletsig.Signer, block uint64) ledger.Event {
		return ledger.Event{
			Type: ledger.AccessGranted, Patient: h.patient.Address(), Subject: s.Address(),
			RecordID: "1", Purpose: "treatment", Expiry: expiry, Cursor: ledger.Cursor{Block: block},
		}
	}
	src := fixedSource{events: []ledger.Event{
		grantTo(h.doctor, 5),
		grantTo(nurse, 4),
		// redelivery of the checkpointed event
		grantTo(h.doctor, 5),
		// older event for a grant that already moved on
		{Type: ledger.AccessRevoked, Patient: h.patient.Address(), Subject: h.doctor.Address(), RecordID: "1", Cursor: ledger.Cursor{Block: 3}},
	}}

	in := New(src, h.mirror, h.audit, notify.NewNotifier(h.notes, logging.Nop{}), h.cps,
		Options{Clock: h.clock.Now}, logging.Nop{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = in.Run(ctx)
	}()
	require.Eventually(t, func() bool { return in.Status().Connected }, 2*time.Second, time.Millisecond)
	cancel()
	<-done

	doctor, ok := h.mirror.Get(models.GrantKey{Patient: h.patient.Address(), Grantee: h.doctor.Address(), RecordID: "1"})
	require.True(t, ok)
	assert.True(t, doctor.Active)

	late, ok := h.mirror.Get(models.GrantKey{Patient: h.patient.Address(), Grantee: nurse.Address(), RecordID: "1"})
	require.True(t, ok, "late grant for another grantee must not be lost")
	assert.True(t, late.Active)
	assert.Equal(t, ledger.Cursor{Block: 4}, late.Cursor)

	c, err := h.cps.Load(context.Background(), DefaultName)
	require.NoError(t, err)
	assert.Equal(t, ledger.Cursor{Block: 5}, c)
	assert.Equal(t, ledger.Cursor{Block: 5}, in.Status().Cursor)

	// one notification per grant; the redelivery sends nothing
	assert.Len(t, h.notes.Sent(), 2)
}

// Package audit keeps a bounded, newest-first trail of access decisions per
// patient.
package audit

import (
	"context"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/server/metrics"
	"github.com/dmitrijs2005/medvault/internal/timex"
	"github.com/dmitrijs2005/medvault/internal/walletsig"
)

// Actions.
const (
	ActionRead         = "read"
	ActionUpload       = "upload"
	ActionLedgerAccess = "ledger_access"
)

// Outcomes besides the access decision outcomes.
const (
	OutcomeStored   = "stored"
	OutcomeRecorded = "recorded"
)

type Entry struct {
	LogID     string    `json:"logId"`
	Patient   string    `json:"patient"`
	Accessor  string    `json:"accessor"`
	RecordID  string    `json:"recordId,omitempty"`
	CID       string    `json:"cid,omitempty"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// Store appends entries and returns the newest ones first.
type Store interface {
	Append(ctx context.Context, e Entry, keep int) error
	Newest(ctx context.Context, patient string, limit int) ([]Entry, error)
}

type Logger struct {
	store   Store
	timeout time.Duration
	clock   timex.Clock
	metrics *metrics.Metrics
	logger  logging.Logger
}

func NewLogger(store Store, timeout time.Duration, mx *metrics.Metrics, logger logging.Logger) *Logger {
	return &Logger{store: store, timeout: timeout, metrics: mx, logger: logger}
}

func (l *Logger) WithClock(c timex.Clock) *Logger {
	l.clock = c
	return l
}

// Record appends e to the patient's trail. It never fails the caller:
// errors are logged and counted. The write is detached from ctx
// cancellation so a finished request still leaves its entry.
func (l *Logger) Record(ctx context.Context, e Entry) {
	patient, err := common.NormalizeAddress(e.Patient)
	if err != nil {
		l.metrics.AuditFailure()
		l.logger.Warn(ctx, "audit entry dropped", "patient", e.Patient, "error", err)
		return
	}
	e.Patient = patient
	if accessor, err := common.NormalizeAddress(e.Accessor); err == nil {
		e.Accessor = accessor
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.clock.Now()
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.LogID == "" {
		e.LogID = LogID(e)
	}

	wctx := context.WithoutCancel(ctx)
	if l.timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(wctx, l.timeout)
		defer cancel()
	}

	if err := l.store.Append(wctx, e, common.AuditLogCap); err != nil {
		l.metrics.AuditFailure()
		l.logger.Error(ctx, "audit write failed", "patient", e.Patient, "action", e.Action, "error", err)
		return
	}
	l.logger.Debug(ctx, "audit logged", "patient", e.Patient, "log_id", e.LogID)
}

// Query returns up to limit entries for patient, newest first. A limit
// outside 1..AuditLogCap falls back to the default or the cap.
func (l *Logger) Query(ctx context.Context, patient string, limit int) ([]Entry, error) {
	addr, err := common.NormalizeAddress(patient)
	if err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = common.DefaultAuditLimit
	case limit > common.AuditLogCap:
		limit = common.AuditLogCap
	}
	return l.store.Newest(ctx, addr, limit)
}

// LogID is the keccak-256 of the entry's identifying fields, hex encoded.
// Replaying the same ledger event yields the same id.
func LogID(e Entry) string {
	sum := walletsig.Keccak256(
		[]byte(e.Patient), []byte("-"),
		[]byte(e.Accessor), []byte("-"),
		[]byte(e.Action), []byte("-"),
		[]byte(e.RecordID), []byte("-"),
		[]byte(e.CID), []byte("-"),
		[]byte(strconv.FormatInt(e.Timestamp.UnixNano(), 10)),
	)
	return "0x" + hex.EncodeToString(sum)
}

// Package access makes the read decision for a record: the requester must
// prove control of its address and hold a usable grant in the mirror.
//
// Decisions are purely local. A grant issued or revoked on the ledger takes
// effect once the ingestor has applied it; that propagation delay is exported
// as the medvault_ingest_lag_seconds gauge.
package access

import (
	"context"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/server/metrics"
	"github.com/dmitrijs2005/medvault/internal/server/models"
	"github.com/dmitrijs2005/medvault/internal/timex"
	"github.com/dmitrijs2005/medvault/internal/walletsig"
)

// PurposeOwner is reported on the synthetic grant returned when a patient
// reads their own record.
const PurposeOwner = "owner"

// Decision outcomes, also used as the metrics label.
const (
	OutcomeAllowed          = "allowed"
	OutcomeOwner            = "owner"
	OutcomeDenied           = "denied"
	OutcomeExpired          = "expired"
	OutcomeInvalidSignature = "invalid_signature"
)

// Mirror is the read side of the capability mirror.
type Mirror interface {
	Lookup(patient, grantee, recordID string, now time.Time) (models.Grant, bool)
	RecordIDs(patient, cid string) []string
}

// Uploads reports who uploaded a stored blob.
type Uploads interface {
	Owner(ctx context.Context, cid string) (string, error)
}

// Request asks whether Requester may read record RecordID of Patient.
// When CID is set the message must be the access message for it and
// RecordID may be left empty to be resolved from the registry.
type Request struct {
	Requester string
	Signature string
	Message   string
	Patient   string
	RecordID  string
	CID       string
}

type Engine struct {
	mirror  Mirror
	uploads Uploads
	clock   timex.Clock
	metrics *metrics.Metrics
	logger  logging.Logger
}

func NewEngine(m Mirror, mx *metrics.Metrics, logger logging.Logger) *Engine {
	return &Engine{mirror: m, metrics: mx, logger: logger}
}

func (e *Engine) WithClock(c timex.Clock) *Engine {
	e.clock = c
	return e
}

// WithUploads lets patients read blobs they uploaded before the ledger
// registered them.
func (e *Engine) WithUploads(u Uploads) *Engine {
	e.uploads = u
	return e
}

// Authorize returns the grant that permits the request, or one of
// ErrInvalidSignature, ErrDenied or ErrExpired.
func (e *Engine) Authorize(ctx context.Context, req Request) (models.Grant, error) {
	g, outcome, err := e.decide(ctx, req)
	e.metrics.AccessDecision(outcome)
	e.logger.Debug(ctx, "access decision",
		"requester", req.Requester, "patient", req.Patient,
		"record_id", req.RecordID, "cid", req.CID, "outcome", outcome)
	return g, err
}

func (e *Engine) decide(ctx context.Context, req Request) (models.Grant, string, error) {
	requester, err := common.NormalizeAddress(req.Requester)
	if err != nil {
		return models.Grant{}, OutcomeInvalidSignature, common.ErrInvalidSignature
	}
	patient, err := common.NormalizeAddress(req.Patient)
	if err != nil {
		return models.Grant{}, OutcomeDenied, common.ErrDenied
	}

	if req.CID != "" && req.Message != common.AccessMessage(req.CID) {
		return models.Grant{}, OutcomeInvalidSignature, common.ErrInvalidSignature
	}
	if err := walletsig.Verify(requester, req.Message, req.Signature); err != nil {
		return models.Grant{}, OutcomeInvalidSignature, common.ErrInvalidSignature
	}

	var registered []string
	if req.CID != "" {
		registered = e.mirror.RecordIDs(patient, req.CID)
	}
	recordIDs := registered
	if req.RecordID != "" {
		recordIDs = []string{req.RecordID}
	}

	if requester == patient {
		if !e.owns(ctx, patient, req.CID, registered, recordIDs) {
			return models.Grant{}, OutcomeDenied, common.ErrDenied
		}
		g := models.Grant{Patient: patient, Grantee: requester, Purpose: PurposeOwner, Active: true}
		if len(recordIDs) > 0 {
			g.RecordID = recordIDs[0]
		}
		return g, OutcomeOwner, nil
	}

	if len(recordIDs) == 0 {
		return models.Grant{}, OutcomeDenied, common.ErrDenied
	}

	now := e.clock.Now()
	g, ok := e.lookup(patient, requester, recordIDs, now)
	// a revocation seen before any grant leaves an entry without expiry
	if !ok || (!g.Active && g.Expiry.IsZero()) {
		return models.Grant{}, OutcomeDenied, common.ErrDenied
	}
	if !now.Before(g.Expiry) {
		return models.Grant{}, OutcomeExpired, common.ErrExpired
	}
	if !g.Active {
		return models.Grant{}, OutcomeDenied, common.ErrDenied
	}
	return g, OutcomeAllowed, nil
}

// owns reports whether patient may read cid as its owner: the ledger
// registered it under patient, or patient uploaded it. Without a cid the
// record ids are already scoped to patient.
func (e *Engine) owns(ctx context.Context, patient, cid string, registered, recordIDs []string) bool {
	if cid == "" {
		return len(recordIDs) > 0
	}
	if len(registered) > 0 {
		return true
	}
	if e.uploads == nil {
		return false
	}
	owner, err := e.uploads.Owner(ctx, cid)
	if err != nil {
		e.logger.Debug(ctx, "upload owner unavailable", "cid", cid, "error", err)
		return false
	}
	return common.SameAddress(owner, patient)
}

// lookup returns the first usable grant among recordIDs, or else the first
// entry found so the caller can tell revoked from expired.
func (e *Engine) lookup(patient, grantee string, recordIDs []string, now time.Time) (models.Grant, bool) {
	var (
		first models.Grant
		found bool
	)
	for _, id := range recordIDs {
		g, ok := e.mirror.Lookup(patient, grantee, id, now)
		if !ok {
			continue
		}
		if g.Usable(now) {
			return g, true
		}
		if !found {
			first, found = g, true
		}
	}
	return first, found
}

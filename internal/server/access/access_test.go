package access

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/server/ledger"
	"github.com/dmitrijs2005/medvault/internal/server/metrics"
	"github.com/dmitrijs2005/medvault/internal/server/mirror"
	"github.com/dmitrijs2005/medvault/internal/server/models"
	"github.com/dmitrijs2005/medvault/internal/walletsig"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cid = "bafkreifzjut3te2nhyekklss27nh3k72ysco7y32koao5eei66wof36n5e"

type fixture struct {
	now     time.Time
	mirror  *mirror.Mirror
	engine  *Engine
	metrics *metrics.Metrics
	patient *walletsig.Signer
	doctor  *walletsig.Signer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	var err error
	f.patient, err = walletsig.GenerateSigner()
	require.NoError(t, err)
	f.doctor, err = walletsig.GenerateSigner()
	require.NoError(t, err)

	clock := func() time.Time { return f.now }
	f.mirror = mirror.New(mirror.NewMemoryStore(), logging.Nop{}).WithClock(clock)
	f.metrics = metrics.New()
	f.engine = NewEngine(f.mirror, f.metrics, logging.Nop{}).WithClock(clock)

	require.NoError(t, f.mirror.RegisterRecord(context.Background(), models.RecordRef{
		Patient: f.patient.Address(), RecordID: "1", CID: cid, Cursor: ledger.Cursor{Block: 1},
	}))
	return f
}

func (f *fixture) grant(t *testing.T, recordID string, block uint64, expiry time.Time) {
	t.Helper()
	_, err := f.mirror.Grant(context.Background(), models.Grant{
		Patient: f.patient.Address(), Grantee: f.doctor.Address(), RecordID: recordID,
		Purpose: "treatment", Expiry: expiry, Cursor: ledger.Cursor{Block: block},
	})
	require.NoError(t, err)
}

func (f *fixture) revoke(t *testing.T, recordID string, block uint64) {
	t.Helper()
	_, err := f.mirror.Revoke(context.Background(), models.GrantKey{
		Patient: f.patient.Address(), Grantee: f.doctor.Address(), RecordID: recordID,
	}, ledger.Cursor{Block: block})
	require.NoError(t, err)
}

func (f *fixture) request(s *walletsig.Signer) Request {
	msg := common.AccessMessage(cid)
	return Request{
		Requester: s.Address(),
		Signature: s.SignMessage(msg),
		Message:   msg,
		Patient:   f.patient.Address(),
		CID:       cid,
	}
}

func TestAuthorize_Allowed(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "1", 2, f.now.Add(time.Hour))

	g, err := f.engine.Authorize(context.Background(), f.request(f.doctor))
	require.NoError(t, err)
	assert.Equal(t, "treatment", g.Purpose)
	assert.Equal(t, "1", g.RecordID)

	n, err := testutil.GatherAndCount(f.metrics.Registry(), "medvault_access_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAuthorize_ExplicitRecordID(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "9", 2, f.now.Add(time.Hour))

	msg := "MedVault: Access record 9"
	_, err := f.engine.Authorize(context.Background(), Request{
		Requester: f.doctor.Address(),
		Signature: f.doctor.SignMessage(msg),
		Message:   msg,
		Patient:   f.patient.Address(),
		RecordID:  "9",
	})
	require.NoError(t, err)
}

func TestAuthorize_NoGrant(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Authorize(context.Background(), f.request(f.doctor))
	assert.ErrorIs(t, err, common.ErrDenied)
}

func TestAuthorize_UnknownRecord(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "1", 2, f.now.Add(time.Hour))

	req := f.request(f.doctor)
	req.CID = "bafkunknown"
	req.Message = common.AccessMessage(req.CID)
	req.Signature = f.doctor.SignMessage(req.Message)

	_, err := f.engine.Authorize(context.Background(), req)
	assert.ErrorIs(t, err, common.ErrDenied)
}

func TestAuthorize_ExpiredRegardlessOfActive(t *testing.T) {
	tests := []struct {
		name    string
		revoked bool
	}{
		{"active", false},
		{"revoked", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.grant(t, "1", 2, f.now.Add(time.Minute))
			if tt.revoked {
				f.revoke(t, "1", 3)
			}

			f.now = f.now.Add(time.Minute)
			_, err := f.engine.Authorize(context.Background(), f.request(f.doctor))
			assert.ErrorIs(t, err, common.ErrExpired)

			f.now = f.now.Add(time.Hour)
			_, err = f.engine.Authorize(context.Background(), f.request(f.doctor))
			assert.ErrorIs(t, err, common.ErrExpired)

			g, ok := f.mirror.Get(models.GrantKey{Patient: f.patient.Address(), Grantee: f.doctor.Address(), RecordID: "1"})
			require.True(t, ok)
			assert.Equal(t, !tt.revoked, g.Active)
		})
	}
}

func TestAuthorize_RevokedBeforeExpiry(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "1", 2, f.now.Add(24*time.Hour))
	f.revoke(t, "1", 3)

	_, err := f.engine.Authorize(context.Background(), f.request(f.doctor))
	assert.ErrorIs(t, err, common.ErrDenied)
}

func TestAuthorize_RevocationWithoutGrantIsDenied(t *testing.T) {
	f := newFixture(t)
	f.revoke(t, "1", 3)

	_, err := f.engine.Authorize(context.Background(), f.request(f.doctor))
	assert.ErrorIs(t, err, common.ErrDenied)
}

func TestAuthorize_SharedCID(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mirror.RegisterRecord(context.Background(), models.RecordRef{
		Patient: f.patient.Address(), RecordID: "2", CID: cid, Cursor: ledger.Cursor{Block: 2},
	}))
	f.grant(t, "1", 3, f.now.Add(-time.Minute))
	f.grant(t, "2", 4, f.now.Add(time.Hour))

	g, err := f.engine.Authorize(context.Background(), f.request(f.doctor))
	require.NoError(t, err)
	assert.Equal(t, "2", g.RecordID)
}

func TestAuthorize_EmergencyWildcard(t *testing.T) {
	f := newFixture(t)
	f.grant(t, models.WildcardRecordID, 2, f.now.Add(time.Hour))

	g, err := f.engine.Authorize(context.Background(), f.request(f.doctor))
	require.NoError(t, err)
	assert.True(t, g.Emergency())
}

func TestAuthorize_OwnerAlwaysAllowed(t *testing.T) {
	f := newFixture(t)

	g, err := f.engine.Authorize(context.Background(), f.request(f.patient))
	require.NoError(t, err)
	assert.Equal(t, PurposeOwner, g.Purpose)
	assert.Equal(t, "1", g.RecordID)
}

type uploadsStub map[string]string

func (u uploadsStub) Owner(ctx context.Context, cid string) (string, error) {
	owner, ok := u[cid]
	if !ok {
		return "", common.ErrNotFound
	}
	return owner, nil
}

func TestAuthorize_OwnerPathRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	intruder, err := walletsig.GenerateSigner()
	require.NoError(t, err)
	f.engine.WithUploads(uploadsStub{cid: f.patient.Address()})

	// the intruder names itself as the patient of someone else's record
	req := f.request(intruder)
	req.Patient = intruder.Address()

	_, err = f.engine.Authorize(context.Background(), req)
	assert.ErrorIs(t, err, common.ErrDenied)
}

func TestAuthorize_OwnerOfUnregisteredUpload(t *testing.T) {
	f := newFixture(t)
	const fresh = "bafkreihdwdcefgh4dqkjv67uzcmw7ojee6xedzdetojuzjevtenxquvyku"
	f.engine.WithUploads(uploadsStub{fresh: strings.ToUpper(f.patient.Address())})

	read := func(s *walletsig.Signer) error {
		req := f.request(s)
		req.Patient = s.Address()
		req.CID = fresh
		req.Message = common.AccessMessage(fresh)
		req.Signature = s.SignMessage(req.Message)
		_, err := f.engine.Authorize(context.Background(), req)
		return err
	}

	require.NoError(t, read(f.patient))
	assert.ErrorIs(t, read(f.doctor), common.ErrDenied)
}

func TestAuthorize_OwnerOfUnknownBlobIsDenied(t *testing.T) {
	f := newFixture(t)
	f.engine.WithUploads(uploadsStub{})

	req := f.request(f.patient)
	req.CID = "bafkunknown"
	req.Message = common.AccessMessage(req.CID)
	req.Signature = f.patient.SignMessage(req.Message)

	_, err := f.engine.Authorize(context.Background(), req)
	assert.ErrorIs(t, err, common.ErrDenied)
}

func TestAuthorize_Signature(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "1", 2, f.now.Add(time.Hour))
	other, err := walletsig.GenerateSigner()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(r *Request)
	}{
		{"signed by someone else", func(r *Request) { r.Signature = other.SignMessage(r.Message) }},
		{"message for another cid", func(r *Request) {
			r.Message = common.AccessMessage("bafkother")
			r.Signature = f.doctor.SignMessage(r.Message)
		}},
		{"garbage signature", func(r *Request) { r.Signature = "0x1234" }},
		{"malformed requester", func(r *Request) { r.Requester = "doctor" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request(f.doctor)
			tt.mutate(&req)
			_, err := f.engine.Authorize(context.Background(), req)
			assert.ErrorIs(t, err, common.ErrInvalidSignature)
		})
	}
}

func TestAuthorize_AddressCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "1", 2, f.now.Add(time.Hour))

	req := f.request(f.doctor)
	req.Requester = "0x" + strings.ToUpper(req.Requester[2:])
	req.Patient = "0x" + strings.ToUpper(req.Patient[2:])

	_, err := f.engine.Authorize(context.Background(), req)
	require.NoError(t, err)
}

// Package mirror is the local read view of ledger access grants and of the
// record registry. The ingestor is its only writer; request handlers read it
// concurrently.
package mirror

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/server/ledger"
	"github.com/dmitrijs2005/medvault/internal/server/models"
	"github.com/dmitrijs2005/medvault/internal/timex"
)

// recordKey matches the records table primary key.
type recordKey struct {
	patient  string
	recordID string
}

type cidKey struct {
	patient string
	cid     string
}

// Mirror keeps every grant and registered record in memory and writes each
// change through to a Store.
type Mirror struct {
	// writeMu serializes writers so the cursor check and the store write
	// happen as one step; mu guards the maps for readers.
	writeMu sync.Mutex
	mu      sync.RWMutex
	grants  map[models.GrantKey]models.Grant
	records map[recordKey]models.RecordRef
	// byCID indexes record ids by content id; several ledger records may
	// point at the same blob.
	byCID   map[cidKey][]string

	store  Store
	clock  timex.Clock
	logger logging.Logger
}

func New(store Store, logger logging.Logger) *Mirror {
	return &Mirror{
		grants:  make(map[models.GrantKey]models.Grant),
		records: make(map[recordKey]models.RecordRef),
		byCID:   make(map[cidKey][]string),
		store:   store,
		logger:  logger,
	}
}

// WithClock replaces the time source used for UpdatedAt stamps.
func (m *Mirror) WithClock(c timex.Clock) *Mirror {
	m.clock = c
	return m
}

// Load replaces the in-memory view with the contents of the store.
func (m *Mirror) Load(ctx context.Context) error {
	grants, records, err := m.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("load mirror: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.grants = make(map[models.GrantKey]models.Grant, len(grants))
	for _, g := range grants {
		m.grants[g.Key()] = g
	}
	m.records = make(map[recordKey]models.RecordRef, len(records))
	m.byCID = make(map[cidKey][]string, len(records))
	for _, r := range records {
		m.putRecordLocked(r)
	}

	m.logger.Info(ctx, "mirror loaded", "grants", len(grants), "records", len(records))
	return nil
}

// Grant upserts an active grant. It is ignored when the stored entry was
// written by a later event; an equal cursor overwrites. It reports whether
// the grant was applied.
func (m *Mirror) Grant(ctx context.Context, g models.Grant) (bool, error) {
	g.Active = true
	return m.apply(ctx, g)
}

// Revoke marks the grant for key revoked as of cursor. Revoking a grant the
// mirror has never seen stores a revoked entry so an older grant replayed
// later cannot resurrect it.
func (m *Mirror) Revoke(ctx context.Context, key models.GrantKey, cursor ledger.Cursor) (bool, error) {
	g, ok := m.Get(key)

	if !ok {
		g = models.Grant{Patient: key.Patient, Grantee: key.Grantee, RecordID: key.RecordID}
	}
	g.Active = false
	g.Cursor = cursor
	return m.apply(ctx, g)
}

func (m *Mirror) apply(ctx context.Context, g models.Grant) (bool, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	g.UpdatedAt = m.clock.Now().UTC()
	key := g.Key()

	m.mu.RLock()
	cur, ok := m.grants[key]
	m.mu.RUnlock()
	if ok && cur.Cursor.After(g.Cursor) {
		return false, nil
	}

	if err := m.store.SaveGrant(ctx, g); err != nil {
		return false, fmt.Errorf("persist grant: %w", err)
	}

	m.mu.Lock()
	m.grants[key] = g
	m.mu.Unlock()
	return true, nil
}

// RegisterRecord remembers which content id a ledger record id refers to.
func (m *Mirror) RegisterRecord(ctx context.Context, ref models.RecordRef) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = m.clock.Now().UTC()
	}
	if err := m.store.SaveRecord(ctx, ref); err != nil {
		return fmt.Errorf("persist record: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.putRecordLocked(ref)
	return nil
}

func (m *Mirror) putRecordLocked(ref models.RecordRef) {
	k := recordKey{patient: ref.Patient, recordID: ref.RecordID}
	if cur, ok := m.records[k]; ok {
		if cur.Cursor.After(ref.Cursor) {
			return
		}
		m.unindexLocked(cur)
	}
	m.records[k] = ref

	ck := cidKey{patient: ref.Patient, cid: ref.CID}
	ids := m.byCID[ck]
	if i, found := slices.BinarySearch(ids, ref.RecordID); !found {
		m.byCID[ck] = slices.Insert(ids, i, ref.RecordID)
	}
}

func (m *Mirror) unindexLocked(ref models.RecordRef) {
	ck := cidKey{patient: ref.Patient, cid: ref.CID}
	ids := slices.DeleteFunc(m.byCID[ck], func(id string) bool { return id == ref.RecordID })
	if len(ids) == 0 {
		delete(m.byCID, ck)
		return
	}
	m.byCID[ck] = ids
}

// RecordIDs returns the ledger record ids of patient's records with content
// id cid, sorted.
func (m *Mirror) RecordIDs(patient, cid string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.byCID[cidKey{patient: patient, cid: cid}])
}

// Lookup returns the grant that decides whether grantee may read recordID
// of patient at now. A usable exact grant wins, then a usable emergency
// grant; otherwise the exact grant, or failing that the emergency grant, is
// returned so the caller can tell revoked from expired.
func (m *Mirror) Lookup(patient, grantee, recordID string, now time.Time) (models.Grant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exact, hasExact := m.grants[models.GrantKey{Patient: patient, Grantee: grantee, RecordID: recordID}]
	emergency, hasEmergency := m.grants[models.GrantKey{Patient: patient, Grantee: grantee, RecordID: models.WildcardRecordID}]

	switch {
	case hasExact && exact.Usable(now):
		return exact, true
	case hasEmergency && emergency.Usable(now):
		return emergency, true
	case hasExact:
		return exact, true
	case hasEmergency:
		return emergency, true
	}
	return models.Grant{}, false
}

// Get returns the stored entry for key, if any.
func (m *Mirror) Get(key models.GrantKey) (models.Grant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.grants[key]
	return g, ok
}

// Len returns the number of grants and registered records.
func (m *Mirror) Len() (grants, records int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.grants), len(m.records)
}

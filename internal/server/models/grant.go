// Package models holds the server's persisted domain types.
package models

import (
	"time"

	"github.com/dmitrijs2005/medvault/internal/server/ledger"
)

// WildcardRecordID marks an emergency grant covering every record of the
// patient.
const WildcardRecordID = "*"

// PurposeEmergency is the purpose recorded on emergency grants.
const PurposeEmergency = "emergency"

// GrantKey identifies one capability: who may read which record of whom.
type GrantKey struct {
	Patient  string
	Grantee  string
	RecordID string
}

// Grant is the mirrored state of a ledger access grant. Cursor is the
// position of the event that last changed it.
type Grant struct {
	Patient   string
	Grantee   string
	RecordID  string
	Purpose   string
	Expiry    time.Time
	Active    bool
	Cursor    ledger.Cursor
	UpdatedAt time.Time
}

func (g Grant) Key() GrantKey {
	return GrantKey{Patient: g.Patient, Grantee: g.Grantee, RecordID: g.RecordID}
}

// Usable reports whether the grant permits access at now.
func (g Grant) Usable(now time.Time) bool {
	return g.Active && now.Before(g.Expiry)
}

// Emergency reports whether the grant is a wildcard emergency grant.
func (g Grant) Emergency() bool {
	return g.RecordID == WildcardRecordID
}

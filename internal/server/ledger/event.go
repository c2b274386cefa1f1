// Package ledger defines the consent events emitted by the ledger, their
// ordering, and the Source interface the ingestor reads them through.
package ledger

import (
	"fmt"
	"math/big"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
)

// EventType names are stable across contract versions.
type EventType string

const (
	RecordAdded              EventType = "RecordAdded"
	AccessGranted            EventType = "AccessGranted"
	AccessRevoked            EventType = "AccessRevoked"
	RecordAccessed           EventType = "RecordAccessed"
	EmergencyAccessRequested EventType = "EmergencyAccessRequested"
	EmergencyAccessApproved  EventType = "EmergencyAccessApproved"
	EmergencyAccessRevoked   EventType = "EmergencyAccessRevoked"
)

// Cursor is the total order of ledger events: block number, then log index
// within the block.
type Cursor struct {
	Block    uint64 `json:"block"`
	LogIndex uint64 `json:"logIndex"`
}

// Compare returns -1, 0 or 1 as c is before, equal to or after o.
func (c Cursor) Compare(o Cursor) int {
	switch {
	case c.Block < o.Block:
		return -1
	case c.Block > o.Block:
		return 1
	case c.LogIndex < o.LogIndex:
		return -1
	case c.LogIndex > o.LogIndex:
		return 1
	}
	return 0
}

// After reports whether c is strictly after o.
func (c Cursor) After(o Cursor) bool { return c.Compare(o) > 0 }

// IsZero reports whether c is the position before the first event.
func (c Cursor) IsZero() bool { return c == Cursor{} }

func (c Cursor) String() string { return fmt.Sprintf("%d:%d", c.Block, c.LogIndex) }

// Event is one decoded ledger log. Which fields are set depends on Type:
//
//	RecordAdded              Patient RecordID CID
//	AccessGranted            Patient Subject RecordID Purpose Expiry
//	AccessRevoked            Patient Subject RecordID
//	RecordAccessed           Patient Subject RecordID Timestamp
//	EmergencyAccessRequested Patient Subject Duration
//	EmergencyAccessApproved  Patient Subject Expiry
//	EmergencyAccessRevoked   Patient Subject
//
// Subject is the grantee, accessor or emergency requester.
type Event struct {
	Type      EventType     `json:"type"`
	Cursor    Cursor        `json:"cursor"`
	BlockTime time.Time     `json:"blockTime"`
	TxHash    string        `json:"txHash,omitempty"`
	Patient   string        `json:"patient"`
	Subject   string        `json:"subject,omitempty"`
	RecordID  string        `json:"recordId,omitempty"`
	CID       string        `json:"cid,omitempty"`
	Purpose   string        `json:"purpose,omitempty"`
	Expiry    time.Time     `json:"expiry,omitzero"`
	Timestamp time.Time     `json:"timestamp,omitzero"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Normalize lower-cases addresses and checks that the fields required by
// the event type are present. Failures wrap common.ErrMalformedEvent.
func (e Event) Normalize() (Event, error) {
	bad := func(reason string) (Event, error) {
		return e, fmt.Errorf("%w: %s at %s: %s", common.ErrMalformedEvent, e.Type, e.Cursor, reason)
	}

	patient, err := common.NormalizeAddress(e.Patient)
	if err != nil {
		return bad("patient address")
	}
	e.Patient = patient

	if e.Type != RecordAdded {
		subject, err := common.NormalizeAddress(e.Subject)
		if err != nil {
			return bad("subject address")
		}
		e.Subject = subject
	}

	switch e.Type {
	case RecordAdded:
		if !validRecordID(e.RecordID) || e.CID == "" {
			return bad("record id or cid")
		}
	case AccessGranted:
		if !validRecordID(e.RecordID) {
			return bad("record id")
		}
		if e.Expiry.IsZero() {
			return bad("expiry")
		}
	case AccessRevoked, RecordAccessed:
		if !validRecordID(e.RecordID) {
			return bad("record id")
		}
	case EmergencyAccessApproved:
		if e.Expiry.IsZero() {
			return bad("expiry")
		}
	case EmergencyAccessRequested, EmergencyAccessRevoked:
	default:
		return bad("unknown type")
	}

	return e, nil
}

// validRecordID accepts the decimal form of a uint256.
func validRecordID(id string) bool {
	n, ok := new(big.Int).SetString(id, 10)
	return ok && n.Sign() >= 0 && n.BitLen() <= 256
}

package models

import (
	"time"

	"github.com/dmitrijs2005/medvault/internal/server/ledger"
)

// RecordRef links a ledger record id to the content id of its payload.
type RecordRef struct {
	Patient   string
	RecordID  string
	CID       string
	Cursor    ledger.Cursor
	CreatedAt time.Time
}

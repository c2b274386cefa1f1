package models

import (
	"time"

	"github.com/dmitrijs2005/medvault/internal/server/ledger"
)

// Checkpoint is the durable position of a ledger consumer.
type Checkpoint struct {
	Name      string
	Cursor    ledger.Cursor
	UpdatedAt time.Time
}

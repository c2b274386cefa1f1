// Package registry declares persistence for the ledger's record registry:
// which record id of which patient holds which content id.
package registry

import (
	"context"

	"github.com/dmitrijs2005/medvault/internal/server/models"
)

type Repository interface {
	// Upsert records ref; re-applying the same RecordAdded event is a no-op.
	Upsert(ctx context.Context, ref *models.RecordRef) error

	// FindByCID returns the record of patient with the given content id or
	// common.ErrNotFound.
	FindByCID(ctx context.Context, patient, cid string) (*models.RecordRef, error)

	List(ctx context.Context) ([]*models.RecordRef, error)
}

// Package grants declares the persistence contract for mirrored access grants.
package grants

import (
	"context"

	"github.com/dmitrijs2005/medvault/internal/server/models"
)

// Repository stores one row per (patient, grantee, record id).
type Repository interface {
	// Upsert writes g unless the stored row was produced by a later ledger
	// event. It reports whether the row was written.
	Upsert(ctx context.Context, g *models.Grant) (bool, error)

	// Find returns the grant for key or common.ErrNotFound.
	Find(ctx context.Context, key models.GrantKey) (*models.Grant, error)

	// List returns every stored grant, used to warm the in-memory mirror.
	List(ctx context.Context) ([]*models.Grant, error)
}

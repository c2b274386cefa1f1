// Package checkpoints persists how far each ledger consumer has got.
package checkpoints

import (
	"context"

	"github.com/dmitrijs2005/medvault/internal/server/ledger"
)

type Repository interface {
	// Load returns the saved cursor for name or common.ErrNotFound.
	Load(ctx context.Context, name string) (ledger.Cursor, error)

	// Save moves the cursor for name forward; an older cursor is ignored.
	Save(ctx context.Context, name string, cursor ledger.Cursor) error
}

package checkpoints

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/dbx"
	"github.com/dmitrijs2005/medvault/internal/server/ledger"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Load(ctx context.Context, name string) (ledger.Cursor, error) {
	query := `
		SELECT block, log_index
		FROM ingest_checkpoints
		WHERE name = $1
	`
	var block, logIndex int64
	if err := r.db.QueryRowContext(ctx, query, name).Scan(&block, &logIndex); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Cursor{}, common.ErrNotFound
		}
		return ledger.Cursor{}, fmt.Errorf("db error: %w", err)
	}
	return ledger.Cursor{Block: uint64(block), LogIndex: uint64(logIndex)}, nil
}

func (r *PostgresRepository) Save(ctx context.Context, name string, cursor ledger.Cursor) error {
	query := `
		INSERT INTO ingest_checkpoints (name, block, log_index, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (name)
		DO UPDATE SET
			block = EXCLUDED.block,
			log_index = EXCLUDED.log_index,
			updated_at = NOW()
			WHERE (ingest_checkpoints.block, ingest_checkpoints.log_index) < (EXCLUDED.block, EXCLUDED.log_index)
	`
	if _, err := r.db.ExecContext(ctx, query, name, int64(cursor.Block), int64(cursor.LogIndex)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

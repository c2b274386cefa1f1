package grants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/dbx"
	"github.com/dmitrijs2005/medvault/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert applies the row only when its (block, log_index) is not older than
// the stored one; an equal position overwrites.
func (r *PostgresRepository) Upsert(ctx context.Context, g *models.Grant) (bool, error) {
	query := `
		INSERT INTO access_grants (patient, grantee, record_id, purpose, expiry, is_active, block, log_index, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (patient, grantee, record_id)
		DO UPDATE SET
			purpose = EXCLUDED.purpose,
			expiry = EXCLUDED.expiry,
			is_active = EXCLUDED.is_active,
			block = EXCLUDED.block,
			log_index = EXCLUDED.log_index,
			updated_at = NOW()
			WHERE (access_grants.block, access_grants.log_index) <= (EXCLUDED.block, EXCLUDED.log_index)
	`
	res, err := r.db.ExecContext(ctx, query,
		g.Patient, g.Grantee, g.RecordID, g.Purpose, g.Expiry, g.Active, int64(g.Cursor.Block), int64(g.Cursor.LogIndex))
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Find(ctx context.Context, key models.GrantKey) (*models.Grant, error) {
	query := `
		SELECT patient, grantee, record_id, purpose, expiry, is_active, block, log_index, updated_at
		FROM access_grants
		WHERE patient = $1 AND grantee = $2 AND record_id = $3
	`
	g, err := scanGrant(r.db.QueryRowContext(ctx, query, key.Patient, key.Grantee, key.RecordID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return g, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.Grant, error) {
	query := `
		SELECT patient, grantee, record_id, purpose, expiry, is_active, block, log_index, updated_at
		FROM access_grants
		ORDER BY block, log_index
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGrant(s scanner) (*models.Grant, error) {
	var (
		g               models.Grant
		block, logIndex int64
	)
	if err := s.Scan(&g.Patient, &g.Grantee, &g.RecordID, &g.Purpose, &g.Expiry, &g.Active, &block, &logIndex, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.Cursor.Block = uint64(block)
	g.Cursor.LogIndex = uint64(logIndex)
	return &g, nil
}

package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/dbx"
	"github.com/dmitrijs2005/medvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, ref *models.RecordRef) error {
	query := `
		INSERT INTO records (patient, record_id, cid, block, log_index)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (patient, record_id)
		DO UPDATE SET
			cid = EXCLUDED.cid,
			block = EXCLUDED.block,
			log_index = EXCLUDED.log_index
			WHERE (records.block, records.log_index) <= (EXCLUDED.block, EXCLUDED.log_index)
	`
	if _, err := r.db.ExecContext(ctx, query,
		ref.Patient, ref.RecordID, ref.CID, int64(ref.Cursor.Block), int64(ref.Cursor.LogIndex)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindByCID(ctx context.Context, patient, cid string) (*models.RecordRef, error) {
	query := `
		SELECT patient, record_id, cid, block, log_index, created_at
		FROM records
		WHERE patient = $1 AND cid = $2
		ORDER BY block DESC, log_index DESC
		LIMIT 1
	`
	ref, err := scanRef(r.db.QueryRowContext(ctx, query, patient, cid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ref, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.RecordRef, error) {
	query := `
		SELECT patient, record_id, cid, block, log_index, created_at
		FROM records
		ORDER BY block, log_index
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.RecordRef
	for rows.Next() {
		ref, err := scanRef(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func scanRef(s interface{ Scan(dest ...any) error }) (*models.RecordRef, error) {
	var (
		ref             models.RecordRef
		block, logIndex int64
	)
	if err := s.Scan(&ref.Patient, &ref.RecordID, &ref.CID, &block, &logIndex, &ref.CreatedAt); err != nil {
		return nil, err
	}
	ref.Cursor.Block = uint64(block)
	ref.Cursor.LogIndex = uint64(logIndex)
	return &ref, nil
}

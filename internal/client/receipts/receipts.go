// Package receipts keeps a local SQLite log of records the CLI uploaded, so a
// patient can find their content ids again without asking the server.
package receipts

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/dbx"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout is fixed-width so uploaded_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Receipt struct {
	CID        string
	FileName   string
	Patient    string
	IV         string
	Encrypted  bool
	Size       int
	UploadedAt time.Time
}

type Repository interface {
	Save(ctx context.Context, r Receipt) error
	Get(ctx context.Context, cid string) (Receipt, error)
	List(ctx context.Context, patient string) ([]Receipt, error)
}

// RunMigrations applies the embedded schema.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// Open opens (creating if needed) the receipts database at dsn.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("receipts migrations: %w", err)
	}
	return db, nil
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Save inserts r, replacing an earlier receipt for the same cid.
func (r *SQLiteRepository) Save(ctx context.Context, rc Receipt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO receipts (cid, file_name, patient, iv, encrypted, size, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cid) DO UPDATE SET
			file_name = excluded.file_name,
			patient = excluded.patient,
			iv = excluded.iv,
			encrypted = excluded.encrypted,
			size = excluded.size,
			uploaded_at = excluded.uploaded_at
	`, rc.CID, rc.FileName, rc.Patient, rc.IV, rc.Encrypted, rc.Size, rc.UploadedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save receipt %s: %w", rc.CID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, cid string) (Receipt, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT cid, file_name, patient, iv, encrypted, size, uploaded_at
		FROM receipts WHERE cid = ?`, cid)
	rc, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Receipt{}, common.ErrNotFound
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to get receipt %s: %w", cid, err)
	}
	return rc, nil
}

// List returns the patient's receipts, newest first. An empty patient lists
// everything.
func (r *SQLiteRepository) List(ctx context.Context, patient string) ([]Receipt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT cid, file_name, patient, iv, encrypted, size, uploaded_at
		FROM receipts
		WHERE ? = '' OR patient = ?
		ORDER BY uploaded_at DESC, cid`, patient, patient)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	var result []Receipt
	for rows.Next() {
		rc, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		result = append(result, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (Receipt, error) {
	var (
		rc Receipt
		ts string
	)
	if err := s.Scan(&rc.CID, &rc.FileName, &rc.Patient, &rc.IV, &rc.Encrypted, &rc.Size, &ts); err != nil {
		return Receipt{}, err
	}
	t, err := time.Parse(timeLayout, ts)
	if err != nil {
		return Receipt{}, err
	}
	rc.UploadedAt = t
	return rc, nil
}

package mirror

import (
	"context"
	"database/sql"
	"sync"

	"github.com/dmitrijs2005/medvault/internal/dbx"
	"github.com/dmitrijs2005/medvault/internal/server/models"
	"github.com/dmitrijs2005/medvault/internal/server/repositories/repomanager"
)

// Store persists mirror state so a restart does not need a full replay.
type Store interface {
	SaveGrant(ctx context.Context, g models.Grant) error
	SaveRecord(ctx context.Context, ref models.RecordRef) error
	// Snapshot returns a consistent view of all grants and records.
	Snapshot(ctx context.Context) ([]models.Grant, []models.RecordRef, error)
}

// PostgresStore keeps mirror state in the access_grants and records tables.
type PostgresStore struct {
	db *sql.DB
	rm repomanager.RepositoryManager
}

func NewPostgresStore(db *sql.DB, rm repomanager.RepositoryManager) *PostgresStore {
	return &PostgresStore{db: db, rm: rm}
}

func (s *PostgresStore) SaveGrant(ctx context.Context, g models.Grant) error {
	_, err := s.rm.Grants(s.db).Upsert(ctx, &g)
	return err
}

func (s *PostgresStore) SaveRecord(ctx context.Context, ref models.RecordRef) error {
	return s.rm.Registry(s.db).Upsert(ctx, &ref)
}

func (s *PostgresStore) Snapshot(ctx context.Context) ([]models.Grant, []models.RecordRef, error) {
	var (
		grants  []models.Grant
		records []models.RecordRef
	)
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	err := dbx.WithTx(ctx, s.db, opts, func(ctx context.Context, tx dbx.DBTX) error {
		gs, err := s.rm.Grants(tx).List(ctx)
		if err != nil {
			return err
		}
		rs, err := s.rm.Registry(tx).List(ctx)
		if err != nil {
			return err
		}
		for _, g := range gs {
			grants = append(grants, *g)
		}
		for _, r := range rs {
			records = append(records, *r)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return grants, records, nil
}

// MemoryStore keeps mirror state for tests and single-process runs.
type MemoryStore struct {
	mu      sync.Mutex
	grants  map[models.GrantKey]models.Grant
	records map[[2]string]models.RecordRef
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		grants:  make(map[models.GrantKey]models.Grant),
		records: make(map[[2]string]models.RecordRef),
	}
}

func (s *MemoryStore) SaveGrant(ctx context.Context, g models.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.grants[g.Key()]; ok && cur.Cursor.After(g.Cursor) {
		return nil
	}
	s.grants[g.Key()] = g
	return nil
}

func (s *MemoryStore) SaveRecord(ctx context.Context, ref models.RecordRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := [2]string{ref.Patient, ref.RecordID}
	if cur, ok := s.records[k]; ok && cur.Cursor.After(ref.Cursor) {
		return nil
	}
	s.records[k] = ref
	return nil
}

func (s *MemoryStore) Snapshot(ctx context.Context) ([]models.Grant, []models.RecordRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grants := make([]models.Grant, 0, len(s.grants))
	for _, g := range s.grants {
		grants = append(grants, g)
	}
	records := make([]models.RecordRef, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	return grants, records, nil
}

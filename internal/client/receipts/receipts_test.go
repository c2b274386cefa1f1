package receipts

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "receipts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLiteRepository(db)
}

const (
	alice = "0x00000000000000000000000000000000000000a1"
	bob   = "0x00000000000000000000000000000000000000b0"
)

func TestSaveAndGet(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 10, 0, 0, 123, time.UTC)

	in := Receipt{CID: "bafy1", FileName: "xray.png", Patient: alice, IV: "00ff", Encrypted: true, Size: 42, UploadedAt: at}
	require.NoError(t, r.Save(ctx, in))

	got, err := r.Get(ctx, "bafy1")
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestGet_NotFound(t *testing.T) {
	r := setupRepo(t)
	_, err := r.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSave_Upserts(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, r.Save(ctx, Receipt{CID: "bafy1", FileName: "old", Patient: alice, UploadedAt: at}))
	require.NoError(t, r.Save(ctx, Receipt{CID: "bafy1", FileName: "new", Patient: alice, UploadedAt: at}))

	all, err := r.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].FileName)
}

func TestList_NewestFirstAndFiltered(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, r.Save(ctx, Receipt{CID: "a1", Patient: alice, UploadedAt: base}))
	require.NoError(t, r.Save(ctx, Receipt{CID: "a2", Patient: alice, UploadedAt: base.Add(time.Minute)}))
	require.NoError(t, r.Save(ctx, Receipt{CID: "b1", Patient: bob, UploadedAt: base.Add(2 * time.Minute)}))

	got, err := r.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a2", got[0].CID)
	assert.Equal(t, "a1", got[1].CID)

	all, err := r.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "b1", all[0].CID)
}

func TestOpen_IsRerunnable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.db")
	ctx := context.Background()

	db, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, NewSQLiteRepository(db).Save(ctx, Receipt{CID: "x", UploadedAt: time.Now()}))
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	_, err = NewSQLiteRepository(db).Get(ctx, "x")
	assert.NoError(t, err)
}

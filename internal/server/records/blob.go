package records

import (
	"context"
	"time"
)

// BlobMeta travels with a blob in the backing store.
type BlobMeta struct {
	Owner      string
	FileName   string
	UploadedAt time.Time
	Encrypted  bool
	IV         string
}

// BlobStore persists immutable blobs by key. Get and Stat return
// common.ErrNotFound for an unknown key.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, meta BlobMeta) error
	Get(ctx context.Context, key string) ([]byte, BlobMeta, error)
	Stat(ctx context.Context, key string) (BlobMeta, error)
	Check(ctx context.Context) error
}

func blobKey(cid string) string {
	return "records/" + cid
}

// Package records stores encrypted documents by content id: AES-GCM
// encryption on upload, an S3-compatible backing store and a read-through
// cache in front of it.
package records

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/cryptox"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/server/cache"
	"github.com/dmitrijs2005/medvault/internal/server/metrics"
	"github.com/dmitrijs2005/medvault/internal/timex"
)

// Metadata is cached at metadata:<cid> and returned with every read.
type Metadata struct {
	Owner      string    `json:"owner,omitempty"`
	FileName   string    `json:"fileName"`
	UploadedAt time.Time `json:"uploadedAt"`
	Size       int       `json:"size"`
	Encrypted  bool      `json:"encrypted"`
	IV         string    `json:"iv,omitempty"`
}

// Stored describes a freshly uploaded record.
type Stored struct {
	CID        string
	IV         string
	Encrypted  bool
	UploadedAt time.Time
	Size       int
}

// Object is a record payload as held in storage: ciphertext unless it was
// uploaded in the clear.
type Object struct {
	CID      string
	Data     []byte
	Metadata Metadata
}

// Options tune a Store. Zero values fall back to defaults.
type Options struct {
	FetchTimeout  time.Duration
	MaxUploadSize int
	Clock         timex.Clock
	Metrics       *metrics.Metrics
}

// Store is the encrypted record store.
type Store struct {
	blobs         BlobStore
	cache         cache.Cache
	key           []byte
	fetchTimeout  time.Duration
	maxUploadSize int
	clock         timex.Clock
	metrics       *metrics.Metrics
	logger        logging.Logger
}

func NewStore(blobs BlobStore, c cache.Cache, key []byte, opts Options, logger logging.Logger) *Store {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 10 << 20
	}
	return &Store{
		blobs:         blobs,
		cache:         c,
		key:           key,
		fetchTimeout:  opts.FetchTimeout,
		maxUploadSize: opts.MaxUploadSize,
		clock:         opts.Clock,
		metrics:       opts.Metrics,
		logger:        logger,
	}
}

// Put encrypts data (unless preEncrypted), stores it under its content id
// for owner and caches its metadata. A blob that already exists is left as
// first stored and described by its original metadata.
func (s *Store) Put(ctx context.Context, owner string, data []byte, fileName string, preEncrypted bool) (Stored, error) {
	if len(data) == 0 || fileName == "" {
		return Stored{}, fmt.Errorf("%w: empty file", common.ErrInvalidRequest)
	}
	if len(data) > s.maxUploadSize {
		return Stored{}, common.ErrPayloadTooLarge
	}

	payload := data
	var ivHex string
	if !preEncrypted {
		ct, iv, err := cryptox.Encrypt(data, s.key)
		if err != nil {
			return Stored{}, fmt.Errorf("encrypt record: %w", err)
		}
		payload = ct
		ivHex = hex.EncodeToString(iv)
	}

	id, err := ComputeCID(payload)
	if err != nil {
		return Stored{}, err
	}

	existing, err := s.blobs.Stat(ctx, blobKey(id))
	switch {
	case err == nil:
		s.logger.Info(ctx, "record already stored", "cid", id)
		s.cacheMetadata(ctx, id, metadataFrom(existing, len(payload)))
		return Stored{CID: id, IV: existing.IV, Encrypted: true, UploadedAt: existing.UploadedAt, Size: len(payload)}, nil
	case !errors.Is(err, common.ErrNotFound):
		return Stored{}, fmt.Errorf("%w: %v", common.ErrUpstreamUnavailable, err)
	}

	// stored records are always ciphertext, whoever encrypted them
	now := s.clock.Now().UTC()
	meta := BlobMeta{Owner: owner, FileName: fileName, UploadedAt: now, Encrypted: true, IV: ivHex}

	if err := s.blobs.Put(ctx, blobKey(id), payload, meta); err != nil {
		return Stored{}, fmt.Errorf("%w: %v", common.ErrUpstreamUnavailable, err)
	}

	s.cacheMetadata(ctx, id, metadataFrom(meta, len(payload)))

	s.logger.Info(ctx, "record stored", "cid", id, "size", len(payload), "pre_encrypted", preEncrypted)
	return Stored{CID: id, IV: ivHex, Encrypted: true, UploadedAt: now, Size: len(payload)}, nil
}

// Get returns the stored payload for cid, from cache when possible.
func (s *Store) Get(ctx context.Context, id string) (Object, error) {
	if obj, ok := s.fromCache(ctx, id); ok {
		return obj, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	data, meta, err := s.blobs.Get(fetchCtx, blobKey(id))
	switch {
	case errors.Is(err, common.ErrNotFound):
		return Object{}, common.ErrNotFound
	case err != nil:
		if ctx.Err() != nil {
			return Object{}, ctx.Err()
		}
		s.logger.Warn(ctx, "blob fetch failed", "cid", id, "error", err)
		return Object{}, fmt.Errorf("%w: %v", common.ErrUpstreamUnavailable, err)
	}

	if !MatchesCID(id, data) {
		s.logger.Error(ctx, "blob does not match its content id", "cid", id)
		return Object{}, common.ErrCorruptPayload
	}

	md := metadataFrom(meta, len(data))
	s.cacheRecord(ctx, id, data)
	s.cacheMetadata(ctx, id, md)

	return Object{CID: id, Data: data, Metadata: md}, nil
}

// Metadata returns cached metadata for cid, falling back to the blob store.
func (s *Store) Metadata(ctx context.Context, id string) (Metadata, error) {
	if raw, err := s.cache.Get(ctx, common.MetadataKeyPrefix+id); err == nil {
		var md Metadata
		if json.Unmarshal(raw, &md) == nil {
			return md, nil
		}
	}
	obj, err := s.Get(ctx, id)
	if err != nil {
		return Metadata{}, err
	}
	return obj.Metadata, nil
}

// Owner returns the address that first uploaded cid.
func (s *Store) Owner(ctx context.Context, id string) (string, error) {
	md, err := s.Metadata(ctx, id)
	if err != nil {
		return "", err
	}
	return md.Owner, nil
}

// Check reports whether the backing store is reachable.
func (s *Store) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	return s.blobs.Check(ctx)
}

// Decrypt opens a payload produced by Put with the given key and hex IV.
// Every failure is the same common.ErrCorruptPayload.
func Decrypt(ciphertext, key []byte, ivHex string) ([]byte, error) {
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, common.ErrCorruptPayload
	}
	return cryptox.Decrypt(ciphertext, key, iv)
}

func (s *Store) fromCache(ctx context.Context, id string) (Object, bool) {
	data, err := s.cache.Get(ctx, common.RecordKeyPrefix+id)
	if err != nil {
		s.lookupResult(ctx, "record", err)
		return Object{}, false
	}
	s.metrics.CacheLookup("record", "hit")

	raw, err := s.cache.Get(ctx, common.MetadataKeyPrefix+id)
	if err != nil {
		s.lookupResult(ctx, "metadata", err)
		return Object{}, false
	}
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		s.logger.Warn(ctx, "dropping unreadable metadata cache entry", "cid", id, "error", err)
		_ = s.cache.Del(ctx, common.MetadataKeyPrefix+id)
		return Object{}, false
	}
	s.metrics.CacheLookup("metadata", "hit")

	return Object{CID: id, Data: data, Metadata: md}, true
}

func (s *Store) lookupResult(ctx context.Context, kind string, err error) {
	if errors.Is(err, common.ErrNotFound) {
		s.metrics.CacheLookup(kind, "miss")
		return
	}
	s.metrics.CacheLookup(kind, "error")
	s.logger.Warn(ctx, "cache read failed", "kind", kind, "error", err)
}

func (s *Store) cacheRecord(ctx context.Context, id string, data []byte) {
	if err := s.cache.Set(ctx, common.RecordKeyPrefix+id, data, common.RecordTTL); err != nil {
		s.logger.Warn(ctx, "cache write failed", "key", common.RecordKeyPrefix+id, "error", err)
	}
}

func (s *Store) cacheMetadata(ctx context.Context, id string, md Metadata) {
	raw, err := json.Marshal(md)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, common.MetadataKeyPrefix+id, raw, common.RecordTTL); err != nil {
		s.logger.Warn(ctx, "cache write failed", "key", common.MetadataKeyPrefix+id, "error", err)
	}
}

func metadataFrom(meta BlobMeta, size int) Metadata {
	return Metadata{
		Owner:      meta.Owner,
		FileName:   meta.FileName,
		UploadedAt: meta.UploadedAt,
		Size:       size,
		Encrypted:  meta.Encrypted,
		IV:         meta.IV,
	}
}

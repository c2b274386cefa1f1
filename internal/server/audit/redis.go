package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each trail in the sorted set audit:<patient>, scored by
// the entry timestamp in milliseconds.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func auditKey(patient string) string {
	return common.AuditKeyPrefix + patient
}

func (s *RedisStore) Append(ctx context.Context, e Entry, keep int) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	key := auditKey(e.Patient)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{Score: float64(e.Timestamp.UnixMilli()), Member: string(b)})
		p.ZRemRangeByRank(ctx, key, 0, int64(-keep-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (s *RedisStore) Newest(ctx context.Context, patient string, limit int) ([]Entry, error) {
	members, err := s.client.ZRevRange(ctx, auditKey(patient), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	entries := make([]Entry, 0, len(members))
	for _, m := range members {
		var e Entry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

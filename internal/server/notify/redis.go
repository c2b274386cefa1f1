package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/redis/go-redis/v9"
)

// RedisPublisher writes each notification to notification:<patient>:<unixms>
// and publishes that key on notifications:<patient>.
type RedisPublisher struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisPublisher keeps stored notifications for ttl; zero keeps them
// until evicted.
func NewRedisPublisher(client redis.UniversalClient, ttl time.Duration) *RedisPublisher {
	return &RedisPublisher{client: client, ttl: ttl}
}

func Key(n Notification) string {
	return common.NotificationKeyPrefix + n.Patient + ":" + strconv.FormatInt(n.Timestamp.UnixMilli(), 10)
}

func Channel(patient string) string {
	return common.NotificationChannel + patient
}

func (p *RedisPublisher) Publish(ctx context.Context, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	key := Key(n)
	_, err = p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, b, p.ttl)
		pipe.Publish(ctx, Channel(n.Patient), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDedupeTTL = 24 * time.Hour

// Deduper records which events have been delivered so redelivered queue
// messages are not handled twice.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// RedisDeduper claims event ids with SET NX and a TTL.
type RedisDeduper struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisDeduper returns nil when redisClient is nil.
func NewRedisDeduper(redisClient *redis.Client, ttl time.Duration) *RedisDeduper {
	if redisClient == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &RedisDeduper{redis: redisClient, ttl: ttl}
}

func (d *RedisDeduper) key(eventID string) string {
	return fmt.Sprintf("appointment_events:processed:%s", eventID)
}

// Claim reports whether the caller is the first to see eventID.
func (d *RedisDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.redis.SetNX(ctx, d.key(eventID), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("worker: claim event: %w", err)
	}
	return ok, nil
}

// Release forgets a claim so a failed delivery can be retried.
func (d *RedisDeduper) Release(ctx context.Context, eventID string) error {
	if err := d.redis.Del(ctx, d.key(eventID)).Err(); err != nil {
		return fmt.Errorf("worker: release event: %w", err)
	}
	return nil
}

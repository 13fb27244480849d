package interpret

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores raw model output per (tenant, local date, text). A nil Cache
// is a valid no-op.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewCache returns nil when ttl is not positive so callers can pass the
// result through unconditionally.
func NewCache(redisClient *redis.Client, ttl time.Duration) *Cache {
	if redisClient == nil || ttl <= 0 {
		return nil
	}
	return &Cache{redis: redisClient, ttl: ttl}
}

func cacheKey(tenantID, localDate, text string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("interpret:%s:%s:%s", tenantID, localDate, hex.EncodeToString(sum[:]))
}

// Get returns the cached output, or "" on a miss.
func (c *Cache) Get(ctx context.Context, tenantID, localDate, text string) (string, error) {
	if c == nil {
		return "", nil
	}
	val, err := c.redis.Get(ctx, cacheKey(tenantID, localDate, text)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("interpret: cache get: %w", err)
	}
	return val, nil
}

// Set stores output for the configured TTL.
func (c *Cache) Set(ctx context.Context, tenantID, localDate, text, output string) error {
	if c == nil {
		return nil
	}
	if err := c.redis.Set(ctx, cacheKey(tenantID, localDate, text), output, c.ttl).Err(); err != nil {
		return fmt.Errorf("interpret: cache set: %w", err)
	}
	return nil
}

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitCache holds fixed-window request counters
type RateLimitCache interface {
	// Hit increments the counter for key in the window starting at windowStart and
	// returns the count after the increment.
	Hit(ctx context.Context, key string, windowStart int64, window time.Duration) (int64, error)
}

type rateLimitCache struct {
	client *redis.Client
}

// NewRateLimitCache creates a Redis-backed rate limit cache
func NewRateLimitCache(client *redis.Client) RateLimitCache {
	return &rateLimitCache{client: client}
}

func (c *rateLimitCache) key(key string, windowStart int64) string {
	return fmt.Sprintf("rl:%s:%d", key, windowStart)
}

func (c *rateLimitCache) Hit(ctx context.Context, key string, windowStart int64, window time.Duration) (int64, error) {
	k := c.key(key, windowStart)
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

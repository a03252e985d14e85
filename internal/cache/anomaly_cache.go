package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AnomalyCache tracks per-user request activity used for abuse heuristics
type AnomalyCache interface {
	// CountRequest increments the user's request counter for a time bucket
	CountRequest(ctx context.Context, userID string, bucket int64, ttl time.Duration) (int64, error)
	// AddIP records ip for the user and returns the number of distinct IPs seen within ttl
	AddIP(ctx context.Context, userID, ip string, ttl time.Duration) (int64, error)
}

type anomalyCache struct {
	client *redis.Client
}

// NewAnomalyCache creates a Redis-backed anomaly cache
func NewAnomalyCache(client *redis.Client) AnomalyCache {
	return &anomalyCache{client: client}
}

func (c *anomalyCache) burstKey(userID string, bucket int64) string {
	return fmt.Sprintf("anomaly:burst:%s:%d", userID, bucket)
}

func (c *anomalyCache) ipsKey(userID string) string {
	return fmt.Sprintf("anomaly:ips:%s", userID)
}

func (c *anomalyCache) CountRequest(ctx context.Context, userID string, bucket int64, ttl time.Duration) (int64, error) {
	k := c.burstKey(userID, bucket)
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *anomalyCache) AddIP(ctx context.Context, userID, ip string, ttl time.Duration) (int64, error) {
	k := c.ipsKey(userID)
	added, err := c.client.SAdd(ctx, k, ip).Result()
	if err != nil {
		return 0, err
	}
	card, err := c.client.SCard(ctx, k).Result()
	if err != nil {
		return 0, err
	}
	// The 24h window starts with the first address recorded.
	if added == 1 && card == 1 {
		if err := c.client.Expire(ctx, k, ttl).Err(); err != nil {
			return card, err
		}
	}
	return card, nil
}

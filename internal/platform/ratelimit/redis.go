package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "totebags:ratelimit"

// Redis counts with INCR on a key that expires with the window, so replicas
// share one budget per client.
type Redis struct {
	client redis.UniversalClient
	prefix string
	limit  int64
	length time.Duration
}

// NewRedis returns nil when limit or length is not positive; a nil *Redis
// allows everything. scope separates independent budgets such as quote
// submissions.
func NewRedis(client redis.UniversalClient, scope string, limit int, length time.Duration) *Redis {
	if client == nil || limit <= 0 || length <= 0 {
		return nil
	}
	return &Redis{
		client: client,
		prefix: defaultRedisPrefix + ":" + scope,
		limit:  int64(limit),
		length: length,
	}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if r == nil {
		return true, 0, nil
	}
	redisKey := fmt.Sprintf("%s:%s", r.prefix, normaliseKey(key))

	var (
		count *redis.IntCmd
		ttl   *redis.DurationCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, r.length)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: redis: %w", err)
	}

	if count.Val() <= r.limit {
		return true, 0, nil
	}
	retryAfter := ttl.Val()
	if retryAfter <= 0 {
		retryAfter = r.length
	}
	return false, retryAfter, nil
}

package numbering

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisAllocator keeps counters in Redis under numbering:<prefix>:<year>.
// Numbers taken by a transition that later aborts are not returned.
type RedisAllocator struct {
	client redis.Cmdable
	seed   SeedFunc
}

// NewRedisAllocator constructs a RedisAllocator. seed may be nil.
func NewRedisAllocator(client redis.Cmdable, seed SeedFunc) *RedisAllocator {
	return &RedisAllocator{client: client, seed: seed}
}

func redisKey(prefix string, year int) string {
	return fmt.Sprintf("numbering:%s:%d", prefix, year)
}

// Next increments and returns the counter for prefix and year.
func (a *RedisAllocator) Next(ctx context.Context, prefix string, year int) (string, error) {
	key := redisKey(prefix, year)

	exists, err := a.client.Exists(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("numbering: redis exists: %w", err)
	}
	if exists == 0 && a.seed != nil {
		start, err := a.seed(ctx, prefix, year)
		if err != nil {
			return "", fmt.Errorf("numbering: seed %s/%d: %w", prefix, year, err)
		}
		if err := a.client.SetNX(ctx, key, start, 0).Err(); err != nil {
			return "", fmt.Errorf("numbering: redis setnx: %w", err)
		}
	}

	seq, err := a.client.Incr(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("numbering: redis incr: %w", err)
	}
	return Format(prefix, year, int(seq)), nil
}

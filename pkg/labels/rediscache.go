package labels

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisHotCache is the optional L1 label cache in front of the sqlite-backed
// Cache: a Redis deployment shared across multiple client processes hitting
// the same environment avoids every process re-resolving the same labels
// independently.
type RedisHotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisHotCache wraps rdb with a fixed TTL for every cached label.
func NewRedisHotCache(rdb *redis.Client, ttl time.Duration) *RedisHotCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisHotCache{rdb: rdb, ttl: ttl}
}

func (r *RedisHotCache) key(labelID, language string) string {
	return fmt.Sprintf("d365fo:label:%s:%s", language, labelID)
}

// Get returns (text, true) on a hit. Any Redis error (network blip,
// connection pool exhaustion) is treated as a miss — the hot cache is an
// optimization, never a dependency the caller can fail on.
func (r *RedisHotCache) Get(ctx context.Context, labelID, language string) (string, bool) {
	val, err := r.rdb.Get(ctx, r.key(labelID, language)).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// SetBatch pipelines one SET per label, swallowing errors for the same
// reason Get treats them as misses.
func (r *RedisHotCache) SetBatch(ctx context.Context, language string, values map[string]string) {
	if len(values) == 0 {
		return
	}
	pipe := r.rdb.Pipeline()
	for id, text := range values {
		pipe.Set(ctx, r.key(id, language), text, r.ttl)
	}
	_, _ = pipe.Exec(ctx)
}

package payment

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Deduper remembers processed callback ids. It is a fast path only: the
// booking transitions are idempotent on their own.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// MemoryDeduper keeps ids in process memory.
type MemoryDeduper struct {
	cache *cache.Cache
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{cache: cache.New(ttl, 2*ttl)}
}

func (d *MemoryDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	_, found := d.cache.Get(eventID)
	return found, nil
}

func (d *MemoryDeduper) Mark(ctx context.Context, eventID string) error {
	d.cache.Set(eventID, struct{}{}, cache.DefaultExpiration)
	return nil
}

// RedisDeduper shares processed ids between replicas.
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

const redisKeyPrefix = "payments:callback:"

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.rdb.Exists(ctx, redisKeyPrefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDeduper) Mark(ctx context.Context, eventID string) error {
	return d.rdb.Set(ctx, redisKeyPrefix+eventID, 1, d.ttl).Err()
}

package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "modelmux:cache:"

// RedisCache is the shared-cache variant for multi-instance deployments.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(connString string) (*RedisCache, error) {
	opt, err := redis.ParseURL(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis conn string")
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}
	return &RedisCache{rdb: rdb}, nil
}

// NewRedisCacheWithClient wraps an existing client; used by tests.
func NewRedisCacheWithClient(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

// Get implements Cache. The hit count is incremented in place, keeping the
// entry's remaining TTL.
func (r *RedisCache) Get(ctx context.Context, key string) (*CachedResponse, bool) {
	data, err := r.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var entry CachedResponse
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	if !entry.ExpiresAt.After(time.Now()) {
		r.rdb.Del(ctx, redisKeyPrefix+key)
		return nil, false
	}

	entry.HitCount++
	if updated, err := json.Marshal(&entry); err == nil {
		r.rdb.Set(ctx, redisKeyPrefix+key, updated, redis.KeepTTL)
	}
	return &entry, true
}

// Set implements Cache.
func (r *RedisCache) Set(ctx context.Context, key string, entry *CachedResponse, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := time.Now()
	entry.CacheKey = key
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(ttl)

	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshal cache entry")
	}
	if err := r.rdb.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		return errors.Wrap(err, "set cache entry")
	}
	return nil
}

// Remove implements Cache.
func (r *RedisCache) Remove(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return errors.Wrap(err, "remove cache entry")
	}
	return nil
}

// RemoveByPrefix implements Cache using SCAN to avoid blocking Redis.
func (r *RedisCache) RemoveByPrefix(ctx context.Context, prefix string) error {
	iter := r.rdb.Scan(ctx, 0, redisKeyPrefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return errors.Wrap(err, "remove cache entries by prefix")
		}
	}
	return errors.Wrap(iter.Err(), "scan cache keys")
}

// PurgeExpired implements Cache. Redis evicts expired keys on its own.
func (r *RedisCache) PurgeExpired(ctx context.Context) error {
	return nil
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "engine_cache_hits_total"})
	cacheMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "engine_cache_miss_total"})
)

var Module = fx.Module("cache", fx.Provide(New))

// Cache is the single coordination point shared by every worker in the
// pipeline. Reads degrade to "absent" on backend failure; writes surface
// their error so callers decide whether loss is tolerable.
type Cache struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// Get returns the raw value and whether the key exists. Backend errors on
// read are logged and reported as absent.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("[Cache] read failed", zap.String("key", key), zap.Error(err))
		}
		cacheMiss.Inc()
		return "", false
	}
	cacheHits.Inc()
	return val, true
}

func (c *Cache) GetJSON(ctx context.Context, key string, dest any) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		zap.L().Warn("[Cache] corrupt JSON value, treating as absent", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}
	return c.Set(ctx, key, string(raw), ttl)
}

func (c *Cache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache del: %w", err)
	}
	return nil
}

// Incr increments the counter at key, creating it at 0 first. The TTL is
// applied only when this call created the key, so a rate-limit window is
// anchored to its first hit and later hits never extend it.
func (c *Cache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache incr %s: %w", key, err)
	}
	if n == 1 && ttl > 0 {
		if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			return n, fmt.Errorf("cache expire %s: %w", key, err)
		}
	}
	return n, nil
}

func (c *Cache) KeysByPattern(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cache scan %s: %w", pattern, err)
	}
	return keys, nil
}

// DelByPattern removes every key matching pattern and returns how many went.
func (c *Cache) DelByPattern(ctx context.Context, pattern string) (int, error) {
	keys, err := c.KeysByPattern(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if err := c.Del(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.rdb.TTL(ctx, key).Result()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// LPushTrimmed appends an entry to the bounded list at key, keeping only the
// most recent limit entries.
func (c *Cache) LPushTrimmed(ctx context.Context, key, value string, limit int64, ttl time.Duration) error {
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, key, value)
	pipe.LTrim(ctx, key, 0, limit-1)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache lpush %s: %w", key, err)
	}
	return nil
}

func (c *Cache) LRange(ctx context.Context, key string, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = -1
	} else {
		limit--
	}
	vals, err := c.rdb.LRange(ctx, key, 0, limit).Result()
	if err != nil {
		return nil, fmt.Errorf("cache lrange %s: %w", key, err)
	}
	return vals, nil
}

package cache

import (
	"context"
	"fmt"
	"time"
)

// Lock is a distributed mutual-exclusion primitive built on conditional set
// with TTL. Workers may run as multiple processes, so in-process mutexes
// cannot guard shared work; the cache is the only coordination point.
type Lock struct {
	cache *Cache
	key   string
	ttl   time.Duration
}

func NewLock(c *Cache, key string, ttl time.Duration) *Lock {
	return &Lock{cache: c, key: key, ttl: ttl}
}

// Acquire returns true when this caller won the lock. A false return with a
// nil error means another holder currently owns it.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.cache.rdb.SetNX(ctx, l.key, "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock acquire %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *Lock) Release(ctx context.Context) error {
	return l.cache.Del(ctx, l.key)
}

// WaitForRelease polls until the holder releases the lock or the timeout
// elapses. It returns true when the lock was observed released; false means
// the wait timed out and the caller should proceed on its failure path
// rather than hang.
func (l *Lock) WaitForRelease(ctx context.Context, timeout, poll time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if _, held := l.cache.Get(ctx, l.key); !held {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

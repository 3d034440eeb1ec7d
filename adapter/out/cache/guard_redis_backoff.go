// Package cache provides backoff window stores.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"guard_server/core/port/out"
	pkgcache "guard_server/pkg/cache"
)

const minTTL = time.Second

// RedisBackoffStore keeps backoff expiries in Redis as unix milliseconds.
// Keys expire on their own once the window closes.
type RedisBackoffStore struct {
	cache *pkgcache.RedisCache
}

var _ out.BackoffStore = (*RedisBackoffStore)(nil)

// NewRedisBackoffStore creates a shared backoff store.
func NewRedisBackoffStore(cache *pkgcache.RedisCache) *RedisBackoffStore {
	return &RedisBackoffStore{cache: cache}
}

func (s *RedisBackoffStore) GetExpiry(ctx context.Context, key string) (time.Time, bool, error) {
	v, ok, err := s.cache.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("backoff key %s: %w", key, err)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *RedisBackoffStore) SetExpiry(ctx context.Context, key string, expiry time.Time, ttl time.Duration) error {
	if ttl < minTTL {
		ttl = minTTL
	}
	return s.cache.Set(ctx, key, strconv.FormatInt(expiry.UnixMilli(), 10), ttl)
}

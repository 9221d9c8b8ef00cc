package store

import (
	"context"
	"sort"

	"github.com/wonny/cyclebot/pkg/redis"
)

// RedisKV is the shared primary tier when Redis is enabled
type RedisKV struct {
	cache *redis.Cache
}

// NewRedisKV wraps a namespaced cache; the cache must be enabled
func NewRedisKV(cache *redis.Cache) (*RedisKV, error) {
	if !cache.Enabled() {
		return nil, redis.ErrDisabled
	}
	return &RedisKV{cache: cache}, nil
}

func (r *RedisKV) Name() string { return "redis" }

func (r *RedisKV) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	data, found, err := r.cache.GetRaw(ctx, namespace, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return data, nil
}

func (r *RedisKV) Set(ctx context.Context, namespace, key string, value []byte) error {
	return r.cache.SetRaw(ctx, namespace, key, value, 0)
}

func (r *RedisKV) Delete(ctx context.Context, namespace, key string) error {
	return r.cache.Delete(ctx, namespace, key)
}

func (r *RedisKV) Keys(ctx context.Context, namespace string) ([]string, error) {
	keys, err := r.cache.Keys(ctx, namespace)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op; the redis client is owned by the caller
func (r *RedisKV) Close() error { return nil }

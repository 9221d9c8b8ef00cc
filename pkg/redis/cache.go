package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrDisabled is returned by raw accessors when Redis is turned off
var ErrDisabled = errors.New("redis disabled")

// Cache provides namespaced value storage on top of the client
// ⭐ SSOT: 키 규칙은 여기서만 ({prefix}:{namespace}:{key})
type Cache struct {
	client *Client
	prefix string
}

// NewCache creates a new cache helper
func NewCache(client *Client, prefix string) *Cache {
	return &Cache{
		client: client,
		prefix: prefix,
	}
}

// Key builds the full redis key
func (c *Cache) Key(namespace, key string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, namespace, key)
}

// Enabled reports whether reads and writes reach Redis
func (c *Cache) Enabled() bool {
	return c.client.Enabled()
}

// GetRaw returns the stored bytes; found is false on a miss
func (c *Cache) GetRaw(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	if !c.client.Enabled() {
		return nil, false, ErrDisabled
	}

	data, err := c.client.Redis().Get(ctx, c.Key(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}
	return data, true, nil
}

// SetRaw stores bytes; ttl 0 keeps the key forever
func (c *Cache) SetRaw(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if !c.client.Enabled() {
		return ErrDisabled
	}
	if err := c.client.Redis().Set(ctx, c.Key(namespace, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Get decodes a JSON value; a miss or disabled cache returns (false, nil)
func (c *Cache) Get(ctx context.Context, namespace, key string, dest interface{}) (bool, error) {
	data, found, err := c.GetRaw(ctx, namespace, key)
	if errors.Is(err, ErrDisabled) {
		return false, nil
	}
	if err != nil || !found {
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache unmarshal failed: %w", err)
	}
	return true, nil
}

// Set stores a JSON value with TTL
func (c *Cache) Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error {
	if !c.client.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal failed: %w", err)
	}
	return c.SetRaw(ctx, namespace, key, data, ttl)
}

// Delete removes a value
func (c *Cache) Delete(ctx context.Context, namespace, key string) error {
	if !c.client.Enabled() {
		return nil
	}
	return c.client.Redis().Del(ctx, c.Key(namespace, key)).Err()
}

// Keys lists the keys of a namespace (without prefix) using SCAN
func (c *Cache) Keys(ctx context.Context, namespace string) ([]string, error) {
	if !c.client.Enabled() {
		return nil, ErrDisabled
	}

	base := fmt.Sprintf("%s:%s:", c.prefix, namespace)
	keys := make([]string, 0)
	iter := c.client.Redis().Scan(ctx, 0, base+"*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), base))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan failed: %w", err)
	}
	return keys, nil
}

// Predefined TTLs
const (
	TTLShort  = 1 * time.Minute // 시세 스냅샷
	TTLMedium = 10 * time.Minute
)

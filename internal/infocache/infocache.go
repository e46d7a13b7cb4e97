package infocache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/therealutkarshpriyadarshi/clipper/internal/metrics"
	"github.com/therealutkarshpriyadarshi/clipper/internal/provider"
)

// Cache memoises provider extraction results in Redis
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client, ttl: ttl}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Key returns the Redis key for a source URL
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "formats:" + hex.EncodeToString(sum[:])
}

// GetInfo returns the memoised extraction for url. A miss returns (nil, nil).
func (c *Cache) GetInfo(ctx context.Context, url string) (*provider.RawInfo, error) {
	var info provider.RawInfo
	found, err := c.GetWithJSON(ctx, Key(url), &info)
	if err != nil {
		return nil, err
	}
	metrics.RecordCacheAccess(metrics.CacheTypeInfo, found)
	if !found {
		return nil, nil
	}
	return &info, nil
}

// SetInfo memoises an extraction result for the configured TTL
func (c *Cache) SetInfo(ctx context.Context, url string, info *provider.RawInfo) error {
	return c.SetWithJSON(ctx, Key(url), info, c.ttl)
}

// DeleteInfo drops the memoised extraction for url
func (c *Cache) DeleteInfo(ctx context.Context, url string) error {
	return c.client.Del(ctx, Key(url)).Err()
}

// SetWithJSON sets a value with JSON marshaling
func (c *Cache) SetWithJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetWithJSON gets a value with JSON unmarshaling and reports whether it was present
func (c *Cache) GetWithJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil // Cache miss
		}
		return false, fmt.Errorf("failed to get value from cache: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal value: %w", err)
	}

	return true, nil
}

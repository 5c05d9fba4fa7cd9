// Package edgecache is a read-through Redis cache for immutable GET
// responses. Population happens off the response path so a cache write
// never delays the client.
package edgecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/ballast/internal/distribution"
	"github.com/lgulliver/ballast/pkg/config"
)

const keyPrefix = "edge:"

// Cache wraps a Redis client as a distribution.ResponseCache.
type Cache struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection.
func New(cfg *config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Lookup returns the cached response for key, or nil on a miss.
func (c *Cache) Lookup(ctx context.Context, key string) (*distribution.CachedResponse, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var resp distribution.CachedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("corrupt cache entry for %s: %w", key, err)
	}
	return &resp, nil
}

// Store writes the response into the cache in the background.
func (c *Cache) Store(key string, resp *distribution.CachedResponse, ttl time.Duration) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		data, err := json.Marshal(resp)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to marshal cache entry")
			return
		}
		if err := c.client.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to populate edge cache")
			return
		}
		log.Debug().Str("key", key).Dur("ttl", ttl).Int("size", len(resp.Body)).Msg("edge cache populated")
	}()
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

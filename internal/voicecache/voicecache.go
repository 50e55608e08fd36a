// Package voicecache caches provider voice lists in Redis so the dashboard
// does not hit the ElevenLabs voices endpoint on every page load.
package voicecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nexusvoice/nexusvoice/internal/tts"
)

const defaultTTL = 10 * time.Minute

// Cache is a Redis-backed voice list cache. A nil *Cache is valid and always
// misses, so callers need no special handling when Redis is not configured.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// New connects to Redis and returns a cache. If redisURL is empty, it returns
// nil and caching is disabled.
func New(redisURL string, ttl time.Duration, logger *log.Logger) (*Cache, error) {
	if redisURL == "" {
		return nil, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}, nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

// Get returns the cached voice list for an API key, or ok=false on a miss.
func (c *Cache) Get(ctx context.Context, apiKey string) ([]tts.Voice, bool) {
	if c == nil {
		return nil, false
	}

	data, err := c.rdb.Get(ctx, cacheKey(apiKey)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Printf("voicecache: get failed: %v", err)
		return nil, false
	}

	var voices []tts.Voice
	if err := json.Unmarshal(data, &voices); err != nil {
		c.logger.Printf("voicecache: corrupt entry, dropping: %v", err)
		_ = c.rdb.Del(ctx, cacheKey(apiKey)).Err()
		return nil, false
	}
	return voices, true
}

// Set stores the voice list for an API key.
func (c *Cache) Set(ctx context.Context, apiKey string, voices []tts.Voice) {
	if c == nil {
		return
	}

	data, err := json.Marshal(voices)
	if err != nil {
		c.logger.Printf("voicecache: marshal failed: %v", err)
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(apiKey), data, c.ttl).Err(); err != nil {
		c.logger.Printf("voicecache: set failed: %v", err)
	}
}

// Invalidate drops the cached list for an API key, used after voice cloning.
func (c *Cache) Invalidate(ctx context.Context, apiKey string) {
	if c == nil {
		return
	}
	if err := c.rdb.Del(ctx, cacheKey(apiKey)).Err(); err != nil {
		c.logger.Printf("voicecache: invalidate failed: %v", err)
	}
}

// cacheKey hashes the API key so raw credentials never appear in Redis.
func cacheKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "voices:" + hex.EncodeToString(sum[:8])
}

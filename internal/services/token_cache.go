package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// TokenCache holds the provider bearer token between calls.
type TokenCache interface {
	Get(ctx context.Context) (string, bool)
	Set(ctx context.Context, token string, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

// MemoryTokenCache keeps the token in process memory.
type MemoryTokenCache struct {
	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{now: time.Now}
}

func (c *MemoryTokenCache) Get(_ context.Context) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || !c.now().Before(c.expires) {
		return "", false
	}
	return c.token, true
}

func (c *MemoryTokenCache) Set(_ context.Context, token string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expires = c.now().Add(ttl)
	return nil
}

func (c *MemoryTokenCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expires = time.Time{}
	return nil
}

const providerTokenKey = "provider:token"

// RedisTokenCache shares the token across server instances.
type RedisTokenCache struct {
	rdb *redis.Client
	key string
}

func NewRedisTokenCache(rdb *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{rdb: rdb, key: providerTokenKey}
}

func (c *RedisTokenCache) Get(ctx context.Context) (string, bool) {
	token, err := c.rdb.Get(ctx, c.key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("[PROVIDER] token cache read failed: %v", err)
		}
		return "", false
	}
	return token, token != ""
}

func (c *RedisTokenCache) Set(ctx context.Context, token string, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.key, token, ttl).Err()
}

func (c *RedisTokenCache) Invalidate(ctx context.Context) error {
	return c.rdb.Del(ctx, c.key).Err()
}

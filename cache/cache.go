// Package cache is a TTL-bounded string cache used by the key store and
// the remote object fetcher. It keeps a local in-process
// map with a background sweeper and, when a Redis client is supplied,
// mirrors writes there so cache state survives restarts and is shared
// across worker processes.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type entry struct {
	value   string
	expires time.Time
}

// Cache is a process-local (and optionally Redis-backed) TTL cache of
// string values keyed by string.
type Cache struct {
	mu     sync.RWMutex
	data   map[string]entry
	redis  *redis.Client
	prefix string
}

// New creates a Cache. redisClient may be nil, in which case the cache
// is purely in-process. prefix namespaces keys within a shared Redis
// instance so multiple caches can reuse one client.
func New(prefix string, redisClient *redis.Client) *Cache {
	c := &Cache{
		data:   make(map[string]entry),
		redis:  redisClient,
		prefix: prefix,
	}
	go c.sweepLoop()
	return c
}

func (c *Cache) redisKey(key string) string {
	return c.prefix + ":" + key
}

// Get returns the cached value for key and whether it was present and
// unexpired.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()

	if ok {
		if time.Now().Before(e.expires) {
			return e.value, true
		}
		return "", false
	}

	if c.redis == nil {
		return "", false
	}

	v, err := c.redis.Get(ctx, c.redisKey(key)).Result()
	if err != nil {
		return "", false
	}

	// Backfill the local map with a short TTL; the real expiry lives in
	// Redis, but we still need something local to avoid hammering Redis.
	c.mu.Lock()
	c.data[key] = entry{value: v, expires: time.Now().Add(30 * time.Second)}
	c.mu.Unlock()

	return v, true
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	c.mu.Lock()
	c.data[key] = entry{value: value, expires: time.Now().Add(ttl)}
	c.mu.Unlock()

	if c.redis != nil {
		c.redis.Set(ctx, c.redisKey(key), value, ttl)
	}
}

// Invalidate removes key from the cache, locally and in Redis.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()

	if c.redis != nil {
		c.redis.Del(ctx, c.redisKey(key))
	}
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		c.mu.Lock()
		for k, e := range c.data {
			if now.After(e.expires) {
				delete(c.data, k)
			}
		}
		c.mu.Unlock()
	}
}

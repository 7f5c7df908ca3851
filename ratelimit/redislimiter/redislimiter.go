// Package redislimiter is a Redis-backed Limiter implementing a
// fixed-window counter: INCR the per-IP counter key, setting its TTL
// to the window length on the first increment of each window.
package redislimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/ratelimit"
	"github.com/redis/go-redis/v9"
)

// Limiter is a Redis-backed fixed-window counter shared across
// instances.
type Limiter struct {
	client *redis.Client
}

var _ ratelimit.Limiter = (*Limiter)(nil)

func New(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

func (l *Limiter) Allow(ctx context.Context, ip string) (bool, error) {
	key := fmt.Sprintf("apforge:ratelimit:%s", ip)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, apforgeerr.RemoteFetchFailed("rate limit counter increment failed", err)
	}
	if count == 1 {
		l.client.Expire(ctx, key, ratelimit.WindowSeconds*time.Second)
	}

	return count <= ratelimit.Max, nil
}

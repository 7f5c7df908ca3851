// Package memlimiter is an in-process Limiter implementing a
// fixed-window counter: a per-IP counter incremented on each request,
// with its window deadline set on the first increment of each window;
// count over the maximum rejects. Mirrors ratelimit/redislimiter's
// INCR+EXPIRE shape without Redis.
package memlimiter

import (
	"context"
	"sync"
	"time"

	"github.com/deemkeen/apforge/ratelimit"
)

type entry struct {
	count      int
	windowEnds time.Time
}

// Limiter is an in-process, single-instance rate limiter.
type Limiter struct {
	mu      sync.Mutex
	byIP    map[string]*entry
	window  time.Duration
	maxIdle time.Duration
}

var _ ratelimit.Limiter = (*Limiter)(nil)

// New constructs a Limiter with the shared window/max parameters.
func New() *Limiter {
	l := &Limiter{
		byIP:    make(map[string]*entry),
		window:  ratelimit.WindowSeconds * time.Second,
		maxIdle: ratelimit.WindowSeconds * time.Second,
	}
	go l.sweepLoop()
	return l
}

func (l *Limiter) Allow(ctx context.Context, ip string) (bool, error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byIP[ip]
	if !ok || now.After(e.windowEnds) {
		e = &entry{count: 0, windowEnds: now.Add(l.window)}
		l.byIP[ip] = e
	}
	e.count++

	return e.count <= ratelimit.Max, nil
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-l.maxIdle)
		l.mu.Lock()
		for ip, e := range l.byIP {
			if e.windowEnds.Before(cutoff) {
				delete(l.byIP, ip)
			}
		}
		l.mu.Unlock()
	}
}

// Package ratelimit implements a per-IP fixed-window counter (60s
// window, 100 requests), applied to the inbox and shared-inbox
// admission paths. Two backings are provided: an in-process Limiter
// (ratelimit/memlimiter) for single-instance deployments, and a
// Redis-backed one (ratelimit/redislimiter) for a shared counter
// across instances.
package ratelimit

import "context"

// WindowSeconds and Max are the fixed-window parameters.
const (
	WindowSeconds = 60
	Max           = 100
)

// Limiter decides whether one more request from ip is allowed in the
// current window.
type Limiter interface {
	Allow(ctx context.Context, ip string) (bool, error)
}

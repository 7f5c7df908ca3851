// Package queue defines the job queue abstraction shared by the inbox
// and outbox pipelines: enqueue-by-jobId with dedup, bounded attempts,
// and exponential backoff. Concrete
// implementations live in queue/memqueue (in-process) and
// queue/redisqueue (shared, Redis-backed).
package queue

import (
	"context"
	"time"
)

// Job is one unit of work handed to a worker.
type Job struct {
	JobId    string
	Payload  []byte
	Attempts int
}

// Options configures retry behavior for a single enqueue call.
type Options struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

// DefaultOptions is exponential backoff starting at 1s, max 3 attempts.
var DefaultOptions = Options{MaxAttempts: 3, BaseBackoff: 1 * time.Second}

// Handler processes one job. Returning a transient error
// (apforgeerr.Kind.Transient) causes a retry with backoff; any other
// error or nil acks the job.
type Handler func(ctx context.Context, job Job) error

// Queue is the shared job-queue abstraction: jobs with the same jobId
// already present or completed are dropped.
type Queue interface {
	// Enqueue adds payload under jobId. Returns (accepted=false, nil)
	// if jobId was already enqueued or already completed.
	Enqueue(ctx context.Context, jobId string, payload []byte, opts Options) (accepted bool, err error)

	// Run starts n worker goroutines draining the queue and invoking
	// handler for each job, until ctx is cancelled.
	Run(ctx context.Context, workers int, handler Handler)

	// Close releases any resources held by the queue.
	Close() error
}

// Backoff returns the wait after the given failed attempt (1-indexed)
// before the next one, doubling each time: base, 2*base, 4*base (1s,
// 2s, 4s for a 1s base).
func Backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

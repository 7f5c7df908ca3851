// Package memqueue is an in-process Queue implementation backed by a
// buffered channel and a dedup set: a single process pulls work off an
// internal channel with a fixed worker count, no external broker.
package memqueue

import (
	"context"
	"sync"
	"time"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/queue"
)

type job struct {
	id       string
	payload  []byte
	attempts int
	opts     queue.Options
}

// Queue is an in-process, single-binary job queue.
type Queue struct {
	ch chan job

	mu        sync.Mutex
	seen      map[string]bool // enqueued-or-completed dedup set
	completed map[string]bool

	closed chan struct{}
}

var _ queue.Queue = (*Queue)(nil)

// New creates a memqueue with the given channel buffer size.
func New(bufferSize int) *Queue {
	return &Queue{
		ch:        make(chan job, bufferSize),
		seen:      make(map[string]bool),
		completed: make(map[string]bool),
		closed:    make(chan struct{}),
	}
}

func (q *Queue) Enqueue(ctx context.Context, jobId string, payload []byte, opts queue.Options) (bool, error) {
	q.mu.Lock()
	if q.seen[jobId] || q.completed[jobId] {
		q.mu.Unlock()
		return false, nil
	}
	q.seen[jobId] = true
	q.mu.Unlock()

	if opts.MaxAttempts == 0 {
		opts = queue.DefaultOptions
	}

	select {
	case q.ch <- job{id: jobId, payload: payload, opts: opts}:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (q *Queue) Run(ctx context.Context, workers int, handler queue.Handler) {
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx, handler)
		}()
	}

	go func() {
		<-ctx.Done()
		wg.Wait()
	}()
}

func (q *Queue) work(ctx context.Context, handler queue.Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closed:
			return
		case j, ok := <-q.ch:
			if !ok {
				return
			}
			q.process(ctx, j, handler)
		}
	}
}

func (q *Queue) process(ctx context.Context, j job, handler queue.Handler) {
	j.attempts++
	err := handler(ctx, queue.Job{JobId: j.id, Payload: j.payload, Attempts: j.attempts})

	if err == nil {
		q.mu.Lock()
		q.completed[j.id] = true
		q.mu.Unlock()
		return
	}

	if !apforgeerr.KindOf(err).Transient() || j.attempts >= j.opts.MaxAttempts {
		// Permanent failure or attempts exhausted: ack to the
		// dead-letter path, the caller is expected to have already
		// recorded it via store.RecordDeliveryAttempt.
		q.mu.Lock()
		q.completed[j.id] = true
		q.mu.Unlock()
		return
	}

	backoff := queue.Backoff(j.opts.BaseBackoff, j.attempts)
	go func() {
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		select {
		case q.ch <- j:
		case <-ctx.Done():
		}
	}()
}

func (q *Queue) Close() error {
	close(q.closed)
	return nil
}

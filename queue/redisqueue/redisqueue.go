// Package redisqueue is a Redis-backed Queue implementation: a list
// used as a work queue plus a SETNX-style dedup key per jobId, so that
// multiple worker processes can share one queue.
package redisqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/queue"
	"github.com/redis/go-redis/v9"
)

type envelope struct {
	JobId    string `json:"jobId"`
	Payload  []byte `json:"payload"`
	Attempts int    `json:"attempts"`
	MaxAtt   int    `json:"maxAttempts"`
	BaseMs   int64  `json:"baseBackoffMs"`
}

// Queue is a Redis-list-backed job queue shared across processes.
type Queue struct {
	client  *redis.Client
	name    string
	listKey string
	dedupNS string
}

var _ queue.Queue = (*Queue)(nil)

// New constructs a redisqueue.Queue named name (used to namespace its
// list and dedup keys within a shared Redis instance).
func New(client *redis.Client, name string) *Queue {
	return &Queue{
		client:  client,
		name:    name,
		listKey: "apforge:queue:" + name,
		dedupNS: "apforge:queue:" + name + ":dedup:",
	}
}

// dedupTTL bounds how long a completed/seen jobId is remembered;
// processed_activities (store) is the long-lived source of truth for
// activity-level dedup, this is just queue-level protection.
const dedupTTL = 7 * 24 * time.Hour

func (q *Queue) Enqueue(ctx context.Context, jobId string, payload []byte, opts queue.Options) (bool, error) {
	if opts.MaxAttempts == 0 {
		opts = queue.DefaultOptions
	}

	ok, err := q.client.SetNX(ctx, q.dedupNS+jobId, "1", dedupTTL).Result()
	if err != nil {
		return false, apforgeerr.RemoteFetchFailed("redis dedup set failed", err)
	}
	if !ok {
		return false, nil
	}

	env := envelope{
		JobId:    jobId,
		Payload:  payload,
		Attempts: 0,
		MaxAtt:   opts.MaxAttempts,
		BaseMs:   opts.BaseBackoff.Milliseconds(),
	}
	buf, err := json.Marshal(env)
	if err != nil {
		return false, apforgeerr.Internal("marshaling queue envelope", err)
	}

	if err := q.client.LPush(ctx, q.listKey, buf).Err(); err != nil {
		return false, apforgeerr.RemoteFetchFailed("redis enqueue failed", err)
	}
	return true, nil
}

func (q *Queue) Run(ctx context.Context, workers int, handler queue.Handler) {
	for i := 0; i < workers; i++ {
		go q.work(ctx, handler)
	}
}

func (q *Queue) work(ctx context.Context, handler queue.Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := q.client.BRPop(ctx, 2*time.Second, q.listKey).Result()
		if err != nil {
			continue
		}
		if len(result) != 2 {
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(result[1]), &env); err != nil {
			continue
		}

		q.process(ctx, env, handler)
	}
}

func (q *Queue) process(ctx context.Context, env envelope, handler queue.Handler) {
	env.Attempts++
	err := handler(ctx, queue.Job{JobId: env.JobId, Payload: env.Payload, Attempts: env.Attempts})
	if err == nil {
		return
	}

	if !apforgeerr.KindOf(err).Transient() || env.Attempts >= env.MaxAtt {
		return
	}

	backoff := queue.Backoff(time.Duration(env.BaseMs)*time.Millisecond, env.Attempts)
	go func() {
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		buf, merr := json.Marshal(env)
		if merr != nil {
			return
		}
		q.client.LPush(context.Background(), q.listKey, buf)
	}()
}

func (q *Queue) Close() error { return nil }

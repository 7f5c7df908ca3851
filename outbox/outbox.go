// Package outbox implements the outbound delivery pipeline: resolve
// recipients, collapse them onto shared inboxes where possible, sign
// and POST the activity to each target inbox, with per-target retry
// and dead-letter tracking.
package outbox

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/queue"
	"github.com/google/uuid"
)

// PublicIRI is the special ActivityStreams "Public" collection IRI.
const PublicIRI = "https://www.w3.org/ns/activitystreams#Public"

// Job is the enqueued outbox payload.
type Job struct {
	LocalActorId uuid.UUID              `json:"localActorId"`
	ActivityRaw  map[string]interface{} `json:"activityRaw"`
}

// Outbox implements handlers.OutboxEnqueuer, handing a handler-built
// activity to the outbound queue.
type Outbox struct {
	q queue.Queue
}

func New(q queue.Queue) *Outbox {
	return &Outbox{q: q}
}

// EnqueueOutbound enqueues activityRaw for delivery on behalf of
// localActorId, deduped by the activity's own id when present.
func (o *Outbox) EnqueueOutbound(ctx context.Context, localActorId uuid.UUID, activityRaw map[string]interface{}) error {
	job := Job{LocalActorId: localActorId, ActivityRaw: activityRaw}
	buf, err := json.Marshal(job)
	if err != nil {
		return apforgeerr.Internal("marshaling outbox job", err)
	}

	jobId, _ := activityRaw["id"].(string)
	if jobId == "" {
		jobId = uuid.New().String()
	}

	_, err = o.q.Enqueue(ctx, jobId, buf, queue.DefaultOptions)
	if err != nil {
		return apforgeerr.Internal("enqueueing outbound activity", err)
	}
	return nil
}

// recipientSet collects the union of to/cc/bto/bcc/audience,
// preserving insertion order and deduping.
func recipientSet(activity map[string]interface{}) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(v string) {
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		out = append(out, v)
	}

	for _, field := range []string{"to", "cc", "bto", "bcc", "audience"} {
		switch v := activity[field].(type) {
		case string:
			add(v)
		case []interface{}:
			for _, entry := range v {
				if s, ok := entry.(string); ok {
					add(s)
				}
			}
		}
	}

	return out
}

// hostOf extracts the domain component of an HTTP(S) IRI, used to
// group recipients for shared-inbox collapsing.
func hostOf(iri string) string {
	u, err := url.Parse(iri)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

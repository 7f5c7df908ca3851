// Package inbox implements the inbound acceptance path and worker
// dispatch loop: compaction, actor/object extraction, processed-id
// dedup, enqueue, and per-type handler dispatch.
package inbox

import (
	"context"
	"encoding/json"
	"log"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/jsonld"
	"github.com/deemkeen/apforge/normalize"
	"github.com/deemkeen/apforge/queue"
)

// ProcessedSet is the subset of the activity store needed for
// processed-id dedup.
type ProcessedSet interface {
	IsProcessed(iri string) (bool, error)
	MarkProcessed(iri string) error
}

// QueuedActivity is the job payload enqueued for one inbound activity,
// carrying everything a handler needs.
type QueuedActivity struct {
	ActivityIri           string          `json:"activityIri"`
	ActorIri              string          `json:"actorIri"`
	ObjectIri             string          `json:"objectIri"`
	Type                  string          `json:"type"`
	Raw                   json.RawMessage `json:"raw"`
	LocalRecipientActorId string          `json:"localRecipientActorId,omitempty"`
}

// Acceptor implements the synchronous acceptance path, compaction
// through processed-id insertion. Signature verification and rate
// limiting happen upstream, in the ingress package, before Accept is
// called.
type Acceptor struct {
	store  ProcessedSet
	jsonld *jsonld.Processor
	q      queue.Queue
}

func NewAcceptor(store ProcessedSet, proc *jsonld.Processor, q queue.Queue) *Acceptor {
	return &Acceptor{store: store, jsonld: proc, q: q}
}

// Accept runs the synchronous acceptance path over a raw inbound
// activity body. localRecipientActorId, if non-empty, is the
// local actor this activity was addressed to (known for per-actor
// inbox POSTs, resolved separately for the shared inbox).
func (a *Acceptor) Accept(ctx context.Context, body []byte, localRecipientActorId string) error {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return apforgeerr.BadRequest("inbound activity is not valid JSON", err)
	}

	compacted, err := a.jsonld.Compact(doc, nil)
	if err != nil {
		return err
	}

	activityIri, _ := compacted["id"].(string)
	if activityIri == "" {
		return apforgeerr.BadRequest("activity missing id", nil)
	}
	activityIri = normalize.IRI(activityIri)

	typ, _ := compacted["type"].(string)
	if typ == "" {
		return apforgeerr.BadRequest("activity missing type", nil)
	}

	actorIri, err := extractIri(compacted, "actor", "as:actor")
	if err != nil {
		return err
	}

	objectIri, _ := extractIri(compacted, "object", "as:object")

	alreadyProcessed, err := a.store.IsProcessed(activityIri)
	if err != nil {
		return apforgeerr.Internal("checking processed-activity set", err)
	}
	if alreadyProcessed {
		return nil
	}

	payload := QueuedActivity{
		ActivityIri:           activityIri,
		ActorIri:              actorIri,
		ObjectIri:             objectIri,
		Type:                  typ,
		LocalRecipientActorId: localRecipientActorId,
	}
	if raw, err := json.Marshal(compacted); err == nil {
		payload.Raw = raw
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return apforgeerr.Internal("marshaling queued activity", err)
	}

	accepted, err := a.q.Enqueue(ctx, activityIri, buf, queue.DefaultOptions)
	if err != nil {
		return apforgeerr.Internal("enqueueing inbound activity", err)
	}
	if !accepted {
		return nil
	}

	if err := a.store.MarkProcessed(activityIri); err != nil {
		return apforgeerr.Internal("marking activity processed", err)
	}

	return nil
}

// extractIri pulls an IRI out of doc under any of keys, accepting
// either a bare string value or an object with a string "id" field.
func extractIri(doc map[string]interface{}, keys ...string) (string, error) {
	for _, key := range keys {
		v, present := doc[key]
		if !present {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return normalize.IRI(t), nil
			}
		case map[string]interface{}:
			if id, ok := t["id"].(string); ok && id != "" {
				return normalize.IRI(id), nil
			}
		case []interface{}:
			for _, entry := range t {
				if s, ok := entry.(string); ok && s != "" {
					return normalize.IRI(s), nil
				}
				if m, ok := entry.(map[string]interface{}); ok {
					if id, ok := m["id"].(string); ok && id != "" {
						return normalize.IRI(id), nil
					}
				}
			}
		}
	}
	if len(keys) > 0 && keys[0] == "actor" {
		return "", apforgeerr.BadRequest("activity missing actor", nil)
	}
	return "", nil
}

// Handler processes one dispatched activity. Implementations must be
// idempotent: the same activity IRI may be delivered more than once.
type Handler func(ctx context.Context, job QueuedActivity) error

// Registry maps an activity type string to its handler.
type Registry map[string]Handler

// Worker drains a Queue, dispatching each job by activity type.
type Worker struct {
	registry Registry
}

func NewWorker(registry Registry) *Worker {
	return &Worker{registry: registry}
}

// HandleJob adapts a queue.Job into Registry dispatch, suitable as a
// queue.Handler. Unknown types are logged and acked (return nil).
func (w *Worker) HandleJob(ctx context.Context, job queue.Job) error {
	var qa QueuedActivity
	if err := json.Unmarshal(job.Payload, &qa); err != nil {
		return nil // malformed payload: permanent, ack
	}

	handler, ok := w.registry[qa.Type]
	if !ok {
		log.Printf("inbox: no handler for activity type %q (%s); acking", qa.Type, qa.ActivityIri)
		return nil
	}

	err := handler(ctx, qa)
	if err != nil && !apforgeerr.KindOf(err).Transient() {
		// Permanent handler errors are logged and acked here so the job
		// does not retry forever.
		log.Printf("inbox: permanent error handling %s %s: %v", qa.Type, qa.ActivityIri, err)
		return nil
	}
	return err
}

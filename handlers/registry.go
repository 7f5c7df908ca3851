package handlers

import (
	"context"
	"encoding/json"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/domain"
	"github.com/deemkeen/apforge/inbox"
	"github.com/deemkeen/apforge/normalize"
	"github.com/google/uuid"
)

// NewRegistry builds the full inbox.Registry, binding every recognized
// activity type string to its handler. Types absent here fall through
// to the worker's "log and ack" default. Every handler is wrapped so
// the dispatched activity is recorded with its resolved recipient set
// before type-specific processing; per-actor inbox collections read
// from those rows.
func NewRegistry(d *Deps) inbox.Registry {
	reg := inbox.Registry{
		"Follow":   Follow(d),
		"Accept":   Accept(d),
		"Reject":   Reject(d),
		"Undo":     Undo(d),
		"Create":   Create(d),
		"Update":   Update(d),
		"Delete":   Delete(d),
		"Like":     Like(d),
		"Announce": Announce(d),
		"Block":    Block(d),
		"Flag":     Flag(d),
		"Move":     Move(d),
	}
	for typ, h := range reg {
		reg[typ] = recordInbound(d, h)
	}
	return reg
}

// recordInbound persists the dispatched activity with the recipients it
// was actually delivered to, then invokes h. Upserting by IRI keeps the
// wrapper idempotent across retried jobs.
func recordInbound(d *Deps, h inbox.Handler) inbox.Handler {
	return func(ctx context.Context, job inbox.QueuedActivity) error {
		if err := d.Store.UpsertActivity(&domain.Activity{
			Iri:           job.ActivityIri,
			Type:          job.Type,
			ActorIri:      job.ActorIri,
			ObjectIri:     job.ObjectIri,
			RecipientIris: inboundRecipients(d, job),
			Raw:           string(job.Raw),
		}); err != nil {
			return apforgeerr.Internal("recording inbound activity", err)
		}
		return h(ctx, job)
	}
}

// inboundRecipients resolves who this activity was delivered to: the
// union of its addressing fields, the object when that is a local
// actor (a Follow of alice lands in alice's inbox even with no "to"),
// and the actor whose inbox endpoint received the POST.
func inboundRecipients(d *Deps, job inbox.QueuedActivity) []string {
	seen := map[string]bool{}
	var out []string
	add := func(iri string) {
		iri = normalize.IRI(iri)
		if iri == "" || seen[iri] {
			return
		}
		seen[iri] = true
		out = append(out, iri)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(job.Raw, &raw)
	for _, field := range []string{"to", "cc", "bto", "bcc", "audience"} {
		switch v := raw[field].(type) {
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

	if job.ObjectIri != "" {
		if a, err := d.Store.GetActorByIri(job.ObjectIri); err == nil && a.IsLocal {
			add(a.Iri)
		}
	}

	if job.LocalRecipientActorId != "" {
		if id, err := uuid.Parse(job.LocalRecipientActorId); err == nil {
			if a, err := d.Store.GetActorById(id); err == nil {
				add(a.Iri)
			}
		}
	}

	return out
}

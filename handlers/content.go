package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/domain"
	"github.com/deemkeen/apforge/inbox"
	"github.com/deemkeen/apforge/normalize"
	"github.com/google/uuid"
)

// Create handles an inbound Create: persist the inner object as a
// ContentObject, then best-effort fetch-and-store its
// inReplyTo target when that target isn't already known locally.
func Create(d *Deps) inbox.Handler {
	return func(ctx context.Context, job inbox.QueuedActivity) error {
		inner, ok := innerObjectOf(job)
		if !ok {
			return apforgeerr.BadRequest("Create missing inner object", nil)
		}

		obj := contentObjectFromMap(inner, job.ActorIri)
		if obj.Iri == "" {
			return apforgeerr.BadRequest("Create inner object missing id", nil)
		}

		if err := d.Store.UpsertContentObject(obj); err != nil {
			return apforgeerr.Internal("persisting created object", err)
		}

		if obj.InReplyToIri != "" {
			if _, err := d.Store.GetContentObjectByIri(obj.InReplyToIri); err != nil {
				_, _ = d.Fetcher.FetchAndStoreObject(ctx, obj.InReplyToIri)
			}
		}

		return nil
	}
}

// Update handles an inbound Update: the inner object's attributedTo
// MUST match the Update's actor (else BadRequest); apply the inner
// object's fields over the stored ContentObject, fetching the full
// object first when it isn't already known locally.
func Update(d *Deps) inbox.Handler {
	return func(ctx context.Context, job inbox.QueuedActivity) error {
		inner, ok := innerObjectOf(job)
		if !ok {
			return apforgeerr.BadRequest("Update missing inner object", nil)
		}

		attributedTo, _ := inner["attributedTo"].(string)
		if normalize.IRI(attributedTo) != normalize.IRI(job.ActorIri) {
			return apforgeerr.BadRequest("Update inner object attributedTo does not match actor", nil)
		}

		iri, _ := inner["id"].(string)
		iri = normalize.IRI(iri)
		if iri == "" {
			return apforgeerr.BadRequest("Update inner object missing id", nil)
		}

		if _, err := d.Store.GetContentObjectByIri(iri); err != nil {
			if _, ferr := d.Fetcher.FetchAndStoreObject(ctx, iri); ferr != nil {
				return ferr
			}
		}

		obj := contentObjectFromMap(inner, job.ActorIri)
		now := time.Now()
		obj.ActivityPubUpdatedAt = &now
		if err := d.Store.UpsertContentObject(obj); err != nil {
			return apforgeerr.Internal("persisting updated object", err)
		}
		return nil
	}
}

// Delete soft-deletes the referenced ContentObject, or no-ops when it
// isn't present locally.
func Delete(d *Deps) inbox.Handler {
	return func(ctx context.Context, job inbox.QueuedActivity) error {
		iri := job.ObjectIri
		if iri == "" {
			if inner, ok := innerObjectOf(job); ok {
				iri, _ = inner["id"].(string)
			}
		}
		iri = normalize.IRI(iri)
		if iri == "" {
			return nil
		}
		if _, err := d.Store.GetContentObjectByIri(iri); err != nil {
			return nil
		}
		return d.Store.SoftDeleteContentObject(iri)
	}
}

// innerObjectOf extracts the raw activity's "object" field when it is
// an embedded object. A bare IRI string (or any other shape) yields
// ok=false; nested wrappers are not unwrapped.
func innerObjectOf(job inbox.QueuedActivity) (map[string]interface{}, bool) {
	var raw map[string]interface{}
	_ = json.Unmarshal(job.Raw, &raw)
	if raw == nil {
		return nil, false
	}
	obj, ok := raw["object"].(map[string]interface{})
	return obj, ok
}

func contentObjectFromMap(m map[string]interface{}, fallbackActor string) *domain.ContentObject {
	iri, _ := m["id"].(string)
	typ, _ := m["type"].(string)
	attributedTo, _ := m["attributedTo"].(string)
	if attributedTo == "" {
		attributedTo = fallbackActor
	}
	inReplyTo, _ := m["inReplyTo"].(string)

	raw, _ := json.Marshal(m)

	return &domain.ContentObject{
		Id:              uuid.New(),
		Iri:             normalize.IRI(iri),
		Type:            typ,
		AttributedToIri: normalize.IRI(attributedTo),
		InReplyToIri:    normalize.IRI(inReplyTo),
		Raw:             string(raw),
	}
}

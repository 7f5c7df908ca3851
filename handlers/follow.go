package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/domain"
	"github.com/deemkeen/apforge/inbox"
	"github.com/deemkeen/apforge/normalize"
	"github.com/google/uuid"
)

// Follow handles an inbound Follow activity whose object is a local
// actor IRI: upsert the edge as pending, emit an
// Accept addressed to the follower, then mark the edge accepted.
// Idempotent: a retried Follow with an existing pending edge re-emits
// the Accept rather than erroring.
func Follow(d *Deps) inbox.Handler {
	return func(ctx context.Context, job inbox.QueuedActivity) error {
		followerIri := job.ActorIri
		followedIri := job.ObjectIri
		if followerIri == "" || followedIri == "" {
			return apforgeerr.BadRequest("Follow missing actor or object", nil)
		}

		followed, err := d.Store.GetActorByIri(followedIri)
		if err != nil || !followed.IsLocal {
			return apforgeerr.BadRequest("Follow object is not a local actor", err)
		}

		return d.Store.WithFollowPairLock(ctx, followerIri, followedIri, func() error {
			existing, err := d.Store.GetFollow(followerIri, followedIri)
			isNew := apforgeerr.Is(err, apforgeerr.KindNotFound)
			if err != nil && !isNew {
				return apforgeerr.Internal("loading follow edge", err)
			}

			if isNew {
				if err := d.Store.UpsertFollow(&domain.Follow{
					FollowerIri: followerIri,
					FollowedIri: followedIri,
					Status:      domain.FollowPending,
					ActivityIri: job.ActivityIri,
				}); err != nil {
					return apforgeerr.Internal("persisting follow edge", err)
				}
			} else if existing.Status != domain.FollowPending && existing.Status != domain.FollowAccepted {
				return nil
			}

			if err := emitAccept(ctx, d, followed, followerIri, job); err != nil {
				return err
			}

			return d.Store.UpdateFollowStatus(followerIri, followedIri, domain.FollowAccepted)
		})
	}
}

func emitAccept(ctx context.Context, d *Deps, followed *domain.Actor, followerIri string, job inbox.QueuedActivity) error {
	var rawFollow map[string]interface{}
	_ = json.Unmarshal(job.Raw, &rawFollow)
	if rawFollow == nil {
		rawFollow = map[string]interface{}{
			"id":     job.ActivityIri,
			"type":   "Follow",
			"actor":  followerIri,
			"object": followed.Iri,
		}
	}

	accept := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       fmt.Sprintf("%s/activities/%s", d.InstanceBaseURL, uuid.New().String()),
		"type":     "Accept",
		"actor":    followed.Iri,
		"object":   rawFollow,
		"to":       []string{followerIri},
	}

	return d.Outbox.EnqueueOutbound(ctx, followed.Id, accept)
}

// Accept handles an inbound Accept whose inner object is a Follow
// authored by us: set the matching (we-as-follower, them-as-followed)
// edge to accepted. A missing edge is a warn-and-no-op, not an error.
// An Accept of a Follow targeting the Public collection is a relay
// answering our subscription; the relay row flips to accepted instead.
func Accept(d *Deps) inbox.Handler {
	return func(ctx context.Context, job inbox.QueuedActivity) error {
		followerIri, followedIri, ok := innerFollowPair(job)
		if !ok {
			return nil
		}
		if followedIri == publicIRI {
			return updateRelayStatus(d, job.ActorIri, domain.RelayAccepted)
		}
		return d.Store.WithFollowPairLock(ctx, followerIri, followedIri, func() error {
			if _, err := d.Store.GetFollow(followerIri, followedIri); apforgeerr.Is(err, apforgeerr.KindNotFound) {
				log.Printf("handlers: Accept for unknown follow %s -> %s; ignoring", followerIri, followedIri)
				return nil
			}
			return d.Store.UpdateFollowStatus(followerIri, followedIri, domain.FollowAccepted)
		})
	}
}

// Reject mirrors Accept: sets the matching edge to rejected.
func Reject(d *Deps) inbox.Handler {
	return func(ctx context.Context, job inbox.QueuedActivity) error {
		followerIri, followedIri, ok := innerFollowPair(job)
		if !ok {
			return nil
		}
		if followedIri == publicIRI {
			return updateRelayStatus(d, job.ActorIri, domain.RelayRejected)
		}
		return d.Store.WithFollowPairLock(ctx, followerIri, followedIri, func() error {
			if _, err := d.Store.GetFollow(followerIri, followedIri); apforgeerr.Is(err, apforgeerr.KindNotFound) {
				log.Printf("handlers: Reject for unknown follow %s -> %s; ignoring", followerIri, followedIri)
				return nil
			}
			return d.Store.UpdateFollowStatus(followerIri, followedIri, domain.FollowRejected)
		})
	}
}

const publicIRI = "https://www.w3.org/ns/activitystreams#Public"

func updateRelayStatus(d *Deps, relayIri string, status domain.RelayStatus) error {
	if _, err := d.Store.GetRelayByIri(relayIri); apforgeerr.Is(err, apforgeerr.KindNotFound) {
		return nil
	} else if err != nil {
		return apforgeerr.Internal("loading relay", err)
	}
	return d.Store.UpdateRelayStatus(relayIri, status)
}

// innerFollowPair resolves the (follower, followed) pair from an
// inbound Accept/Reject's inner Follow object: the inner Follow's
// actor is us, its object is the remote actor who accepted/rejected.
// Returns ok=false when the inner object isn't a recognizable Follow.
func innerFollowPair(job inbox.QueuedActivity) (followerIri, followedIri string, ok bool) {
	var raw map[string]interface{}
	_ = json.Unmarshal(job.Raw, &raw)
	if raw == nil {
		return "", "", false
	}

	inner, _ := raw["object"].(map[string]interface{})
	if inner == nil {
		return "", "", false
	}
	if t, _ := inner["type"].(string); t != "Follow" {
		return "", "", false
	}

	innerActor, _ := inner["actor"].(string)
	innerObject, _ := inner["object"].(string)
	if innerActor == "" || innerObject == "" {
		return "", "", false
	}

	return normalize.IRI(innerActor), normalize.IRI(innerObject), true
}

package outbox

import (
	"context"
	"fmt"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/domain"
	"github.com/deemkeen/apforge/normalize"
	"github.com/google/uuid"
)

// RelayStore is the subset of the activity store relay management
// needs.
type RelayStore interface {
	UpsertRelay(r *domain.Relay) error
	GetRelayByIri(iri string) (*domain.Relay, error)
	DeleteRelay(iri string) error
}

// RelayManager subscribes and unsubscribes the instance actor to relay
// peers. A relay is followed like an ordinary actor, with the Public
// collection as the Follow object; the relay answers with Accept, which
// flips the stored row to accepted and opens public fan-out to its
// inbox.
type RelayManager struct {
	store           RelayStore
	outbox          *Outbox
	instanceBaseURL string
}

func NewRelayManager(store RelayStore, ob *Outbox, instanceBaseURL string) *RelayManager {
	return &RelayManager{store: store, outbox: ob, instanceBaseURL: instanceBaseURL}
}

// FollowRelay records the relay as pending and enqueues a Follow of the
// Public collection addressed to it, signed by instanceActor.
func (m *RelayManager) FollowRelay(ctx context.Context, instanceActor *domain.Actor, relayIri, relayInboxIri string) error {
	relayIri = normalize.IRI(relayIri)
	if relayIri == "" || relayInboxIri == "" {
		return apforgeerr.BadRequest("relay iri and inbox are required", nil)
	}

	if err := m.store.UpsertRelay(&domain.Relay{
		Iri:      relayIri,
		InboxIri: normalize.IRI(relayInboxIri),
		Status:   domain.RelayPending,
	}); err != nil {
		return apforgeerr.Internal("persisting relay", err)
	}

	follow := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       fmt.Sprintf("%s/activities/%s", m.instanceBaseURL, uuid.New().String()),
		"type":     "Follow",
		"actor":    instanceActor.Iri,
		"object":   PublicIRI,
		"to":       []string{relayIri},
	}
	return m.outbox.EnqueueOutbound(ctx, instanceActor.Id, follow)
}

// UnfollowRelay enqueues an Undo of the relay Follow and removes the
// stored row. Unknown relays are a no-op.
func (m *RelayManager) UnfollowRelay(ctx context.Context, instanceActor *domain.Actor, relayIri string) error {
	relayIri = normalize.IRI(relayIri)

	if _, err := m.store.GetRelayByIri(relayIri); apforgeerr.Is(err, apforgeerr.KindNotFound) {
		return nil
	} else if err != nil {
		return apforgeerr.Internal("loading relay", err)
	}

	undo := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       fmt.Sprintf("%s/activities/%s", m.instanceBaseURL, uuid.New().String()),
		"type":     "Undo",
		"actor":    instanceActor.Iri,
		"object": map[string]interface{}{
			"type":   "Follow",
			"actor":  instanceActor.Iri,
			"object": PublicIRI,
		},
		"to": []string{relayIri},
	}
	if err := m.outbox.EnqueueOutbound(ctx, instanceActor.Id, undo); err != nil {
		return err
	}

	return m.store.DeleteRelay(relayIri)
}

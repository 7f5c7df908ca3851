package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/domain"
	"github.com/deemkeen/apforge/normalize"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Principal is the authenticated caller identity the external
// bearer-token auth layer produces. This package only consumes it;
// issuing and verifying tokens happens elsewhere.
type Principal struct {
	ActorUsername string
}

const principalContextKey = "apforge.principal"

// PrincipalFromContext reads the Principal an upstream auth middleware
// stored in c. ok is false if no middleware ran.
func PrincipalFromContext(c *gin.Context) (Principal, bool) {
	v, exists := c.Get(principalContextKey)
	if !exists {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// WithPrincipal stores p on c, for use by the external auth middleware.
func WithPrincipal(c *gin.Context, p Principal) {
	c.Set(principalContextKey, p)
}

// outboxEnqueuer is the narrow capability ingress needs from the
// outbox package.
type outboxEnqueuer interface {
	EnqueueOutbound(ctx context.Context, localActorId uuid.UUID, activityRaw map[string]interface{}) error
}

// OutboxDeps bundles the collaborators the local outbox-submission
// endpoint needs.
type OutboxDeps struct {
	Store   interface {
		GetActorByUsername(username string) (*domain.Actor, error)
		UpsertActivity(a *domain.Activity) error
		UpsertContentObject(c *domain.ContentObject) error
	}
	Outbox          outboxEnqueuer
	InstanceBaseURL string
}

// SubmitOutbox implements POST /actors/{user}/outbox: requires a
// bearer-token principal whose actor matches {user}. Persists the
// activity locally (and its inner object for Create), then enqueues it
// for delivery.
func (d *OutboxDeps) SubmitOutbox(c *gin.Context) {
	username := c.Param("user")

	principal, ok := PrincipalFromContext(c)
	if !ok || principal.ActorUsername != username {
		writeErr(c, apforgeerr.Unauthorized("caller is not this actor", nil))
		return
	}

	actor, err := d.Store.GetActorByUsername(username)
	if err != nil || !actor.IsLocal {
		writeErr(c, apforgeerr.NotFound("actor not found", err))
		return
	}

	var activityRaw map[string]interface{}
	if err := json.NewDecoder(c.Request.Body).Decode(&activityRaw); err != nil {
		writeErr(c, apforgeerr.BadRequest("malformed activity body", err))
		return
	}

	activityIri, _ := activityRaw["id"].(string)
	if activityIri == "" {
		activityIri = fmt.Sprintf("%s/activities/%s", d.InstanceBaseURL, uuid.New().String())
		activityRaw["id"] = activityIri
	}
	activityRaw["actor"] = actor.Iri

	typ, _ := activityRaw["type"].(string)

	if inner, ok := activityRaw["object"].(map[string]interface{}); ok && typ == "Create" {
		if err := d.persistCreatedObject(inner, actor.Iri); err != nil {
			writeErr(c, err)
			return
		}
	}

	activityRawJSON, _ := json.Marshal(activityRaw)
	if err := d.Store.UpsertActivity(&domain.Activity{
		Id:            uuid.New(),
		Iri:           normalize.IRI(activityIri),
		Type:          typ,
		ActorIri:      actor.Iri,
		RecipientIris: addressedRecipients(activityRaw),
		Raw:           string(activityRawJSON),
		Local:         true,
		Processed:     true,
	}); err != nil {
		writeErr(c, apforgeerr.Internal("persisting outbound activity", err))
		return
	}

	if err := d.Outbox.EnqueueOutbound(c.Request.Context(), actor.Id, activityRaw); err != nil {
		writeErr(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

// addressedRecipients collects the union of the activity's addressing
// fields, normalized and deduped.
func addressedRecipients(activity map[string]interface{}) []string {
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

func (d *OutboxDeps) persistCreatedObject(inner map[string]interface{}, actorIri string) error {
	iri, _ := inner["id"].(string)
	if iri == "" {
		iri = fmt.Sprintf("object-%s", uuid.New().String())
		inner["id"] = iri
	}
	typ, _ := inner["type"].(string)
	inReplyTo, _ := inner["inReplyTo"].(string)

	raw, _ := json.Marshal(inner)

	return d.Store.UpsertContentObject(&domain.ContentObject{
		Id:              uuid.New(),
		Iri:             normalize.IRI(iri),
		Type:            typ,
		AttributedToIri: actorIri,
		InReplyToIri:    normalize.IRI(inReplyTo),
		Raw:             string(raw),
		CreatedAt:       time.Now(),
	})
}

// RegisterOutboxRoute wires POST /actors/{user}/outbox onto router.
func (d *OutboxDeps) RegisterOutboxRoute(router *gin.Engine) {
	router.POST("/actors/:user/outbox", d.SubmitOutbox)
}

package discovery

import (
	"net/http"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/gin-gonic/gin"
)

const activityJSONContentType = `application/activity+json; charset=utf-8`

// ActorProfile implements GET /actors/{user}: renders the actor as an
// ActivityStreams Person.
func (d *Deps) ActorProfile(c *gin.Context) {
	username := c.Param("user")

	actor, err := d.Store.GetActorByUsername(username)
	if err != nil {
		writeErr(c, apforgeerr.NotFound("actor not found", err))
		return
	}

	doc := gin.H{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                actor.Iri,
		"type":              "Person",
		"preferredUsername": actor.PreferredUsername,
		"name":              actor.DisplayName,
		"summary":           actor.Summary,
		"inbox":             actor.InboxIri,
		"outbox":            actor.OutboxIri,
		"followers":         actor.FollowersIri,
		"following":         actor.FollowingIri,
		"liked":             actor.LikedIri,
		"publicKey": gin.H{
			"id":           actor.Iri + "#main-key",
			"owner":        actor.Iri,
			"publicKeyPem": actor.PublicKeyPem,
		},
	}
	if actor.SharedInboxIri != "" {
		doc["endpoints"] = gin.H{"sharedInbox": actor.SharedInboxIri}
	}

	c.Header("Content-Type", activityJSONContentType)
	c.JSON(http.StatusOK, doc)
}

package discovery

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/httpsig"
	"github.com/deemkeen/apforge/store"
	"github.com/gin-gonic/gin"
)

// orderedCollectionPage is the OrderedCollectionPage response shape:
// items are bare IRI strings, not embedded objects.
type orderedCollectionPage struct {
	Context      string   `json:"@context"`
	Id           string   `json:"id"`
	Type         string   `json:"type"`
	TotalItems   int      `json:"totalItems"`
	OrderedItems []string `json:"orderedItems"`
}

func (d *Deps) writeCollectionPage(c *gin.Context, collectionURL string, items []string, total int) {
	c.Header("Content-Type", activityJSONContentType)
	c.JSON(http.StatusOK, orderedCollectionPage{
		Context:      "https://www.w3.org/ns/activitystreams",
		Id:           collectionURL,
		Type:         "OrderedCollectionPage",
		TotalItems:   total,
		OrderedItems: items,
	})
}

// Followers implements GET /actors/{user}/followers.
func (d *Deps) Followers(c *gin.Context) {
	d.servePublicEdgeCollection(c, "followers", func(actorIri string, page store.Page) ([]string, int, error) {
		return d.Store.ListFollowerIris(actorIri, page)
	})
}

// Following implements GET /actors/{user}/following.
func (d *Deps) Following(c *gin.Context) {
	d.servePublicEdgeCollection(c, "following", func(actorIri string, page store.Page) ([]string, int, error) {
		return d.Store.ListFollowingIris(actorIri, page)
	})
}

// Liked implements GET /actors/{user}/liked.
func (d *Deps) Liked(c *gin.Context) {
	d.servePublicEdgeCollection(c, "liked", func(actorIri string, page store.Page) ([]string, int, error) {
		return d.Store.ListLikedIris(actorIri, page)
	})
}

// Outbox implements GET /actors/{user}/outbox.
func (d *Deps) Outbox(c *gin.Context) {
	d.servePublicEdgeCollection(c, "outbox", func(actorIri string, page store.Page) ([]string, int, error) {
		return d.Store.ListOutboxIris(actorIri, page)
	})
}

func (d *Deps) servePublicEdgeCollection(c *gin.Context, name string, list func(actorIri string, page store.Page) ([]string, int, error)) {
	username := c.Param("user")
	actor, err := d.Store.GetActorByUsername(username)
	if err != nil {
		writeErr(c, apforgeerr.NotFound("actor not found", err))
		return
	}

	items, total, err := list(actor.Iri, pageFromQuery(c))
	if err != nil {
		writeErr(c, apforgeerr.Internal("listing collection", err))
		return
	}

	collectionURL := fmt.Sprintf("%s/%s", actorURL(d.InstanceBaseURL, username), name)
	d.writeCollectionPage(c, collectionURL, items, total)
}

// Inbox implements GET /actors/{user}/inbox, owner-only: the requester
// must present a valid HTTP Signature whose keyId resolves to the same
// actor as {user}.
func (d *Deps) Inbox(c *gin.Context) {
	username := c.Param("user")
	actor, err := d.Store.GetActorByUsername(username)
	if err != nil {
		writeErr(c, apforgeerr.NotFound("actor not found", err))
		return
	}

	body, _ := io.ReadAll(c.Request.Body)

	keyId, err := httpsig.Verify(c.Request.Context(), c.Request, body, d.KeyResolver)
	if err != nil {
		writeErr(c, apforgeerr.Unauthorized("inbox collection requires the owner's signature", err))
		return
	}

	requesterIri := keyId
	if idx := strings.IndexByte(keyId, '#'); idx != -1 {
		requesterIri = keyId[:idx]
	}
	if requesterIri != actor.Iri {
		writeErr(c, apforgeerr.Unauthorized("requester is not the inbox owner", nil))
		return
	}

	items, total, err := d.Store.ListInboxIris(actor.Iri, pageFromQuery(c))
	if err != nil {
		writeErr(c, apforgeerr.Internal("listing inbox collection", err))
		return
	}

	collectionURL := fmt.Sprintf("%s/inbox", actorURL(d.InstanceBaseURL, username))
	d.writeCollectionPage(c, collectionURL, items, total)
}


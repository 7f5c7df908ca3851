// Package ingress composes the HTTP admission guards for the inbox
// endpoints: rate limiter, then signature verification, then JSON-LD
// compaction (the last step runs inside inbox.Acceptor.Accept).
package ingress

import (
	"io"
	"net/http"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/httpsig"
	"github.com/deemkeen/apforge/inbox"
	"github.com/deemkeen/apforge/store"
	"github.com/gin-gonic/gin"
)

// Deps bundles the collaborators the inbox admission handlers need.
type Deps struct {
	Store       store.Store
	Acceptor    *inbox.Acceptor
	KeyResolver httpsig.PublicKeyResolver
}

// SharedInbox implements POST /inbox: the instance-wide shared inbox,
// with no single addressed local recipient.
func (d *Deps) SharedInbox(c *gin.Context) {
	d.handleInbound(c, "")
}

// ActorInbox implements POST /actors/{user}/inbox.
func (d *Deps) ActorInbox(c *gin.Context) {
	username := c.Param("user")
	actor, err := d.Store.GetActorByUsername(username)
	if err != nil || !actor.IsLocal {
		writeErr(c, apforgeerr.NotFound("actor not found", err))
		return
	}
	d.handleInbound(c, actor.Id.String())
}

func (d *Deps) handleInbound(c *gin.Context, localRecipientActorId string) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 5*1024*1024))
	if err != nil {
		writeErr(c, apforgeerr.BadRequest("reading request body", err))
		return
	}

	if _, err := httpsig.Verify(c.Request.Context(), c.Request, body, d.KeyResolver); err != nil {
		writeErr(c, err)
		return
	}

	if err := d.Acceptor.Accept(c.Request.Context(), body, localRecipientActorId); err != nil {
		writeErr(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

// writeErr keeps inbox rejections terse: status and kind only, no
// internal detail.
func writeErr(c *gin.Context, err error) {
	kind := apforgeerr.KindOf(err)
	c.JSON(kind.StatusCode(), gin.H{"statusCode": kind.StatusCode(), "message": kind.String()})
}

package discovery

import (
	"net/http"
	"strings"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/gin-gonic/gin"
)

// webfingerLink is one entry in a JRD's links array.
type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// webfingerDoc is the JRD response document.
type webfingerDoc struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases"`
	Links   []webfingerLink `json:"links"`
}

// WebFinger implements GET /.well-known/webfinger.
func (d *Deps) WebFinger(c *gin.Context) {
	resource := c.Query("resource")
	if !strings.HasPrefix(resource, "acct:") {
		writeErr(c, apforgeerr.BadRequest("resource must be an acct: URI", nil))
		return
	}

	acct := strings.TrimPrefix(resource, "acct:")
	at := strings.LastIndexByte(acct, '@')
	if at < 0 {
		writeErr(c, apforgeerr.BadRequest("malformed acct resource", nil))
		return
	}
	username, host := acct[:at], acct[at+1:]

	if !strings.EqualFold(host, d.InstanceHost) {
		writeErr(c, apforgeerr.NotFound("resource host is not this instance", nil))
		return
	}

	actor, err := d.Store.GetActorByUsername(username)
	if err != nil {
		writeErr(c, apforgeerr.NotFound("actor not found", err))
		return
	}

	doc := webfingerDoc{
		Subject: resource,
		Aliases: []string{actor.Iri},
		Links: []webfingerLink{
			{Rel: "self", Type: "application/activity+json", Href: actor.Iri},
			{Rel: "http://webfinger.net/rel/profile-page", Type: "text/html", Href: actor.Iri},
		},
	}

	c.Header("Content-Type", `application/jrd+json; charset=utf-8`)
	c.JSON(http.StatusOK, doc)
}

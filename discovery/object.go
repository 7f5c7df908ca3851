package discovery

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/gin-gonic/gin"
)

// Object implements GET /objects/{iri}: returns the stored JSON-LD for
// a content object in the store, a 410 Tombstone for a soft-deleted
// one, and NotFound when no row exists. {iri} is the percent-encoded
// full object IRI.
func (d *Deps) Object(c *gin.Context) {
	encoded := c.Param("iri")
	iri, err := url.PathUnescape(encoded)
	if err != nil {
		writeErr(c, apforgeerr.BadRequest("malformed object iri", err))
		return
	}

	obj, err := d.Store.GetContentObjectByIri(iri)
	if err != nil {
		writeErr(c, apforgeerr.NotFound("object not found", err))
		return
	}
	if obj.IsTombstone() {
		c.Header("Content-Type", activityJSONContentType)
		c.JSON(http.StatusGone, gin.H{
			"@context": "https://www.w3.org/ns/activitystreams",
			"id":       obj.Iri,
			"type":     "Tombstone",
		})
		return
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(obj.Raw), &raw); err != nil {
		writeErr(c, apforgeerr.Internal("decoding stored object", err))
		return
	}

	c.Header("Content-Type", activityJSONContentType)
	c.JSON(http.StatusOK, raw)
}

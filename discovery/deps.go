// Package discovery implements the federation discovery surface:
// WebFinger, NodeInfo, actor profiles, paginated collections, and
// object dereference, served as gin-gonic handlers.
package discovery

import (
	"strconv"
	"strings"
	"time"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/httpsig"
	"github.com/deemkeen/apforge/store"
	"github.com/gin-gonic/gin"
)

// Deps bundles the collaborators discovery handlers need.
type Deps struct {
	Store           store.Store
	InstanceBaseURL string
	InstanceHost    string
	KeyResolver     httpsig.PublicKeyResolver
}

func pageFromQuery(c *gin.Context) store.Page {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("perPage", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return store.Page{Page: page, PerPage: perPage}
}

// writeErr renders the standard JSON error envelope for the discovery
// surface: statusCode, message, path, timestamp.
func writeErr(c *gin.Context, err error) {
	kind := apforgeerr.KindOf(err)
	c.JSON(kind.StatusCode(), gin.H{
		"statusCode": kind.StatusCode(),
		"message":    kind.String(),
		"path":       c.Request.URL.Path,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func actorURL(base, username string) string {
	return strings.TrimRight(base, "/") + "/actors/" + username
}

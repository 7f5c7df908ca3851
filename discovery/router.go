package discovery

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires the discovery endpoints onto router. Ingress
// guards for the inbox POST endpoints are registered separately by the
// ingress package.
func (d *Deps) RegisterRoutes(router *gin.Engine) {
	// Object IRIs are percent-encoded as a single path segment and may
	// contain %2F; match against the raw (still-encoded) path so the
	// encoded slash doesn't get treated as a path separator.
	router.UseRawPath = true

	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.GET("/.well-known/webfinger", d.WebFinger)
	router.GET("/.well-known/nodeinfo", d.WellKnownNodeinfo)
	router.GET("/nodeinfo/1.0", d.NodeinfoV1)
	router.GET("/nodeinfo/2.0", d.NodeinfoV2)

	actors := router.Group("/actors/:user")
	actors.GET("", d.ActorProfile)
	actors.GET("/followers", d.Followers)
	actors.GET("/following", d.Following)
	actors.GET("/liked", d.Liked)
	actors.GET("/outbox", d.Outbox)
	actors.GET("/inbox", d.Inbox)

	router.GET("/objects/:iri", d.Object)
}

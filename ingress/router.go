package ingress

import (
	"github.com/deemkeen/apforge/ratelimit"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires the inbox admission endpoints behind the rate
// limiter middleware: the rate limiter runs before signature
// verification, which handleInbound performs.
func (d *Deps) RegisterRoutes(router *gin.Engine, limiter ratelimit.Limiter) {
	guarded := router.Group("/")
	guarded.Use(ratelimit.Middleware(limiter))

	guarded.POST("/inbox", d.SharedInbox)
	guarded.POST("/actors/:user/inbox", d.ActorInbox)
}

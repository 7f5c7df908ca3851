package ratelimit

import (
	"log"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/gin-gonic/gin"
)

// Middleware applies l to each request's client IP. A request whose IP
// can't be determined bypasses the limiter (logged as a warning)
// rather than being rejected.
func Middleware(l Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			log.Println("rate limiter: request IP not determinable, bypassing")
			c.Next()
			return
		}

		allowed, err := l.Allow(c.Request.Context(), ip)
		if err != nil {
			log.Printf("rate limiter: backend error, allowing request through: %v", err)
			c.Next()
			return
		}

		if !allowed {
			kind := apforgeerr.KindTooManyRequests
			c.AbortWithStatusJSON(kind.StatusCode(), gin.H{"error": kind.String(), "message": "rate limit exceeded"})
			return
		}

		c.Next()
	}
}

package middleware

import (
	"net/http"
	"strings"

	"gpuindex/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ContextKeyCaller is set on authenticated requests and names the caller in
// operator actions
const ContextKeyCaller = "caller"

// APIKey guards ops routes with a static key sent as "Authorization: Bearer <key>"
// or "X-API-Key". An empty key disables the check.
func APIKey(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expected == "" {
			c.Set(ContextKeyCaller, "anonymous")
			c.Next()
			return
		}

		token := c.GetHeader("X-API-Key")
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		// websocket clients cannot set headers from browsers
		if token == "" {
			token = c.Query("api_key")
		}

		if token != expected {
			logger.WarnCtx(c.Request.Context(), "unauthorized ops request from %s, invalid API key", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(ContextKeyCaller, "api-key")
		c.Next()
	}
}

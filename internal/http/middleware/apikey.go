package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKey gates admin-only endpoints behind a static key, enforced only
// when the deployment enables it — local/dev setups can leave it off.
func APIKey(expected string, enforce bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enforce {
			c.Next()
			return
		}
		if c.GetHeader("X-Api-Key") != expected || expected == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}

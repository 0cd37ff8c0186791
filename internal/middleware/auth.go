package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// TokenHeader carries the shared secret of the local control API.
const TokenHeader = "X-Client-Token"

// ControlTokenMiddleware rejects requests whose X-Client-Token does not match
// token. An empty token disables the check.
func ControlTokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		header := c.GetHeader(TokenHeader)
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing client token"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(header), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid client token"})
			return
		}
		c.Next()
	}
}

package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"instacares-notify/internal/common"

	"github.com/gin-gonic/gin"
)

// Auth returns middleware that validates the caller's API key against the
// configured keys. The key is read from X-API-Key or an Authorization
// bearer token. This is service-to-service authentication, not JWT-based.
func Auth(validKeys []string) gin.HandlerFunc {
	if len(validKeys) == 0 {
		slog.Warn("no API keys configured: every authenticated route will reject requests")
	}

	return func(c *gin.Context) {
		apiKey := apiKeyFrom(c)
		if apiKey == "" {
			common.HandleError(c, common.NewUnauthorizedError("missing API key"))
			c.Abort()
			return
		}

		if !isValidKey(apiKey, validKeys) {
			common.Error(c, http.StatusUnauthorized, "invalid API key")
			c.Abort()
			return
		}

		c.Next()
	}
}

func apiKeyFrom(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// isValidKey checks the provided key against the list of valid keys using constant-time comparison.
func isValidKey(key string, validKeys []string) bool {
	for _, valid := range validKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}

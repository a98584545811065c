// Package auth derives storage-safe owner keys from authenticated
// identities. The raw identity never reaches a table or a queue; only
// the derived token does.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"
)

const ownerKeyContextKey = "auth.ownerKey"

// DeriveOwnerKey returns a non-reversible token for the given subject:
// hex(HMAC-SHA256(secret, subject)).
func DeriveOwnerKey(secret, subject string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(subject))
	return hex.EncodeToString(mac.Sum(nil))
}

// OwnerKeyMiddleware resolves the caller's owner key from the
// authenticated subject header set by the upstream authorizer and
// stashes it on the gin context. Requests without a subject are
// rejected before any handler runs.
func OwnerKeyMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.GetHeader("X-Client-Id")
		if subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_client_id"})
			return
		}
		c.Set(ownerKeyContextKey, DeriveOwnerKey(secret, subject))
		c.Next()
	}
}

// OwnerKey returns the derived owner key for the current request, or ""
// when the middleware did not run.
func OwnerKey(c *gin.Context) string {
	return c.GetString(ownerKeyContextKey)
}

package middleware

import (
	"crypto/sha256"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AdminMiddleware guards destructive endpoints with a static API key. Only a
// bcrypt hash of the key is kept in memory.
type AdminMiddleware struct {
	keyHash []byte
}

// NewAdminMiddleware hashes apiKey with the given bcrypt cost. An empty key
// yields a middleware that rejects every request.
func NewAdminMiddleware(apiKey string, cost int) (*AdminMiddleware, error) {
	if apiKey == "" {
		return &AdminMiddleware{}, nil
	}
	hash, err := bcrypt.GenerateFromPassword(digest(apiKey), cost)
	if err != nil {
		return nil, err
	}
	return &AdminMiddleware{keyHash: hash}, nil
}

// digest pre-hashes the key so keys longer than bcrypt's 72-byte limit are
// still compared in full.
func digest(key string) []byte {
	sum := sha256.Sum256([]byte(key))
	return sum[:]
}

// RequireAdminAuth accepts the key as a Bearer token or in X-API-Key.
func (am *AdminMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if key == "" {
			key, _ = bearerToken(c.GetHeader("Authorization"))
		}
		if !am.ValidateAdminKey(key) {
			abortUnauthorized(c, "Valid admin API key required for this endpoint")
			return
		}
		c.Next()
	}
}

// ValidateAdminKey validates an admin API key.
func (am *AdminMiddleware) ValidateAdminKey(key string) bool {
	if key == "" || len(am.keyHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(am.keyHash, digest(key)) == nil
}

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UserIDKey is the gin context key carrying the resolved caller identity
const UserIDKey = "user_id"

// Identity resolves the caller from the X-User-ID header set by the
// platform's auth gateway. Authentication itself happens upstream; this
// service only consumes the resolved identity.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-User-ID")
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
			return
		}

		userID, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid caller identity"})
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// CallerID returns the resolved caller identity from the request context
func CallerID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(UserIDKey); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

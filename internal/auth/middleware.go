package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware rejects requests without a valid admin session cookie.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(sessionCookieName)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Missing session token"})
			c.Abort()
			return
		}

		if !validSession(token) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid session token"})
			c.Abort()
			return
		}
		c.Next()
	}
}

package httpapi

import (
	"net/http"
	"strings"
	"time"

	"dialdesk/internal/auth"

	"github.com/gin-gonic/gin"
)

// RealtimeAuth authenticates the websocket upgrade request. Browsers cannot
// set headers on websocket connections, so the access token is also accepted
// as a query parameter.
func RealtimeAuth(m *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := c.Query("token")
		if tok == "" {
			raw := strings.TrimSpace(c.GetHeader("Authorization"))
			tok = strings.TrimPrefix(raw, "Bearer ")
		}
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := m.Verify(tok, auth.TokenTypeAccess, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)
		c.Set("role", claims.Role)
		c.Next()
	}
}

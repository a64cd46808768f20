package rbac

import (
	"net/http"

	"dialdesk/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireAdmin gates admin-only endpoints. Ownership checks on individual
// call records are enforced in the calls service, not here.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if !IsAdmin(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aura-market/backend/internal/models"
	"github.com/aura-market/backend/pkg/response"
)

// RequireRole returns a middleware that allows only the given roles.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{})
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		val, ok := c.Get(ContextIdentity)
		if !ok {
			response.Abort(c, http.StatusUnauthorized, "missing user context")
			return
		}
		id, _ := val.(models.Identity)
		if _, ok := allowed[id.Role]; !ok {
			response.Abort(c, http.StatusForbidden, "insufficient permissions")
			return
		}
		c.Next()
	}
}

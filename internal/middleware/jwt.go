package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-market/backend/internal/auth"
	"github.com/aura-market/backend/internal/models"
	"github.com/aura-market/backend/pkg/response"
)

const (
	// ContextIdentity is the key for the caller's models.Identity in gin context.
	ContextIdentity = "identity"
)

// JWT returns a middleware that validates the bearer token and stores the caller identity.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Abort(c, http.StatusUnauthorized, "missing authorization header")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Abort(c, http.StatusUnauthorized, "invalid authorization header")
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Abort(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		c.Set(ContextIdentity, claims.Identity())
		c.Next()
	}
}

// CurrentIdentity returns the identity set by JWT.
func CurrentIdentity(c *gin.Context) models.Identity {
	return c.MustGet(ContextIdentity).(models.Identity)
}

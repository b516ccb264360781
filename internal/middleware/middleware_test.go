package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-market/backend/internal/auth"
	"github.com/aura-market/backend/internal/models"
)

func newRouter(jwtService *auth.JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("http://shop.local"), Logger(zap.NewNop()))
	api := r.Group("/api", JWT(jwtService))
	api.POST("/sessions", RequireRole(models.RoleSeller), func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"user": CurrentIdentity(c).UserID})
	})
	return r
}

func TestJWTAndRole(t *testing.T) {
	jwtService := auth.NewJWTService("secret", 1)
	r := newRouter(jwtService)

	do := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, do("").Code)
	assert.Equal(t, http.StatusUnauthorized, do("garbage").Code)

	buyer, err := jwtService.Generate(models.Identity{UserID: "b1", Role: models.RoleBuyer})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, do(buyer).Code)

	seller, err := jwtService.Generate(models.Identity{UserID: "s1", Role: models.RoleSeller})
	require.NoError(t, err)
	w := do(seller)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"s1"`)
}

func TestCORS(t *testing.T) {
	r := newRouter(auth.NewJWTService("secret", 1))

	req := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	req.Header.Set("Origin", "http://shop.local")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://shop.local", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))

	req = httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	req.Header.Set("Origin", "http://evil.local")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

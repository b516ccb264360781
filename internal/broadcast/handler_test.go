package broadcast

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/aura-market/backend/internal/middleware"
	"github.com/aura-market/backend/internal/models"
)

func router(h *Handler, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextIdentity, models.Identity{UserID: userID, Role: models.RoleSeller})
	})
	r.PUT("/sessions/:id/featured", h.Set)
	r.DELETE("/sessions/:id/featured", h.Clear)
	return r
}

func TestHandler_SetRequiresOwner(t *testing.T) {
	svc, _, sid := setup(t)
	h := NewHandler(svc, zap.NewNop())
	body := `{"product_id":"p1","name":"Mug","price":1299}`

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/sessions/"+sid.String()+"/featured", strings.NewReader(body))
	router(h, "intruder").ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPut, "/sessions/"+sid.String()+"/featured", strings.NewReader(body))
	router(h, "s1").ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"product_id":"p1"`)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/sessions/"+sid.String()+"/featured", nil)
	router(h, "s1").ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHandler_SetRejectsBadID(t *testing.T) {
	svc, _, _ := setup(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/sessions/nope/featured", strings.NewReader(`{}`))
	router(NewHandler(svc, zap.NewNop()), "s1").ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

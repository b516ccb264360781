package engagement

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-market/backend/internal/apierr"
	"github.com/aura-market/backend/pkg/response"
)

// Handler handles like endpoints.
type Handler struct {
	counter *Counter
	logger  *zap.Logger
}

// NewHandler creates an engagement handler.
func NewHandler(counter *Counter, logger *zap.Logger) *Handler {
	return &Handler{counter: counter, logger: logger}
}

// Like handles POST /sessions/:id/likes.
func (h *Handler) Like(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	n, err := h.counter.Like(c.Request.Context(), sessionID)
	if err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}
	response.OK(c, gin.H{"like_count": n})
}

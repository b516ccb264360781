package presence

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-market/backend/internal/apierr"
	"github.com/aura-market/backend/internal/middleware"
	"github.com/aura-market/backend/internal/models"
	"github.com/aura-market/backend/pkg/response"
)

// SnapshotResponse is the body for GET /sessions/:id/viewers.
type SnapshotResponse struct {
	Count   int             `json:"count"`
	Viewers []models.Viewer `json:"viewers"`
}

// Handler handles presence HTTP endpoints.
type Handler struct {
	tracker *Tracker
	logger  *zap.Logger
}

// NewHandler creates a presence handler.
func NewHandler(tracker *Tracker, logger *zap.Logger) *Handler {
	return &Handler{tracker: tracker, logger: logger}
}

func sessionParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

// Join handles POST /sessions/:id/viewers.
func (h *Handler) Join(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	id := middleware.CurrentIdentity(c)
	v, err := h.tracker.Join(c.Request.Context(), sessionID, id.UserID, id.DisplayName)
	if err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}
	response.OK(c, v)
}

// Leave handles DELETE /sessions/:id/viewers/me.
func (h *Handler) Leave(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	id := middleware.CurrentIdentity(c)
	if err := h.tracker.Leave(c.Request.Context(), sessionID, id.UserID); err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}
	response.NoContent(c)
}

// Heartbeat handles POST /sessions/:id/viewers/me/heartbeat.
func (h *Handler) Heartbeat(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	id := middleware.CurrentIdentity(c)
	if err := h.tracker.Heartbeat(c.Request.Context(), sessionID, id.UserID); err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}
	response.NoContent(c)
}

// List handles GET /sessions/:id/viewers.
func (h *Handler) List(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	set, err := h.tracker.Viewers(c.Request.Context(), sessionID)
	if err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}
	if set == nil {
		set = ViewerSet{}
	}
	response.OK(c, SnapshotResponse{Count: set.Count(), Viewers: set})
}

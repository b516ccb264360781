package sessions

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-market/backend/internal/apierr"
	"github.com/aura-market/backend/internal/middleware"
	"github.com/aura-market/backend/internal/models"
	"github.com/aura-market/backend/pkg/response"
)

// ViewerCounter reports the current audience size of a session.
type ViewerCounter interface {
	Count(ctx context.Context, sessionID uuid.UUID) (int, error)
}

// StartRequest is the body for POST /sessions.
type StartRequest struct {
	Title string `json:"title" binding:"required"`
}

// SessionView is a session with its live audience size.
type SessionView struct {
	*models.LiveSession
	ViewerCount int `json:"viewer_count"`
}

// Handler handles session registry HTTP endpoints.
type Handler struct {
	svc     *Service
	viewers ViewerCounter
	logger  *zap.Logger
}

// NewHandler creates a session handler.
func NewHandler(svc *Service, viewers ViewerCounter, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, viewers: viewers, logger: logger}
}

// Start handles POST /sessions (seller only).
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	id := middleware.CurrentIdentity(c)
	sess, err := h.svc.StartSession(c.Request.Context(), Seller{
		ID:          id.UserID,
		DisplayName: id.DisplayName,
		AvatarRef:   id.AvatarRef,
	}, req.Title)
	if err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}
	response.Created(c, sess)
}

// End handles DELETE /sessions/me (seller only).
func (h *Handler) End(c *gin.Context) {
	id := middleware.CurrentIdentity(c)
	sess, err := h.svc.EndSession(c.Request.Context(), id.UserID)
	if err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}
	response.OK(c, sess)
}

// Mine handles GET /sessions/me (seller only).
func (h *Handler) Mine(c *gin.Context) {
	id := middleware.CurrentIdentity(c)
	sess, err := h.svc.GetActiveSession(c.Request.Context(), id.UserID)
	if err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}
	response.OK(c, sess)
}

// ListActive handles GET /sessions?cursor=&limit=.
func (h *Handler) ListActive(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			response.BadRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	page, err := h.svc.ListActivePage(c.Request.Context(), c.Query("cursor"), limit)
	if err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}
	response.OK(c, page)
}

// GetByID handles GET /sessions/:id.
func (h *Handler) GetByID(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	sess, err := h.svc.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}
	view := SessionView{LiveSession: sess}
	if sess.IsLive() {
		n, err := h.viewers.Count(c.Request.Context(), sessionID)
		if err != nil {
			apierr.Respond(c, h.logger, err)
			return
		}
		view.ViewerCount = n
	}
	response.OK(c, view)
}

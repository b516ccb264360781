package chat

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-market/backend/internal/apierr"
	"github.com/aura-market/backend/internal/middleware"
	"github.com/aura-market/backend/internal/models"
	"github.com/aura-market/backend/pkg/response"
)

// SendRequest is the body for POST /sessions/:id/messages.
type SendRequest struct {
	Text string `json:"text"`
}

// Handler handles chat HTTP endpoints.
type Handler struct {
	channel *Channel
	logger  *zap.Logger
}

// NewHandler creates a chat handler.
func NewHandler(channel *Channel, logger *zap.Logger) *Handler {
	return &Handler{channel: channel, logger: logger}
}

// Send handles POST /sessions/:id/messages.
func (h *Handler) Send(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	id := middleware.CurrentIdentity(c)
	msg, err := h.channel.Send(c.Request.Context(), sessionID, Sender{ID: id.UserID, DisplayName: id.DisplayName}, req.Text)
	if err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}
	response.Created(c, msg)
}

// History handles GET /sessions/:id/messages?after=&limit=.
func (h *Handler) History(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	after, err := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil || after < 0 {
		response.BadRequest(c, "invalid after")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		response.BadRequest(c, "invalid limit")
		return
	}
	list, err := h.channel.History(c.Request.Context(), sessionID, after, limit)
	if err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}
	if list == nil {
		list = []models.ChatMessage{}
	}
	response.OK(c, list)
}

package broadcast

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-market/backend/internal/apierr"
	"github.com/aura-market/backend/internal/middleware"
	"github.com/aura-market/backend/internal/models"
	"github.com/aura-market/backend/pkg/response"
)

// FeatureRequest is the body for PUT /sessions/:id/featured.
type FeatureRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Name      string `json:"name" binding:"required"`
	Price     int64  `json:"price"`
	ImageRef  string `json:"image_ref"`
}

// Handler handles featured product endpoints (owning seller only).
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a broadcast handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) ownedSession(c *gin.Context) (uuid.UUID, bool) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	id := middleware.CurrentIdentity(c)
	if err := h.svc.RequireOwner(c.Request.Context(), sessionID, id.UserID); err != nil {
		apierr.Respond(c, h.logger, err)
		return uuid.Nil, false
	}
	return sessionID, true
}

// Set handles PUT /sessions/:id/featured.
func (h *Handler) Set(c *gin.Context) {
	sessionID, ok := h.ownedSession(c)
	if !ok {
		return
	}
	var req FeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p := models.ProductSummary{ProductID: req.ProductID, Name: req.Name, Price: req.Price, ImageRef: req.ImageRef}
	if err := h.svc.SetFeaturedProduct(c.Request.Context(), sessionID, p); err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}
	response.OK(c, p)
}

// Clear handles DELETE /sessions/:id/featured.
func (h *Handler) Clear(c *gin.Context) {
	sessionID, ok := h.ownedSession(c)
	if !ok {
		return
	}
	if err := h.svc.ClearFeaturedProduct(c.Request.Context(), sessionID); err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}
	response.NoContent(c)
}

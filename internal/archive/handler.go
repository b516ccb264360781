package archive

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-market/backend/internal/apierr"
	"github.com/aura-market/backend/internal/livestore"
	"github.com/aura-market/backend/internal/middleware"
	"github.com/aura-market/backend/internal/models"
	"github.com/aura-market/backend/pkg/response"
)

// Handler serves transcript downloads to the owning seller.
type Handler struct {
	store   livestore.Store
	objects ObjectStore
	logger  *zap.Logger
}

// NewHandler creates a transcript handler.
func NewHandler(store livestore.Store, objects ObjectStore, logger *zap.Logger) *Handler {
	return &Handler{store: store, objects: objects, logger: logger}
}

// Transcript handles GET /sessions/:id/transcript.
func (h *Handler) Transcript(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	ctx := c.Request.Context()
	sess, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}
	if sess.SellerID != middleware.CurrentIdentity(c).UserID {
		apierr.Respond(c, h.logger, models.ErrForbidden)
		return
	}
	if sess.IsLive() {
		response.Conflict(c, "session is still live")
		return
	}
	key := Key(sess)
	ok, err := h.objects.Exists(ctx, key)
	if err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}
	if !ok {
		response.NotFound(c, "transcript not archived yet")
		return
	}
	url, err := h.objects.PresignedDownloadURL(ctx, key)
	if err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}
	response.OK(c, gin.H{"url": url})
}

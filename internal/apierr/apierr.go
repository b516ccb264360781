// Package apierr maps live-core errors onto the HTTP response envelope.
package apierr

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-market/backend/internal/models"
	"github.com/aura-market/backend/pkg/response"
)

// Respond writes the response matching err. Unknown errors are logged and reported as 500.
func Respond(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, models.ErrAlreadyLive):
		response.Conflict(c, err.Error())
	case errors.Is(err, models.ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, models.ErrEmptyMessage),
		errors.Is(err, models.ErrMessageTooLong),
		errors.Is(err, models.ErrInvalidTitle),
		errors.Is(err, models.ErrInvalidProduct),
		errors.Is(err, models.ErrInvalidCursor):
		response.BadRequest(c, err.Error())
	case errors.Is(err, models.ErrStoreUnavailable):
		logger.Warn("store unavailable", zap.String("path", c.FullPath()), zap.Error(err))
		response.ServiceUnavailable(c, "service temporarily unavailable")
	default:
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.Internal(c, "internal error")
	}
}

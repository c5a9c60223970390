package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"support-app/session-service/internal/models"
	"support-app/session-service/internal/utils"
)

// respondWithError maps a service error to a status. Anything that is not a
// known kind is logged and answered with a generic message.
func respondWithError(c *gin.Context, log *utils.Logger, err error) {
	var opErr *models.OpError
	message := err.Error()
	if errors.As(err, &opErr) && opErr.Reason != "" {
		message = opErr.Reason
	}

	switch {
	case errors.Is(err, models.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": message})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, models.ErrBannedUser):
		c.JSON(http.StatusForbidden, gin.H{"error": "user is banned", "code": "banned"})
	case errors.Is(err, models.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
	case errors.Is(err, models.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": message})
	default:
		log.Error("[HTTP] request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": utils.ParseErrors(err)})
}

func identity(c *gin.Context) models.Identity {
	id, _ := utils.CurrentIdentity(c)
	return id
}

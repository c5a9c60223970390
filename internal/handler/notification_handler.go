package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"support-app/session-service/internal/services"
	"support-app/session-service/internal/utils"
)

type NotificationHandler struct {
	fanout *services.FanoutService
	log    *utils.Logger
}

func NewNotificationHandler(fanout *services.FanoutService, log *utils.Logger) *NotificationHandler {
	return &NotificationHandler{fanout: fanout, log: log}
}

type pushTokenInput struct {
	Token string `json:"token" validate:"required,max=4096"`
}

// GetNotifications returns the caller's in-app log, newest first.
func (h *NotificationHandler) GetNotifications(c *gin.Context) {
	list, err := h.fanout.ListNotifications(c.Request.Context(), identity(c).UID)
	if err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	if err := h.fanout.MarkRead(c.Request.Context(), identity(c).UID, c.Param("id")); err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "marked as read"})
}

func (h *NotificationHandler) RegisterPushToken(c *gin.Context) {
	var in pushTokenInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}
	if err := utils.GetValidator().Struct(in); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.fanout.RegisterPushToken(c.Request.Context(), identity(c).UID, in.Token); err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "token registered"})
}

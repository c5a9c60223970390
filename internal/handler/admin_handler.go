package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"support-app/session-service/internal/services"
	"support-app/session-service/internal/utils"
)

// AdminHandler serves routes mounted behind utils.RequireAdmin.
type AdminHandler struct {
	requests *services.RequestService
	thread   *services.ThreadService
	bans     *services.BanService
	perms    *services.PermissionResolver
	log      *utils.Logger
}

func NewAdminHandler(
	requests *services.RequestService,
	thread *services.ThreadService,
	bans *services.BanService,
	perms *services.PermissionResolver,
	log *utils.Logger,
) *AdminHandler {
	return &AdminHandler{requests: requests, thread: thread, bans: bans, perms: perms, log: log}
}

type replyInput struct {
	Text string `json:"text" validate:"required,max=4000"`
}

type reasonInput struct {
	Reason string `json:"reason" validate:"max=200"`
}

func (h *AdminHandler) Pending(c *gin.Context) {
	list, err := h.requests.ListPending(c.Request.Context())
	if err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *AdminHandler) Inbox(c *gin.Context) {
	list, err := h.thread.ListInboxWithOffline(c.Request.Context())
	if err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *AdminHandler) Accept(c *gin.Context) {
	res, err := h.requests.Accept(c.Request.Context(), c.Param("id"), identity(c).UID)
	if err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *AdminHandler) Reject(c *gin.Context) {
	if err := h.requests.Reject(c.Request.Context(), c.Param("id"), identity(c).UID); err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

func (h *AdminHandler) Close(c *gin.Context) {
	var in reasonInput
	if !bindOptional(c, &in) {
		return
	}
	if err := h.requests.Close(c.Request.Context(), c.Param("id"), identity(c).UID, in.Reason); err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

func (h *AdminHandler) Reply(c *gin.Context) {
	var in replyInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}
	if err := utils.GetValidator().Struct(in); err != nil {
		badRequest(c, err)
		return
	}
	msg, err := h.thread.AdminReply(c.Request.Context(), c.Param("id"), identity(c).UID, in.Text)
	if err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *AdminHandler) ClearThread(c *gin.Context) {
	if err := h.thread.ClearThread(c.Request.Context(), c.Param("id")); err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) DeleteMessage(c *gin.Context) {
	if err := h.thread.DeleteMessage(c.Request.Context(), c.Param("id"), c.Param("msgId")); err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) ListBans(c *gin.Context) {
	list, err := h.bans.List(c.Request.Context())
	if err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *AdminHandler) Ban(c *gin.Context) {
	var in reasonInput
	if !bindOptional(c, &in) {
		return
	}
	if err := h.bans.Ban(c.Request.Context(), c.Param("uid"), identity(c).UID, in.Reason); err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) Unban(c *gin.Context) {
	if err := h.bans.Unban(c.Request.Context(), c.Param("uid")); err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) GrantAdmin(c *gin.Context) {
	if err := h.perms.Grant(c.Request.Context(), identity(c), c.Param("uid")); err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) RevokeAdmin(c *gin.Context) {
	if err := h.perms.Revoke(c.Request.Context(), identity(c), c.Param("uid")); err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// bindOptional accepts an empty body.
func bindOptional(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return false
	}
	if err := utils.GetValidator().Struct(dst); err != nil {
		badRequest(c, err)
		return false
	}
	return true
}

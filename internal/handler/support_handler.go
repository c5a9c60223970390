package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"support-app/session-service/internal/models"
	"support-app/session-service/internal/services"
	"support-app/session-service/internal/utils"
)

type SupportHandler struct {
	requests *services.RequestService
	thread   *services.ThreadService
	rooms    *services.RoomService
	perms    *services.PermissionResolver
	log      *utils.Logger
}

func NewSupportHandler(
	requests *services.RequestService,
	thread *services.ThreadService,
	rooms *services.RoomService,
	perms *services.PermissionResolver,
	log *utils.Logger,
) *SupportHandler {
	return &SupportHandler{requests: requests, thread: thread, rooms: rooms, perms: perms, log: log}
}

type createRequestInput struct {
	Type models.RequesterType `json:"type" validate:"omitempty,oneof=guest client"`
	models.Profile
}

type messageInput struct {
	Text     string `json:"text" validate:"required,max=4000"`
	FromName string `json:"from_name" validate:"max=120"`
}

type peerInput struct {
	PeerID string `json:"peer_id" validate:"required,max=200"`
}

func (h *SupportHandler) CreateRequest(c *gin.Context) {
	var in createRequestInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}
	if err := utils.GetValidator().Struct(in); err != nil {
		badRequest(c, err)
		return
	}

	id := identity(c)
	typ := in.Type
	if typ == "" {
		typ = id.RequesterType()
	}
	// an anonymous identity is always a guest
	if id.Anonymous && typ != models.RequesterGuest {
		respondWithError(c, h.log, models.NewOpError("createRequest", "anonymous callers can only file guest requests", models.ErrValidation))
		return
	}
	res, err := h.requests.Create(c.Request.Context(), id, typ, in.Profile)
	if err != nil {
		respondWithError(c, h.log, err)
		return
	}
	status := http.StatusCreated
	if res.Reused {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h *SupportHandler) MyRequests(c *gin.Context) {
	list, err := h.requests.ListMine(c.Request.Context(), identity(c).UID)
	if err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *SupportHandler) GetRequest(c *gin.Context) {
	req, ok := h.readable(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *SupportHandler) GetThread(c *gin.Context) {
	req, ok := h.readable(c)
	if !ok {
		return
	}
	list, err := h.thread.ListThread(c.Request.Context(), req.ID)
	if err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// AppendMessage is the requester side of the offline thread.
func (h *SupportHandler) AppendMessage(c *gin.Context) {
	var in messageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}
	if err := utils.GetValidator().Struct(in); err != nil {
		badRequest(c, err)
		return
	}

	id := identity(c)
	req, err := h.requests.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, h.log, err)
		return
	}
	if req.CreatedByUID != id.UID {
		respondWithError(c, h.log, models.ErrPermissionDenied)
		return
	}

	name := in.FromName
	if name == "" {
		name = req.DisplayName
	}
	msg, err := h.thread.Append(c.Request.Context(), req.ID, id.UID, name, in.Text)
	if err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *SupportHandler) GetPeers(c *gin.Context) {
	if !h.participant(c) {
		return
	}
	peers, err := h.rooms.PeerIDs(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, peers)
}

func (h *SupportHandler) SetPeer(c *gin.Context) {
	var in peerInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}
	if err := utils.GetValidator().Struct(in); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.rooms.SetPeerID(c.Request.Context(), c.Param("id"), identity(c).UID, in.PeerID); err != nil {
		respondWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "peer registered"})
}

// readable loads the request named by :id if the caller owns it or is an admin.
func (h *SupportHandler) readable(c *gin.Context) (*models.Request, bool) {
	ctx := c.Request.Context()
	id := identity(c)
	req, err := h.requests.Get(ctx, c.Param("id"))
	if err != nil {
		respondWithError(c, h.log, err)
		return nil, false
	}
	if req.CreatedByUID == id.UID {
		return req, true
	}
	isAdmin, err := h.perms.IsAdmin(ctx, id)
	if err != nil {
		respondWithError(c, h.log, err)
		return nil, false
	}
	if !isAdmin {
		respondWithError(c, h.log, models.ErrPermissionDenied)
		return nil, false
	}
	return req, true
}

func (h *SupportHandler) participant(c *gin.Context) bool {
	room, err := h.rooms.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, h.log, err)
		return false
	}
	if !room.IsParticipant(identity(c).UID) {
		respondWithError(c, h.log, models.ErrPermissionDenied)
		return false
	}
	return true
}

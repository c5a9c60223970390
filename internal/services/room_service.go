package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"support-app/session-service/internal/models"
	"support-app/session-service/internal/utils"
)

type RoomService struct {
	rooms    RoomRepository
	log      *utils.Logger
	now      func() time.Time
	newToken func() (string, error)
}

func NewRoomService(rooms RoomRepository, log *utils.Logger) *RoomService {
	return &RoomService{rooms: rooms, log: log, now: defaultNow, newToken: utils.NewRoomToken}
}

// Allocate picks the room identity for a request: the room id is the request
// id, the token is fresh on every call.
func (s *RoomService) Allocate(requestID string) (models.AcceptResult, error) {
	if requestID == "" {
		return models.AcceptResult{}, invalid("openRoom", "requestId is required")
	}
	token, err := s.newToken()
	if err != nil {
		return models.AcceptResult{}, fail("openRoom", "token generation failed", err)
	}
	return models.AcceptResult{RoomID: requestID, RoomToken: token}, nil
}

// Materialize writes an active room for alloc. An earlier room with the same
// id is replaced, peer directory included.
func (s *RoomService) Materialize(ctx context.Context, alloc models.AcceptResult, requestID, adminUID, requesterUID string) error {
	room := &models.Room{
		ID:        alloc.RoomID,
		RequestID: requestID,
		Active:    true,
		CreatedAt: s.now(),
		Participants: map[string]bool{
			adminUID:     true,
			requesterUID: true,
		},
		PeerIDs: map[string]string{},
	}
	if err := s.rooms.Upsert(ctx, room); err != nil {
		return fail("openRoom", "write room failed", err)
	}
	return nil
}

func (s *RoomService) Open(ctx context.Context, requestID, adminUID, requesterUID string) (models.AcceptResult, error) {
	if adminUID == "" || requesterUID == "" {
		return models.AcceptResult{}, invalid("openRoom", "adminUid and requesterUid are required")
	}
	alloc, err := s.Allocate(requestID)
	if err != nil {
		return models.AcceptResult{}, err
	}
	if err := s.Materialize(ctx, alloc, requestID, adminUID, requesterUID); err != nil {
		return models.AcceptResult{}, err
	}
	return alloc, nil
}

// Close deactivates the room and keeps it for history.
func (s *RoomService) Close(ctx context.Context, roomID, by, reason string) error {
	if roomID == "" {
		return invalid("closeRoom", "roomId is required")
	}
	if strings.TrimSpace(reason) == "" {
		reason = models.DefaultEndReason
	}
	if err := s.rooms.Deactivate(ctx, roomID, by, reason, s.now()); err != nil {
		return fail("closeRoom", "deactivate room failed", err)
	}
	return nil
}

func (s *RoomService) Get(ctx context.Context, roomID string) (*models.Room, error) {
	if roomID == "" {
		return nil, invalid("getRoom", "roomId is required")
	}
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, fail("getRoom", "", err)
	}
	return room, nil
}

func (s *RoomService) SetPeerID(ctx context.Context, roomID, uid, peerID string) error {
	const op = "setPeerId"
	if roomID == "" || uid == "" || strings.TrimSpace(peerID) == "" {
		return invalid(op, "roomId, uid and peerId are required")
	}
	if strings.ContainsAny(uid, ".$") {
		return invalid(op, "uid contains reserved characters")
	}
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return fail(op, "", err)
	}
	if !room.IsParticipant(uid) {
		return fail(op, "uid is not a participant", models.ErrPermissionDenied)
	}
	if !room.Active {
		return fail(op, "room is not active", models.ErrInvalidTransition)
	}
	if err := s.rooms.SetPeerID(ctx, roomID, uid, strings.TrimSpace(peerID)); err != nil {
		return fail(op, "write peer id failed", err)
	}
	return nil
}

// PeerIDs returns the directory of an active room. An inactive room yields an
// empty directory.
func (s *RoomService) PeerIDs(ctx context.Context, roomID string) (map[string]string, error) {
	room, err := s.Get(ctx, roomID)
	if err != nil {
		var opErr *models.OpError
		if errors.As(err, &opErr) {
			opErr.Op = "listPeerIds"
		}
		return nil, err
	}
	out := map[string]string{}
	if !room.Active {
		return out, nil
	}
	for uid, peer := range room.PeerIDs {
		out[uid] = peer
	}
	return out, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"support-app/session-service/internal/events"
	"support-app/session-service/internal/models"
	"support-app/session-service/internal/utils"
)

const acceptedNotice = "request accepted"

type BanChecker interface {
	IsBanned(ctx context.Context, uid string) (bool, error)
}

type RequestService struct {
	tx       Transactor
	requests RequestRepository
	users    UserStateRepository
	bans     BanChecker
	rooms    *RoomService
	thread   *ThreadService
	events   events.Publisher
	log      *utils.Logger
	now      func() time.Time
}

func NewRequestService(
	tx Transactor,
	requests RequestRepository,
	users UserStateRepository,
	bans BanChecker,
	rooms *RoomService,
	thread *ThreadService,
	bus events.Publisher,
	log *utils.Logger,
) *RequestService {
	return &RequestService{
		tx:       tx,
		requests: requests,
		users:    users,
		bans:     bans,
		rooms:    rooms,
		thread:   thread,
		events:   bus,
		log:      log,
		now:      defaultNow,
	}
}

// Create files a new request, or returns the caller's live one with
// Reused=true.
func (s *RequestService) Create(ctx context.Context, id models.Identity, typ models.RequesterType, profile models.Profile) (models.CreateResult, error) {
	const op = "createRequest"
	if id.UID == "" {
		return models.CreateResult{}, invalid(op, "uid is required")
	}
	if !typ.IsValid() {
		return models.CreateResult{}, invalid(op, "type must be guest or client")
	}
	if err := utils.GetValidator().Struct(profile); err != nil {
		return models.CreateResult{}, invalid(op, validationReason(err))
	}

	banned, err := s.bans.IsBanned(ctx, id.UID)
	if err != nil {
		return models.CreateResult{}, fail(op, "ban lookup failed", err)
	}
	if banned {
		return models.CreateResult{}, fail(op, "user is banned", models.ErrBannedUser)
	}

	existing, err := s.liveRequest(ctx, id.UID)
	if err != nil {
		return models.CreateResult{}, fail(op, "active request lookup failed", err)
	}
	if existing != "" {
		return models.CreateResult{RequestID: existing, Reused: true}, nil
	}

	email := models.NormalizeEmail(profile.Email)
	if email == "" {
		email = id.Email
	}
	displayName := strings.TrimSpace(profile.DisplayName)
	if displayName == "" {
		displayName = email
	}
	req := &models.Request{
		ID:            primitive.NewObjectID().Hex(),
		CreatedByUID:  id.UID,
		CreatedByType: typ,
		DisplayName:   displayName,
		Email:         email,
		Phone:         strings.TrimSpace(profile.Phone),
		Note:          strings.TrimSpace(profile.Note),
		Status:        models.StatusPending,
		CreatedAt:     s.now(),
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return models.CreateResult{}, fail(op, "write request failed", err)
	}
	if err := s.users.SetActiveRequest(ctx, id.UID, req.ID); err != nil {
		s.log.Warn("[REQUEST] active pointer not set", "uid", id.UID, "request_id", req.ID, "error", err)
	}

	s.log.Info("[REQUEST] created", "request_id", req.ID, "uid", id.UID, "type", typ)
	publish(ctx, s.events, s.log, events.TypeRequestCreated, events.RequestCreated{
		RequestID:     req.ID,
		CreatedByUID:  req.CreatedByUID,
		CreatedByType: req.CreatedByType,
		DisplayName:   req.DisplayName,
		Email:         req.Email,
		Phone:         req.Phone,
	})
	return models.CreateResult{RequestID: req.ID}, nil
}

// liveRequest follows the active-request pointer. A pointer that leads to a
// missing, unreadable, foreign or finished request is cleared and ignored.
func (s *RequestService) liveRequest(ctx context.Context, uid string) (string, error) {
	activeID, err := s.users.GetActiveRequest(ctx, uid)
	if models.IsAdvisoryMiss(err) {
		s.log.Debug("[REQUEST] active pointer unreadable", "uid", uid, "error", err)
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if activeID == "" {
		return "", nil
	}

	req, err := s.requests.GetByID(ctx, activeID)
	if err != nil && !models.IsAdvisoryMiss(err) {
		return "", err
	}
	if err == nil && req.Status.IsActive() && req.CreatedByUID == uid {
		return req.ID, nil
	}

	if err := s.users.ClearActiveRequest(ctx, uid, activeID); err != nil {
		s.log.Warn("[REQUEST] stale pointer not cleared", "uid", uid, "request_id", activeID, "error", err)
	}
	return "", nil
}

// Accept moves a pending request to accepted and opens its room in one unit.
// Of two concurrent accepts exactly one wins; the other gets
// ErrInvalidTransition.
func (s *RequestService) Accept(ctx context.Context, requestID, adminUID string) (models.AcceptResult, error) {
	const op = "accept"
	if requestID == "" || adminUID == "" {
		return models.AcceptResult{}, invalid(op, "requestId and adminUid are required")
	}
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return models.AcceptResult{}, fail(op, "", err)
	}
	if !req.Status.CanTransition(models.StatusAccepted) {
		return models.AcceptResult{}, fail(op, fmt.Sprintf("request is %s", req.Status), models.ErrInvalidTransition)
	}

	alloc, err := s.rooms.Allocate(requestID)
	if err != nil {
		return models.AcceptResult{}, err
	}
	at := s.now()
	err = s.tx.Atomic(ctx, func(ctx context.Context) error {
		if err := s.requests.MarkAccepted(ctx, requestID, adminUID, alloc.RoomID, alloc.RoomToken, at); err != nil {
			return err
		}
		return s.rooms.Materialize(ctx, alloc, requestID, adminUID, req.CreatedByUID)
	})
	if err != nil {
		s.compensateAccept(ctx, requestID, alloc.RoomToken)
		if errors.Is(err, models.ErrInvalidTransition) {
			return models.AcceptResult{}, fail(op, "request already handled", err)
		}
		return models.AcceptResult{}, fail(op, "accept failed", err)
	}

	if err := s.thread.appendSystem(ctx, req, acceptedNotice); err != nil {
		s.log.Error("[REQUEST] accept notice not recorded", "request_id", requestID, "error", err)
	}
	s.log.Info("[REQUEST] accepted", "request_id", requestID, "admin_uid", adminUID)
	publish(ctx, s.events, s.log, events.TypeRequestStatusChanged, events.RequestStatusChanged{
		RequestID:    requestID,
		RequesterUID: req.CreatedByUID,
		From:         models.StatusPending,
		To:           models.StatusAccepted,
		AdminUID:     adminUID,
		RoomID:       alloc.RoomID,
		RoomToken:    alloc.RoomToken,
	})
	return alloc, nil
}

// compensateAccept reverts this call's transition if it was applied before the
// unit failed. The token match leaves a concurrent winner untouched.
func (s *RequestService) compensateAccept(ctx context.Context, requestID, roomToken string) {
	err := s.requests.RevertAccepted(ctx, requestID, roomToken)
	if err == nil {
		s.log.Warn("[REQUEST] accept rolled back", "request_id", requestID)
		return
	}
	if !errors.Is(err, models.ErrInvalidTransition) && !errors.Is(err, models.ErrNotFound) {
		s.log.Error("[REQUEST] accept rollback failed", "request_id", requestID, "error", err)
	}
}

func (s *RequestService) Reject(ctx context.Context, requestID, adminUID string) error {
	const op = "reject"
	if requestID == "" || adminUID == "" {
		return invalid(op, "requestId and adminUid are required")
	}
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return fail(op, "", err)
	}
	if !req.Status.CanTransition(models.StatusRejected) {
		return fail(op, fmt.Sprintf("request is %s", req.Status), models.ErrInvalidTransition)
	}
	if err := s.requests.MarkRejected(ctx, requestID, adminUID, s.now()); err != nil {
		return fail(op, "reject failed", err)
	}
	s.releasePointer(ctx, req)

	s.log.Info("[REQUEST] rejected", "request_id", requestID, "admin_uid", adminUID)
	publish(ctx, s.events, s.log, events.TypeRequestStatusChanged, events.RequestStatusChanged{
		RequestID:    requestID,
		RequesterUID: req.CreatedByUID,
		From:         models.StatusPending,
		To:           models.StatusRejected,
		AdminUID:     adminUID,
	})
	return nil
}

// Close ends an accepted session. Closing a closed request is a no-op.
func (s *RequestService) Close(ctx context.Context, requestID, adminUID, reason string) error {
	const op = "close"
	if requestID == "" || adminUID == "" {
		return invalid(op, "requestId and adminUid are required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = models.DefaultEndReason
	}
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return fail(op, "", err)
	}
	if req.Status == models.StatusClosed {
		return nil
	}
	if !req.Status.CanTransition(models.StatusClosed) {
		return fail(op, fmt.Sprintf("request is %s", req.Status), models.ErrInvalidTransition)
	}

	roomID := req.RoomID
	if roomID == "" {
		roomID = req.ID
	}
	at := s.now()
	// the room goes first: deactivation is idempotent, so a retry after a
	// partial failure converges
	err = s.tx.Atomic(ctx, func(ctx context.Context) error {
		if err := s.rooms.Close(ctx, roomID, adminUID, reason); err != nil && !errors.Is(err, models.ErrNotFound) {
			return err
		}
		return s.requests.MarkClosed(ctx, requestID, adminUID, reason, at)
	})
	if errors.Is(err, models.ErrInvalidTransition) {
		if cur, gerr := s.requests.GetByID(ctx, requestID); gerr == nil && cur.Status == models.StatusClosed {
			return nil
		}
	}
	if err != nil {
		return fail(op, "close failed", err)
	}
	s.releasePointer(ctx, req)

	s.log.Info("[REQUEST] closed", "request_id", requestID, "admin_uid", adminUID, "reason", reason)
	publish(ctx, s.events, s.log, events.TypeRequestStatusChanged, events.RequestStatusChanged{
		RequestID:    requestID,
		RequesterUID: req.CreatedByUID,
		From:         models.StatusAccepted,
		To:           models.StatusClosed,
		AdminUID:     adminUID,
	})
	return nil
}

func (s *RequestService) releasePointer(ctx context.Context, req *models.Request) {
	if err := s.users.ClearActiveRequest(ctx, req.CreatedByUID, req.ID); err != nil {
		s.log.Warn("[REQUEST] active pointer not cleared", "uid", req.CreatedByUID, "request_id", req.ID, "error", err)
	}
}

func (s *RequestService) ListPending(ctx context.Context) ([]models.Request, error) {
	reqs, err := s.requests.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return nil, fail("listPending", "", err)
	}
	return reqs, nil
}

func (s *RequestService) Get(ctx context.Context, requestID string) (*models.Request, error) {
	if requestID == "" {
		return nil, invalid("get", "requestId is required")
	}
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, fail("get", "", err)
	}
	return req, nil
}

// ListMine is the requester's own history, newest first.
func (s *RequestService) ListMine(ctx context.Context, uid string) ([]models.Request, error) {
	if uid == "" {
		return nil, invalid("listMine", "uid is required")
	}
	reqs, err := s.requests.ListByCreator(ctx, uid)
	if err != nil {
		return nil, fail("listMine", "", err)
	}
	return reqs, nil
}

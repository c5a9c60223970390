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

const systemUID = "system"

// ThreadService owns the offline threads. Every message goes through write,
// the only code that touches the request's offline summary on append.
type ThreadService struct {
	tx       Transactor
	requests RequestRepository
	messages MessageRepository
	events   events.Publisher
	log      *utils.Logger
	now      func() time.Time
}

func NewThreadService(tx Transactor, requests RequestRepository, messages MessageRepository, bus events.Publisher, log *utils.Logger) *ThreadService {
	return &ThreadService{
		tx:       tx,
		requests: requests,
		messages: messages,
		events:   bus,
		log:      log,
		now:      defaultNow,
	}
}

func (s *ThreadService) Append(ctx context.Context, requestID, fromUID, fromName, text string) (*models.OfflineMessage, error) {
	const op = "appendOffline"
	if requestID == "" || fromUID == "" {
		return nil, invalid(op, "requestId and fromUid are required")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid(op, "text is required")
	}
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, fail(op, "", err)
	}
	msg := s.newMessage(requestID, fromUID, strings.TrimSpace(fromName), text, "")
	if err := s.write(ctx, msg, nil); err != nil {
		return nil, fail(op, "write message failed", err)
	}
	s.announce(ctx, req, msg)
	return msg, nil
}

// AdminReply appends a message authored as the support identity and updates
// the reply snapshot the requester side watches.
func (s *ThreadService) AdminReply(ctx context.Context, requestID, adminUID, text string) (*models.OfflineMessage, error) {
	const op = "adminReply"
	if requestID == "" || adminUID == "" {
		return nil, invalid(op, "requestId and adminUid are required")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid(op, "reply text is required")
	}
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, fail(op, "", err)
	}
	msg := s.newMessage(requestID, adminUID, models.SupportDisplayName, text, "")
	reply := models.AdminReply{
		AdminReplyAt:   msg.CreatedAt,
		AdminReplyText: models.Truncate(text, models.MaxAdminReplyLen),
		AdminReplyBy:   adminUID,
	}
	snapshot := func(ctx context.Context) error {
		return s.requests.SetAdminReply(ctx, requestID, reply)
	}
	if err := s.write(ctx, msg, snapshot); err != nil {
		return nil, fail(op, "write reply failed", err)
	}
	s.announce(ctx, req, msg)
	return msg, nil
}

// appendSystem records a lifecycle milestone in the thread.
func (s *ThreadService) appendSystem(ctx context.Context, req *models.Request, text string) error {
	msg := s.newMessage(req.ID, systemUID, models.SystemDisplayName, text, models.KindSystem)
	if err := s.write(ctx, msg, nil); err != nil {
		return fail("appendSystem", "write message failed", err)
	}
	s.announce(ctx, req, msg)
	return nil
}

func (s *ThreadService) newMessage(requestID, fromUID, fromName, text, kind string) *models.OfflineMessage {
	return &models.OfflineMessage{
		ID:        primitive.NewObjectID().Hex(),
		RequestID: requestID,
		FromUID:   fromUID,
		FromName:  fromName,
		Text:      models.Truncate(text, models.MaxMessageLen),
		Kind:      kind,
		CreatedAt: s.now(),
	}
}

// write inserts msg, refreshes the summary and runs then, all as one unit.
// Without transactions a failure after the insert removes the message again
// and points the summary back at what is left, so a retry does not leave a
// duplicate behind.
func (s *ThreadService) write(ctx context.Context, msg *models.OfflineMessage, then func(ctx context.Context) error) error {
	summary := summaryOf([]models.OfflineMessage{*msg})
	inserted := false
	err := s.tx.Atomic(ctx, func(ctx context.Context) error {
		if err := s.messages.Insert(ctx, msg); err != nil {
			return err
		}
		inserted = true
		if err := s.requests.RefreshOfflineSummary(ctx, msg.RequestID, summary); err != nil {
			return err
		}
		if then != nil {
			return then(ctx)
		}
		return nil
	})
	if err == nil || !inserted {
		return err
	}

	if derr := s.messages.Delete(ctx, msg.RequestID, msg.ID); derr != nil && !errors.Is(derr, models.ErrNotFound) {
		s.log.Error("[THREAD] orphan message left after failed write", "request_id", msg.RequestID, "message_id", msg.ID, "error", derr)
		return err
	}
	if serr := s.settleSummary(ctx, msg.RequestID); serr != nil {
		s.log.Error("[THREAD] summary not restored after failed write", "request_id", msg.RequestID, "error", serr)
	}
	return err
}

// summaryOf describes the newest of msgs, or the empty summary.
func summaryOf(msgs []models.OfflineMessage) models.OfflineSummary {
	var newest *models.OfflineMessage
	for i := range msgs {
		if newest == nil || !msgs[i].CreatedAt.Before(newest.CreatedAt) {
			newest = &msgs[i]
		}
	}
	if newest == nil {
		return models.OfflineSummary{}
	}
	return models.OfflineSummary{
		LastOfflineAt:   newest.CreatedAt,
		LastOfflineFrom: newest.SummaryFrom(),
		LastOfflineText: models.Truncate(newest.Text, models.MaxSummaryLen),
	}
}

const settleAttempts = 5

// settleSummary points the summary at the newest stored message. The write is
// a swap against the summary read beforehand: if an append moves it in
// between, the thread is listed again instead of overwriting the newer entry.
func (s *ThreadService) settleSummary(ctx context.Context, requestID string) error {
	for i := 0; i < settleAttempts; i++ {
		req, err := s.requests.GetByID(ctx, requestID)
		if err != nil {
			return err
		}
		msgs, err := s.messages.ListByRequest(ctx, requestID)
		if err != nil {
			return err
		}
		next := summaryOf(msgs)
		if next.LastOfflineAt.Equal(req.LastOfflineAt) {
			return nil
		}
		swapped, err := s.requests.SwapOfflineSummary(ctx, requestID, req.LastOfflineAt, next)
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}
	}
	return fmt.Errorf("summary of %s kept changing", requestID)
}

func (s *ThreadService) announce(ctx context.Context, req *models.Request, msg *models.OfflineMessage) {
	publish(ctx, s.events, s.log, events.TypeOfflineMessageCreated, events.OfflineMessageCreated{
		RequestID:    req.ID,
		RequesterUID: req.CreatedByUID,
		MessageID:    msg.ID,
		FromUID:      msg.FromUID,
		FromName:     msg.FromName,
		Text:         msg.Text,
		Kind:         msg.Kind,
	})
}

func (s *ThreadService) ListThread(ctx context.Context, requestID string) ([]models.OfflineMessage, error) {
	const op = "listThread"
	if requestID == "" {
		return nil, invalid(op, "requestId is required")
	}
	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		return nil, fail(op, "", err)
	}
	msgs, err := s.messages.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, fail(op, "", err)
	}
	return msgs, nil
}

// ListInboxWithOffline is the admin inbox: latest threads first.
func (s *ThreadService) ListInboxWithOffline(ctx context.Context) ([]models.Request, error) {
	reqs, err := s.requests.ListWithOffline(ctx, models.InboxLimit)
	if err != nil {
		return nil, fail("listInbox", "", err)
	}
	return reqs, nil
}

// ClearThread archives a handled thread out of the inbox.
func (s *ThreadService) ClearThread(ctx context.Context, requestID string) error {
	const op = "clearThread"
	if requestID == "" {
		return invalid(op, "requestId is required")
	}
	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		return fail(op, "", err)
	}
	var deleted int64
	err := s.tx.Atomic(ctx, func(ctx context.Context) error {
		n, err := s.messages.DeleteByRequest(ctx, requestID)
		if err != nil {
			return err
		}
		deleted = n
		return s.requests.ClearOffline(ctx, requestID)
	})
	if err != nil {
		return fail(op, "clear thread failed", err)
	}
	s.log.Info("[THREAD] thread cleared", "request_id", requestID, "deleted", deleted)
	return nil
}

// DeleteMessage removes one message and points the summary at the newest
// remaining one. The reply snapshot is kept.
func (s *ThreadService) DeleteMessage(ctx context.Context, requestID, messageID string) error {
	const op = "deleteMessage"
	if requestID == "" || messageID == "" {
		return invalid(op, "requestId and messageId are required")
	}
	deleted := false
	err := s.tx.Atomic(ctx, func(ctx context.Context) error {
		if err := s.messages.Delete(ctx, requestID, messageID); err != nil {
			return err
		}
		deleted = true
		return s.settleSummary(ctx, requestID)
	})
	if err != nil && !deleted {
		return fail(op, "", err)
	}
	if err != nil {
		return fail(op, "write summary failed", err)
	}
	return nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"support-app/session-service/internal/events"
	"support-app/session-service/internal/models"
	"support-app/session-service/internal/utils"
)

// PushTransport delivers payload to every registered target of uids and
// skips uids without one.
type PushTransport interface {
	Send(ctx context.Context, uids []string, payload models.Payload) (int, error)
}

type EmailTransport interface {
	Send(ctx context.Context, subject, body string) error
}

type SMSTransport interface {
	Send(ctx context.Context, body string) error
}

type AdminAudience interface {
	Admins(ctx context.Context) ([]string, error)
}

// Links are the client-relative paths notifications point at.
type Links struct {
	AdminPath   string `env:"LINK_ADMIN_PATH" envDefault:"/admin/support"`
	SessionPath string `env:"LINK_SESSION_PATH" envDefault:"/support/session"`
	EntryPath   string `env:"LINK_ENTRY_PATH" envDefault:"/support"`
}

func (l Links) session(roomID, token string) string {
	q := url.Values{}
	q.Set("room", roomID)
	q.Set("token", token)
	return l.SessionPath + "?" + q.Encode()
}

type FanoutConfig struct {
	Audience      AdminAudience
	Notifications NotificationRepository
	PushTokens    PushTokenRepository
	Push          PushTransport
	// Email and SMS are optional operator alerts.
	Email EmailTransport
	SMS   SMSTransport
	Links Links
	Log   *utils.Logger
}

type FanoutService struct {
	audience      AdminAudience
	notifications NotificationRepository
	tokens        PushTokenRepository
	push          PushTransport
	email         EmailTransport
	sms           SMSTransport
	links         Links
	log           *utils.Logger
	now           func() time.Time
	parallelism   int
}

func NewFanoutService(cfg FanoutConfig) *FanoutService {
	return &FanoutService{
		audience:      cfg.Audience,
		notifications: cfg.Notifications,
		tokens:        cfg.PushTokens,
		push:          cfg.Push,
		email:         cfg.Email,
		sms:           cfg.SMS,
		links:         cfg.Links,
		log:           cfg.Log,
		now:           defaultNow,
		parallelism:   8,
	}
}

// dispatch is one fan-out: who gets what, plus the operator alert texts.
type dispatch struct {
	recipients []string
	payload    models.Payload
	alert      string
	sms        string
}

// Handle is the bus subscriber. Unknown event types are ignored.
func (s *FanoutService) Handle(ctx context.Context, env events.Envelope) error {
	d, err := s.plan(ctx, env)
	if err != nil {
		return err
	}
	if d == nil {
		return nil
	}
	return s.deliver(ctx, env, *d)
}

func (s *FanoutService) plan(ctx context.Context, env events.Envelope) (*dispatch, error) {
	switch env.Meta.Type {
	case events.TypeRequestCreated:
		e, err := events.Decode[events.RequestCreated](env)
		if err != nil {
			return nil, err
		}
		admins, err := s.audience.Admins(ctx)
		if err != nil {
			return nil, err
		}
		body := fmt.Sprintf("Request: %s • %s • %s", e.RequestID, e.CreatedByType, e.Phone)
		return &dispatch{
			recipients: admins,
			payload: models.Payload{
				Title: "New support request",
				Body:  body,
				Data:  models.NotificationData{URL: s.links.AdminPath},
			},
			alert: fmt.Sprintf("%s\nName: %s\nEmail: %s\nPhone: %s", body, e.DisplayName, e.Email, e.Phone),
			sms:   "New support request: " + body,
		}, nil

	case events.TypeRequestStatusChanged:
		e, err := events.Decode[events.RequestStatusChanged](env)
		if err != nil {
			return nil, err
		}
		if e.RequesterUID == "" {
			return nil, nil
		}
		var payload models.Payload
		switch e.To {
		case models.StatusAccepted:
			payload = models.Payload{
				Title: "Support is ready",
				Body:  "Your support request was accepted. Tap to join the session.",
				Data:  models.NotificationData{URL: s.links.session(e.RoomID, e.RoomToken)},
			}
		case models.StatusRejected:
			payload = models.Payload{
				Title: "Support request declined",
				Body:  "Your support request could not be taken right now.",
				Data:  models.NotificationData{URL: s.links.EntryPath},
			}
		default:
			return nil, nil
		}
		return &dispatch{
			recipients: []string{e.RequesterUID},
			payload:    payload,
			alert:      fmt.Sprintf("Request: %s • %s → %s by %s", e.RequestID, e.From, e.To, e.AdminUID),
		}, nil

	case events.TypeOfflineMessageCreated:
		e, err := events.Decode[events.OfflineMessageCreated](env)
		if err != nil {
			return nil, err
		}
		if e.Kind == models.KindSystem || e.FromUID == "" || e.FromUID != e.RequesterUID {
			return nil, nil
		}
		admins, err := s.audience.Admins(ctx)
		if err != nil {
			return nil, err
		}
		body := fmt.Sprintf("Request: %s • %s", e.RequestID, models.Truncate(e.Text, models.MaxSummaryLen))
		return &dispatch{
			recipients: admins,
			payload: models.Payload{
				Title: "New offline message",
				Body:  body,
				Data:  models.NotificationData{URL: s.links.AdminPath},
			},
			alert: fmt.Sprintf("%s\nFrom: %s", body, e.FromName),
		}, nil
	}
	return nil, nil
}

// deliver runs every channel independently. Failures are logged and joined;
// none of them cancels another channel.
func (s *FanoutService) deliver(ctx context.Context, env events.Envelope, d dispatch) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(channel string, err error) {
		if err == nil {
			return
		}
		s.log.Error("[FANOUT] channel failed", "channel", channel, "type", env.Meta.Type, "event_id", env.Meta.ID, "error", err)
		mu.Lock()
		errs = append(errs, fmt.Errorf("%s: %w", channel, err))
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(s.parallelism)

	for _, uid := range d.recipients {
		g.Go(func() error {
			record("in-app", s.notifications.Create(ctx, &models.Notification{
				ID:        uuid.NewString(),
				UserID:    uid,
				Payload:   d.payload,
				CreatedAt: s.now(),
			}))
			return nil
		})
	}
	if s.push != nil && len(d.recipients) > 0 {
		g.Go(func() error {
			n, err := s.push.Send(ctx, d.recipients, d.payload)
			record("push", err)
			s.log.Debug("[FANOUT] push delivered", "type", env.Meta.Type, "recipients", len(d.recipients), "delivered", n)
			return nil
		})
	}
	if s.email != nil && d.alert != "" {
		g.Go(func() error {
			record("email", s.email.Send(ctx, d.payload.Title, d.alert))
			return nil
		})
	}
	if s.sms != nil && d.sms != "" {
		g.Go(func() error {
			record("sms", s.sms.Send(ctx, models.Truncate(d.sms, 160)))
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (s *FanoutService) ListNotifications(ctx context.Context, uid string) ([]models.Notification, error) {
	if uid == "" {
		return nil, invalid("listNotifications", "uid is required")
	}
	list, err := s.notifications.ListByUser(ctx, uid, models.InboxLimit)
	if err != nil {
		return nil, fail("listNotifications", "", err)
	}
	return list, nil
}

func (s *FanoutService) MarkRead(ctx context.Context, uid, id string) error {
	if uid == "" || id == "" {
		return invalid("markRead", "uid and id are required")
	}
	if err := s.notifications.MarkAsRead(ctx, uid, id); err != nil {
		return fail("markRead", "", err)
	}
	return nil
}

func (s *FanoutService) RegisterPushToken(ctx context.Context, uid, token string) error {
	token = strings.TrimSpace(token)
	if uid == "" || token == "" {
		return invalid("registerPushToken", "uid and token are required")
	}
	t := &models.PushToken{
		UID:       uid,
		Key:       models.SanitizeToken(token),
		Token:     token,
		CreatedAt: s.now(),
	}
	if err := s.tokens.Register(ctx, t); err != nil {
		return fail("registerPushToken", "write token failed", err)
	}
	return nil
}

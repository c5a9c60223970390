package push

import (
	"context"
	"errors"
	"fmt"

	"firebase.google.com/go/v4/messaging"
	fcm "github.com/appleboy/go-fcm"

	"support-app/session-service/internal/models"
)

// TokenSource lists and prunes the registered delivery targets of a user.
type TokenSource interface {
	ListByUser(ctx context.Context, uid string) ([]models.PushToken, error)
	Remove(ctx context.Context, uid, key string) error
}

type sender interface {
	Send(ctx context.Context, message ...*messaging.Message) (*messaging.BatchResponse, error)
}

type FCMClient struct {
	client sender
	tokens TokenSource
}

// NewFCMClient creates a Firebase Cloud Messaging client from a service
// account credentials file.
func NewFCMClient(ctx context.Context, credentialsFile string, tokens TokenSource) (*FCMClient, error) {
	client, err := fcm.NewClient(ctx, fcm.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init fcm client: %w", err)
	}
	return &FCMClient{client: client, tokens: tokens}, nil
}

func newFCMClient(s sender, tokens TokenSource) *FCMClient {
	return &FCMClient{client: s, tokens: tokens}
}

// Send pushes payload to every token registered for uids and returns how many
// messages were accepted. Uids without tokens are skipped. Tokens FCM reports
// as unregistered are removed.
func (f *FCMClient) Send(ctx context.Context, uids []string, payload models.Payload) (int, error) {
	var (
		msgs   []*messaging.Message
		owners []models.PushToken
		errs   []error
	)
	for _, uid := range uids {
		tokens, err := f.tokens.ListByUser(ctx, uid)
		if err != nil {
			errs = append(errs, fmt.Errorf("list tokens of %s: %w", uid, err))
			continue
		}
		for _, t := range tokens {
			msgs = append(msgs, buildMessage(t.Token, payload))
			owners = append(owners, t)
		}
	}
	if len(msgs) == 0 {
		return 0, errors.Join(errs...)
	}

	resp, err := f.client.Send(ctx, msgs...)
	if err != nil {
		return 0, errors.Join(append(errs, fmt.Errorf("fcm send: %w", err))...)
	}

	for i, r := range resp.Responses {
		if r.Success || i >= len(owners) {
			continue
		}
		if messaging.IsRegistrationTokenNotRegistered(r.Error) {
			if err := f.tokens.Remove(ctx, owners[i].UID, owners[i].Key); err != nil {
				errs = append(errs, fmt.Errorf("prune token of %s: %w", owners[i].UID, err))
			}
		}
	}
	return resp.SuccessCount, errors.Join(errs...)
}

func buildMessage(token string, payload models.Payload) *messaging.Message {
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: payload.Title,
			Body:  payload.Body,
		},
		Data: map[string]string{"url": payload.Data.URL},
	}
}

// Disabled is used when no FCM credentials are configured.
type Disabled struct{}

func (Disabled) Send(context.Context, []string, models.Payload) (int, error) { return 0, nil }

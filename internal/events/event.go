package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"support-app/session-service/internal/models"
)

const (
	TypeRequestCreated        = "support.request.created.v1"
	TypeRequestStatusChanged  = "support.request.status_changed.v1"
	TypeOfflineMessageCreated = "support.offline_message.created.v1"

	// RoutingPattern matches every event type above on topic exchanges.
	RoutingPattern = "support.#"
)

type Meta struct {
	// Unique event ID
	ID string `json:"id"`
	// Event name and version, e.g. support.request.created.v1
	Type string `json:"type"`
	// Timestamp when the event was emitted
	Time     time.Time `json:"time"`
	Producer string    `json:"producer,omitempty"`
}

type Envelope struct {
	Meta Meta            `json:"meta"`
	Data json.RawMessage `json:"data"`
}

type RequestCreated struct {
	RequestID     string               `json:"request_id"`
	CreatedByUID  string               `json:"created_by_uid"`
	CreatedByType models.RequesterType `json:"created_by_type"`
	DisplayName   string               `json:"display_name"`
	Email         string               `json:"email"`
	Phone         string               `json:"phone"`
}

type RequestStatusChanged struct {
	RequestID    string               `json:"request_id"`
	RequesterUID string               `json:"requester_uid"`
	From         models.RequestStatus `json:"from"`
	To           models.RequestStatus `json:"to"`
	AdminUID     string               `json:"admin_uid"`
	// set on accept only
	RoomID    string `json:"room_id,omitempty"`
	RoomToken string `json:"room_token,omitempty"`
}

type OfflineMessageCreated struct {
	RequestID    string `json:"request_id"`
	RequesterUID string `json:"requester_uid"`
	MessageID    string `json:"message_id"`
	FromUID      string `json:"from_uid"`
	FromName     string `json:"from_name"`
	Text         string `json:"text"`
	Kind         string `json:"kind,omitempty"`
}

type Handler func(ctx context.Context, env Envelope) error

type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Subscriber starts delivering events to handler and returns once the
// subscription is established. Delivery stops when ctx is done or on Close.
type Subscriber interface {
	Subscribe(ctx context.Context, handler Handler) error
}

type Bus interface {
	Publisher
	Subscriber
	Close() error
}

func New(eventType, producer string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Type:     eventType,
			Time:     time.Now().UTC(),
			Producer: producer,
		},
		Data: raw,
	}, nil
}

func Decode[T any](env Envelope) (T, error) {
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", env.Meta.Type, err)
	}
	return out, nil
}

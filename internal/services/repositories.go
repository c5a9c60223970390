package services

import (
	"context"
	"time"

	"support-app/session-service/internal/models"
)

// Transactor runs fn as one multi-location write. Stores without
// multi-document transactions run fn as-is, so a failure may leave the
// writes issued before it applied.
type Transactor interface {
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
}

// RequestRepository persists requests. Mark* methods are conditional on the
// current status and return models.ErrInvalidTransition when it does not
// match, models.ErrNotFound when the request does not exist.
type RequestRepository interface {
	Create(ctx context.Context, req *models.Request) error
	GetByID(ctx context.Context, id string) (*models.Request, error)
	ListByStatus(ctx context.Context, status models.RequestStatus) ([]models.Request, error)
	ListByCreator(ctx context.Context, uid string) ([]models.Request, error)
	ListWithOffline(ctx context.Context, limit int64) ([]models.Request, error)

	MarkAccepted(ctx context.Context, id, adminUID, roomID, roomToken string, at time.Time) error
	RevertAccepted(ctx context.Context, id, roomToken string) error
	MarkRejected(ctx context.Context, id, adminUID string, at time.Time) error
	MarkClosed(ctx context.Context, id, adminUID, reason string, at time.Time) error

	// RefreshOfflineSummary writes s only when s.LastOfflineAt is not older
	// than the stored one.
	RefreshOfflineSummary(ctx context.Context, id string, s models.OfflineSummary) error
	// SwapOfflineSummary writes s only while the stored LastOfflineAt equals
	// expected. It reports false when another write got there first.
	SwapOfflineSummary(ctx context.Context, id string, expected time.Time, s models.OfflineSummary) (bool, error)
	SetAdminReply(ctx context.Context, id string, reply models.AdminReply) error
	ClearOffline(ctx context.Context, id string) error
}

type RoomRepository interface {
	Upsert(ctx context.Context, room *models.Room) error
	GetByID(ctx context.Context, id string) (*models.Room, error)
	Deactivate(ctx context.Context, id, by, reason string, at time.Time) error
	SetPeerID(ctx context.Context, roomID, uid, peerID string) error
}

type MessageRepository interface {
	Insert(ctx context.Context, msg *models.OfflineMessage) error
	ListByRequest(ctx context.Context, requestID string) ([]models.OfflineMessage, error)
	DeleteByRequest(ctx context.Context, requestID string) (int64, error)
	Delete(ctx context.Context, requestID, messageID string) error
}

type UserStateRepository interface {
	// GetActiveRequest returns "" when the user has no pointer.
	GetActiveRequest(ctx context.Context, uid string) (string, error)
	SetActiveRequest(ctx context.Context, uid, requestID string) error
	// ClearActiveRequest empties the pointer only while it still equals requestID.
	ClearActiveRequest(ctx context.Context, uid, requestID string) error
}

type BanRepository interface {
	Put(ctx context.Context, ban *models.Ban) error
	Delete(ctx context.Context, uid string) error
	Get(ctx context.Context, uid string) (*models.Ban, error)
	List(ctx context.Context) ([]models.Ban, error)
}

type AdminRepository interface {
	IsAdmin(ctx context.Context, uid string) (bool, error)
	ListAdmins(ctx context.Context) ([]string, error)
	SetAdmin(ctx context.Context, uid string, admin bool) error
}

type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, uid string, limit int64) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, uid, id string) error
}

type PushTokenRepository interface {
	Register(ctx context.Context, token *models.PushToken) error
	ListByUser(ctx context.Context, uid string) ([]models.PushToken, error)
	Remove(ctx context.Context, uid, key string) error
}

package models

import (
	"time"
)

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusAccepted RequestStatus = "accepted"
	StatusRejected RequestStatus = "rejected"
	StatusClosed   RequestStatus = "closed"
)

// CanTransition reports whether from -> to is an edge of the request lifecycle.
func (s RequestStatus) CanTransition(to RequestStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusAccepted || to == StatusRejected
	case StatusAccepted:
		return to == StatusClosed
	default:
		return false
	}
}

// IsActive is true for statuses that still hold the requester's active-request pointer.
func (s RequestStatus) IsActive() bool {
	return s == StatusPending || s == StatusAccepted
}

type RequesterType string

const (
	RequesterGuest  RequesterType = "guest"
	RequesterClient RequesterType = "client"
)

func (t RequesterType) IsValid() bool {
	return t == RequesterGuest || t == RequesterClient
}

const (
	DefaultEndReason = "ended"

	MaxMessageLen    = 1200
	MaxSummaryLen    = 120
	MaxAdminReplyLen = 800
	InboxLimit       = 50
)

type Request struct {
	ID               string        `bson:"_id" json:"id"`
	CreatedByUID     string        `bson:"created_by_uid" json:"created_by_uid"`
	CreatedByType    RequesterType `bson:"created_by_type" json:"created_by_type"`
	DisplayName      string        `bson:"display_name" json:"display_name"`
	Email            string        `bson:"email" json:"email"`
	Phone            string        `bson:"phone" json:"phone"`
	Note             string        `bson:"note" json:"note"`
	Status           RequestStatus `bson:"status" json:"status"`
	AssignedAdminUID string        `bson:"assigned_admin_uid" json:"assigned_admin_uid"`
	RoomID           string        `bson:"room_id" json:"room_id"`
	RoomToken        string        `bson:"room_token" json:"room_token,omitempty"`
	CreatedAt        time.Time     `bson:"created_at" json:"created_at"`
	AcceptedAt       *time.Time    `bson:"accepted_at,omitempty" json:"accepted_at,omitempty"`
	RejectedAt       *time.Time    `bson:"rejected_at,omitempty" json:"rejected_at,omitempty"`
	EndedAt          *time.Time    `bson:"ended_at,omitempty" json:"ended_at,omitempty"`
	EndedBy          string        `bson:"ended_by,omitempty" json:"ended_by,omitempty"`
	EndReason        string        `bson:"end_reason,omitempty" json:"end_reason,omitempty"`

	OfflineSummary `bson:",inline"`
	AdminReply     `bson:",inline"`
}

// OfflineSummary caches the newest message of the request's offline thread.
type OfflineSummary struct {
	LastOfflineAt   time.Time `bson:"last_offline_at" json:"last_offline_at"`
	LastOfflineFrom string    `bson:"last_offline_from" json:"last_offline_from"`
	LastOfflineText string    `bson:"last_offline_text" json:"last_offline_text"`
}

func (s OfflineSummary) HasOffline() bool {
	return s.LastOfflineAt.After(time.Unix(0, 0))
}

// AdminReply is a snapshot of the latest support reply, read by the requester side.
type AdminReply struct {
	AdminReplyAt   time.Time `bson:"admin_reply_at" json:"admin_reply_at"`
	AdminReplyText string    `bson:"admin_reply_text" json:"admin_reply_text"`
	AdminReplyBy   string    `bson:"admin_reply_by" json:"admin_reply_by"`
}

// Profile is the contact information a requester submits with a new request.
type Profile struct {
	DisplayName string `json:"display_name" validate:"max=120"`
	Email       string `json:"email" validate:"omitempty,email,max=254"`
	Phone       string `json:"phone" validate:"max=40"`
	Note        string `json:"note" validate:"max=2000"`
}

type CreateResult struct {
	RequestID string `json:"request_id"`
	Reused    bool   `json:"reused"`
}

type AcceptResult struct {
	RoomID    string `json:"room_id"`
	RoomToken string `json:"room_token"`
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

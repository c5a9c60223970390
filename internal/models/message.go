package models

import "time"

const (
	KindSystem = "system"

	SupportDisplayName = "Support"
	SystemDisplayName  = "System"
)

type OfflineMessage struct {
	ID        string    `bson:"_id" json:"id"`
	RequestID string    `bson:"request_id" json:"request_id"`
	FromUID   string    `bson:"from_uid" json:"from_uid"`
	FromName  string    `bson:"from_name" json:"from_name"`
	Text      string    `bson:"text" json:"text"`
	Kind      string    `bson:"kind,omitempty" json:"kind,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

func (m *OfflineMessage) IsSystem() bool {
	return m.Kind == KindSystem
}

// SummaryFrom is how the sender is shown in the admin inbox.
func (m *OfflineMessage) SummaryFrom() string {
	if m.FromName != "" {
		return m.FromName
	}
	return m.FromUID
}

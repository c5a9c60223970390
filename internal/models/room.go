package models

import "time"

type Room struct {
	ID           string            `bson:"_id" json:"id"`
	RequestID    string            `bson:"request_id" json:"request_id"`
	Active       bool              `bson:"active" json:"active"`
	CreatedAt    time.Time         `bson:"created_at" json:"created_at"`
	Participants map[string]bool   `bson:"participants" json:"participants"`
	PeerIDs      map[string]string `bson:"peer_ids,omitempty" json:"peer_ids,omitempty"`
	EndedAt      *time.Time        `bson:"ended_at,omitempty" json:"ended_at,omitempty"`
	EndedBy      string            `bson:"ended_by,omitempty" json:"ended_by,omitempty"`
	EndReason    string            `bson:"end_reason,omitempty" json:"end_reason,omitempty"`
}

func (r *Room) IsParticipant(uid string) bool {
	return uid != "" && r.Participants[uid]
}

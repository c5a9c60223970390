package models

import (
	"regexp"
	"time"
)

type NotificationData struct {
	URL string `bson:"url" json:"url"`
}

// Payload is the shape consumed by the push transport and stored in the in-app log.
type Payload struct {
	Title string           `bson:"title" json:"title"`
	Body  string           `bson:"body" json:"body"`
	Data  NotificationData `bson:"data" json:"data"`
}

type Notification struct {
	ID     string `bson:"_id" json:"id"`
	UserID string `bson:"user_id" json:"user_id"`

	Payload `bson:",inline"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	Read      bool      `bson:"read" json:"read"`
}

// PushToken is a registered delivery target. Key is the sanitized form of Token.
type PushToken struct {
	ID        string    `bson:"_id" json:"-"`
	UID       string    `bson:"uid" json:"uid"`
	Key       string    `bson:"key" json:"key"`
	Token     string    `bson:"token" json:"-"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

var unsafeTokenChars = regexp.MustCompile(`[^a-zA-Z0-9:_-]`)

func SanitizeToken(token string) string {
	return unsafeTokenChars.ReplaceAllString(token, "_")
}

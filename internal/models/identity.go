package models

import (
	"strings"
	"time"
)

// Identity is what the auth provider vouches for on every call.
type Identity struct {
	UID       string `json:"uid"`
	Email     string `json:"email,omitempty"`
	Anonymous bool   `json:"anonymous"`
}

func (i Identity) RequesterType() RequesterType {
	if i.Anonymous {
		return RequesterGuest
	}
	return RequesterClient
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type UserState struct {
	UID             string `bson:"_id" json:"uid"`
	ActiveRequestID string `bson:"active_request_id" json:"active_request_id"`
}

type Ban struct {
	UID    string    `bson:"_id" json:"uid"`
	By     string    `bson:"by" json:"by"`
	Reason string    `bson:"reason" json:"reason"`
	At     time.Time `bson:"at" json:"at"`
}

type AdminFlag struct {
	UID   string `bson:"_id" json:"uid"`
	Admin bool   `bson:"admin" json:"admin"`
}

package utils

import (
	"crypto/rand"
	"fmt"
)

const (
	RoomTokenLength = 36
	tokenAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// bytes at or above this bound are discarded so every symbol is equally likely
var tokenByteBound = byte(256 - 256%len(tokenAlphabet))

// NewRoomToken returns a fresh alphanumeric capability string.
func NewRoomToken() (string, error) {
	return randomString(RoomTokenLength)
}

func randomString(n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= tokenByteBound {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// Package util provides logging, stats and identifier helpers shared by all packages.
package util

import (
	"github.com/google/uuid"
	"github.com/pion/randutil"
)

// sessionCodeRunes excludes characters that are easy to confuse when read aloud.
const sessionCodeRunes = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewPeerID returns a fresh signaling identity, unique per connecting process.
func NewPeerID() string {
	return uuid.New().String()
}

// NewSessionCode returns a short, shareable session identifier.
func NewSessionCode(n int) (string, error) {
	return randutil.GenerateCryptoRandomString(n, sessionCodeRunes)
}

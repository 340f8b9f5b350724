package signaling

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by Send when Connect has not succeeded yet or
// Disconnect has already been called.
var ErrNotConnected = errors.New("signaling client not connected")

// PeerInfo is the local metadata presented to the relay on connect.
type PeerInfo struct {
	SessionID   string
	PeerID      string
	DisplayName string
}

// Client is the bidirectional per-session message channel consumed by the
// session controller. Implementations deliver inbound messages in arrival
// order on a single goroutine.
type Client interface {
	Connect(ctx context.Context, info PeerInfo) error
	Send(ctx context.Context, msg Message) error
	OnMessage(fn func(Message))
	Disconnect() error
}

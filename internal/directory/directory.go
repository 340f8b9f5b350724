// Package directory records session availability and relay membership, and
// provides the admission gate a peer waits on before joining a session.
package directory

import (
	"context"
	"errors"
	"sync"
)

// Session availability as stored in the directory.
const (
	StatusAvailable = "available"
	StatusEnded     = "ended"
)

// ErrNotFound is returned when the directory has no record of a session.
var ErrNotFound = errors.New("session not found")

// Memory is an in-process directory. It implements session.Directory and
// signaling.Roster.
type Memory struct {
	mu     sync.Mutex
	status map[string]string
	peers  map[string]map[string]struct{}
}

// NewMemory creates an empty in-process directory.
func NewMemory() *Memory {
	return &Memory{
		status: make(map[string]string),
		peers:  make(map[string]map[string]struct{}),
	}
}

func (m *Memory) MarkEnded(_ context.Context, sessionID string) error {
	return m.set(sessionID, StatusEnded)
}

func (m *Memory) MarkAvailable(_ context.Context, sessionID string) error {
	return m.set(sessionID, StatusAvailable)
}

func (m *Memory) set(sessionID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[sessionID] = status
	return nil
}

// Status returns the recorded availability of sessionID.
func (m *Memory) Status(_ context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.status[sessionID]
	if !ok {
		return "", ErrNotFound
	}
	return status, nil
}

func (m *Memory) Join(_ context.Context, sessionID, peerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.peers[sessionID]
	if !ok {
		set = make(map[string]struct{})
		m.peers[sessionID] = set
	}
	set[peerID] = struct{}{}
	return nil
}

func (m *Memory) Leave(_ context.Context, sessionID, peerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.peers[sessionID]
	if !ok {
		return nil
	}
	delete(set, peerID)
	if len(set) == 0 {
		delete(m.peers, sessionID)
	}
	return nil
}

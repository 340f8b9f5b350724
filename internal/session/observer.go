package session

import (
	"github.com/1ureka/pairline/internal/protocol"
)

// PeerIdentity names the partner. It is unknown until the first inbound
// message from that peer.
type PeerIdentity struct {
	ID          string
	DisplayName string
}

// Observer receives upstream notifications. All methods are called from the
// session goroutine and must not block.
type Observer interface {
	StatusChanged(s Status)
	PartnerConnected(p PeerIdentity)
	PartnerDisconnected()
	Envelope(env protocol.Envelope)
	// Notice reports a recoverable failure; the session carries on.
	Notice(err error)
	// Exit fires once when the session ends on its own. It does not fire
	// after Leave.
	Exit(err error)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) StatusChanged(Status)          {}
func (NopObserver) PartnerConnected(PeerIdentity) {}
func (NopObserver) PartnerDisconnected()          {}
func (NopObserver) Envelope(protocol.Envelope)    {}
func (NopObserver) Notice(error)                  {}
func (NopObserver) Exit(error)                    {}

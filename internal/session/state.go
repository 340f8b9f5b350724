package session

import (
	"github.com/1ureka/pairline/internal/config"
)

// Status is the connection status a caller observes.
type Status int32

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnected
	// StatusWaiting is WaitingForNextParticipant, reachable only by a
	// public host.
	StatusWaiting
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusWaiting:
		return "waiting"
	}
	return "unknown"
}

// policy is what losing the partner means for this session.
type policy int

const (
	policyTerminal  policy = iota // the session ends
	policyRevolving               // the host waits for the next participant
)

func policyFor(role config.Role, mode config.Mode) policy {
	if role == config.RoleHost && mode.Revolving() {
		return policyRevolving
	}
	return policyTerminal
}

type trigger int

const (
	trigLinkUp     trigger = iota // transport reports connected
	trigLinkDown                  // transport failed/closed, or the partner left
	trigPeerJoined                // a user-joined announcement arrived
	trigLeave                     // local intentional leave
)

func (t trigger) String() string {
	switch t {
	case trigLinkUp:
		return "link-up"
	case trigLinkDown:
		return "link-down"
	case trigPeerJoined:
		return "peer-joined"
	case trigLeave:
		return "leave"
	}
	return "unknown"
}

// action is the side effect the controller performs after a transition.
type action int

const (
	actNone      action = iota
	actConnected        // notify PartnerConnected
	actNegotiate        // (re)build the connection for the newcomer
	actRevolve          // drop the inner connection, keep media and signaling
	actTerminate        // full teardown, then Exit
	actLeave            // full teardown without Exit
)

// next is the single transition function of the session state machine.
// Disconnected is terminal: every trigger is absorbed there.
func next(s Status, p policy, t trigger) (Status, action) {
	if s == StatusDisconnected {
		return s, actNone
	}

	switch t {
	case trigLeave:
		return StatusDisconnected, actLeave

	case trigLinkUp:
		if s == StatusConnected {
			return s, actNone
		}
		return StatusConnected, actConnected

	case trigLinkDown:
		if p == policyRevolving {
			return StatusWaiting, actRevolve
		}
		return StatusDisconnected, actTerminate

	case trigPeerJoined:
		switch s {
		case StatusConnecting:
			return StatusConnecting, actNegotiate
		case StatusWaiting:
			return StatusConnecting, actNegotiate
		}
		return s, actNone
	}

	return s, actNone
}

package session

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairline/internal/multiplex"
)

// PeerConnection is the part of a WebRTC peer connection the negotiator
// drives. *transport.Peer implements it on top of pion.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sdp webrtc.SessionDescription) error
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(c webrtc.ICECandidateInit) error
	Close() error
}

// PeerHandlers are the callbacks wired into a new connection. They may be
// invoked from any goroutine.
type PeerHandlers struct {
	OnICECandidate       func(c webrtc.ICECandidateInit)
	OnConnectionState    func(s webrtc.PeerConnectionState)
	OnICEConnectionState func(s webrtc.ICEConnectionState)
	OnTrack              func(kind webrtc.RTPCodecType)

	OnChannelOpen    func(ch multiplex.Channel)
	OnChannelClose   func()
	OnChannelMessage func(data []byte)
}

// PeerFactory builds connection instances with the local media attached.
// When createChannel is true the instance also creates the data channel;
// otherwise it accepts the one the remote side creates.
type PeerFactory interface {
	NewPeer(createChannel bool, h PeerHandlers) (PeerConnection, error)
}

// Media is the local capture owned by the session.
type Media interface {
	Stop() error
}

// Directory tracks whether a hosted session can admit participants.
type Directory interface {
	MarkEnded(ctx context.Context, sessionID string) error
	MarkAvailable(ctx context.Context, sessionID string) error
}

type nopMedia struct{}

func (nopMedia) Stop() error { return nil }

type nopDirectory struct{}

func (nopDirectory) MarkEnded(context.Context, string) error     { return nil }
func (nopDirectory) MarkAvailable(context.Context, string) error { return nil }

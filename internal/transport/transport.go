// Package transport backs session.PeerConnection with pion: one
// PeerConnection per instance, an ordered data channel for collaboration
// envelopes, and the local media tracks.
package transport

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairline/internal/config"
	"github.com/1ureka/pairline/internal/session"
	"github.com/1ureka/pairline/internal/util"
)

const rtpBufferSize = 1500

// Factory builds Peers sharing one pion API and ICE configuration.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
	label  string
	media  *Media
}

// NewFactory creates a Factory from cfg. media may be nil when local media is
// disabled; its tracks are attached to every new instance otherwise.
func NewFactory(cfg *config.Config, media *Media) (*Factory, error) {
	api, err := NewAPI(cfg.WebRTC.PLIInterval)
	if err != nil {
		return nil, err
	}

	return &Factory{
		api:    api,
		config: webrtc.Configuration{ICEServers: iceServers(cfg.WebRTC.ICEServers)},
		label:  cfg.WebRTC.ChannelLabel,
		media:  media,
	}, nil
}

// NewPeer implements session.PeerFactory. The offering side creates the data
// channel; the answering side picks it up through OnDataChannel.
func (f *Factory) NewPeer(createChannel bool, h session.PeerHandlers) (session.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	p := &Peer{pc: pc}

	for _, track := range f.media.Tracks() {
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
		}
		go drainRTCP(sender)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil {
			return
		}
		h.OnICECandidate(c.ToJSON())
	})
	pc.OnConnectionStateChange(h.OnConnectionState)
	pc.OnICEConnectionStateChange(h.OnICEConnectionState)
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		h.OnTrack(track.Kind())
		go discardRTP(track)
	})

	if createChannel {
		ordered := true
		dc, err := pc.CreateDataChannel(f.label, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to create data channel: %w", err)
		}
		bind(dc, h)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != f.label {
				util.LogWarning("ignoring unexpected data channel %q", dc.Label())
				return
			}
			bind(dc, h)
		})
	}

	return p, nil
}

// bind forwards the data channel lifecycle to the session handlers.
func bind(dc *webrtc.DataChannel, h session.PeerHandlers) {
	ch := newChannel(dc)
	dc.OnOpen(func() { h.OnChannelOpen(ch) })
	dc.OnClose(h.OnChannelClose)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			util.LogDebug("binary data channel message (%d bytes) ignored", len(msg.Data))
			return
		}
		h.OnChannelMessage(msg.Data)
	})
}

// drainRTCP reads RTCP for an outbound track so interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, rtpBufferSize)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// discardRTP consumes an inbound track. Rendering is left to the embedding UI.
func discardRTP(track *webrtc.TrackRemote) {
	buf := make([]byte, rtpBufferSize)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Peer
// ---------------------------------------------------------------------------

// Peer wraps one pion PeerConnection and implements session.PeerConnection.
type Peer struct {
	pc *webrtc.PeerConnection
}

// CreateOffer generates an SDP offer.
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (p *Peer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

// RemoteDescription returns the applied remote SDP, or nil.
func (p *Peer) RemoteDescription() *webrtc.SessionDescription {
	return p.pc.RemoteDescription()
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (p *Peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

// Close shuts down the PeerConnection and its data channel.
func (p *Peer) Close() error {
	if err := p.pc.Close(); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
		return err
	}
	return nil
}

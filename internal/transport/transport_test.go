package transport

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/pairline/internal/config"
	"github.com/1ureka/pairline/internal/multiplex"
	"github.com/1ureka/pairline/internal/session"
)

// Compile-time interface checks.
var (
	_ session.PeerFactory    = (*Factory)(nil)
	_ session.PeerConnection = (*Peer)(nil)
	_ session.Media          = (*Media)(nil)
	_ multiplex.Channel      = (*channel)(nil)
)

func TestICEServers(t *testing.T) {
	in := []config.ICEServer{
		{URLs: []string{"stun:stun.example.org:3478"}},
		{URLs: []string{"turn:turn.example.org:3478"}, Username: "u", Credential: "p"},
	}

	out := iceServers(in)
	if len(out) != 2 {
		t.Fatalf("got %d servers, want 2", len(out))
	}
	if out[0].Credential != nil {
		t.Errorf("STUN entry has credential %v", out[0].Credential)
	}
	if out[1].Username != "u" || out[1].Credential != "p" {
		t.Errorf("TURN entry = %+v", out[1])
	}
}

func TestNewAPI(t *testing.T) {
	for _, interval := range []time.Duration{0, 3 * time.Second} {
		api, err := NewAPI(interval)
		if err != nil {
			t.Fatalf("NewAPI(%s) failed: %v", interval, err)
		}
		if api == nil {
			t.Fatalf("NewAPI(%s) returned nil", interval)
		}
	}
}

func TestMediaStop(t *testing.T) {
	m, err := NewMedia("test")
	if err != nil {
		t.Fatalf("NewMedia failed: %v", err)
	}
	if n := len(m.Tracks()); n != 2 {
		t.Fatalf("got %d tracks, want 2", n)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	if tracks := m.Tracks(); tracks != nil {
		t.Errorf("stopped media still offers %d tracks", len(tracks))
	}
	err = m.WriteSample(webrtc.RTPCodecTypeAudio, media.Sample{Data: []byte{0}, Duration: 20 * time.Millisecond})
	if !errors.Is(err, ErrMediaStopped) {
		t.Errorf("WriteSample after Stop = %v, want ErrMediaStopped", err)
	}
}

func TestSilenceEnds(t *testing.T) {
	tests := []struct {
		name string
		end  func(m *Media, cancel context.CancelFunc)
		want error
	}{
		{"context cancelled", func(_ *Media, cancel context.CancelFunc) { cancel() }, context.Canceled},
		{"media stopped", func(m *Media, _ context.CancelFunc) { m.Stop() }, ErrMediaStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMedia("silence")
			if err != nil {
				t.Fatalf("NewMedia failed: %v", err)
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- m.Silence(ctx) }()

			time.Sleep(3 * opusFrame)
			tt.end(m, cancel)

			select {
			case err := <-done:
				if !errors.Is(err, tt.want) {
					t.Errorf("Silence = %v, want %v", err, tt.want)
				}
			case <-time.After(time.Second):
				t.Fatal("Silence did not return")
			}
		})
	}
}

func TestNilMediaHasNoTracks(t *testing.T) {
	var m *Media
	if tracks := m.Tracks(); tracks != nil {
		t.Errorf("nil media returned %d tracks", len(tracks))
	}
}

func newTestFactory(t *testing.T, m *Media) *Factory {
	t.Helper()
	cfg := config.Default()
	cfg.WebRTC.ICEServers = nil
	f, err := NewFactory(cfg, m)
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}
	return f
}

func TestOfferCarriesTracksAndChannel(t *testing.T) {
	m, err := NewMedia("offer")
	if err != nil {
		t.Fatalf("NewMedia failed: %v", err)
	}
	f := newTestFactory(t, m)

	tests := []struct {
		name      string
		channel   bool
		wantLines []string
	}{
		{"offering side", true, []string{"m=audio", "m=video", "m=application"}},
		{"answering side", false, []string{"m=audio", "m=video"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := f.NewPeer(tt.channel, endpointHandlers(newEndpoint()))
			if err != nil {
				t.Fatalf("NewPeer failed: %v", err)
			}
			defer p.Close()

			offer, err := p.CreateOffer()
			if err != nil {
				t.Fatalf("CreateOffer failed: %v", err)
			}
			for _, line := range tt.wantLines {
				if !strings.Contains(offer.SDP, line) {
					t.Errorf("offer SDP lacks %q", line)
				}
			}
			if p.RemoteDescription() != nil {
				t.Error("remote description set before negotiation")
			}
		})
	}
}

func TestPeerCloseIdempotent(t *testing.T) {
	f := newTestFactory(t, nil)
	p, err := f.NewPeer(true, endpointHandlers(newEndpoint()))
	if err != nil {
		t.Fatalf("NewPeer failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Loopback
// ---------------------------------------------------------------------------

type endpoint struct {
	candidates chan webrtc.ICECandidateInit
	opened     chan multiplex.Channel
	messages   chan string
}

func newEndpoint() *endpoint {
	return &endpoint{
		candidates: make(chan webrtc.ICECandidateInit, 64),
		opened:     make(chan multiplex.Channel, 1),
		messages:   make(chan string, 16),
	}
}

func endpointHandlers(e *endpoint) session.PeerHandlers {
	return session.PeerHandlers{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			select {
			case e.candidates <- c:
			default:
			}
		},
		OnConnectionState:    func(webrtc.PeerConnectionState) {},
		OnICEConnectionState: func(webrtc.ICEConnectionState) {},
		OnTrack:              func(webrtc.RTPCodecType) {},
		OnChannelOpen: func(ch multiplex.Channel) {
			select {
			case e.opened <- ch:
			default:
			}
		},
		OnChannelClose: func() {},
		OnChannelMessage: func(data []byte) {
			e.messages <- string(data)
		},
	}
}

func forward(from *endpoint, to session.PeerConnection, done <-chan struct{}) {
	for {
		select {
		case c := <-from.candidates:
			to.AddICECandidate(c)
		case <-done:
			return
		}
	}
}

func TestLoopbackDataChannel(t *testing.T) {
	if testing.Short() {
		t.Skip("loopback negotiation skipped in short mode")
	}

	f := newTestFactory(t, nil)
	offerSide, answerSide := newEndpoint(), newEndpoint()

	offerer, err := f.NewPeer(true, endpointHandlers(offerSide))
	if err != nil {
		t.Fatalf("NewPeer failed: %v", err)
	}
	defer offerer.Close()
	answerer, err := f.NewPeer(false, endpointHandlers(answerSide))
	if err != nil {
		t.Fatalf("NewPeer failed: %v", err)
	}
	defer answerer.Close()

	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}
	if err := offerer.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription failed: %v", err)
	}
	if err := answerer.SetRemoteDescription(offer); err != nil {
		t.Fatalf("SetRemoteDescription failed: %v", err)
	}
	answer, err := answerer.CreateAnswer()
	if err != nil {
		t.Fatalf("CreateAnswer failed: %v", err)
	}
	if err := answerer.SetLocalDescription(answer); err != nil {
		t.Fatalf("SetLocalDescription failed: %v", err)
	}
	if err := offerer.SetRemoteDescription(answer); err != nil {
		t.Fatalf("SetRemoteDescription failed: %v", err)
	}

	done := make(chan struct{})
	defer close(done)
	go forward(offerSide, answerer, done)
	go forward(answerSide, offerer, done)

	var sendCh multiplex.Channel
	select {
	case sendCh = <-offerSide.opened:
	case <-time.After(10 * time.Second):
		t.Fatal("offering side channel did not open")
	}
	select {
	case <-answerSide.opened:
	case <-time.After(10 * time.Second):
		t.Fatal("answering side channel did not open")
	}

	if !sendCh.Open() || sendCh.Label() != "collab" {
		t.Fatalf("channel open=%v label=%q", sendCh.Open(), sendCh.Label())
	}
	if err := sendCh.SendText(`{"type":"code-change","code":"x"}`); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}

	select {
	case msg := <-answerSide.messages:
		if msg != `{"type":"code-change","code":"x"}` {
			t.Errorf("received %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

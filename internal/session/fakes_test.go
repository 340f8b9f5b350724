package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairline/internal/config"
	"github.com/1ureka/pairline/internal/protocol"
	"github.com/1ureka/pairline/internal/signaling"
)

// ---------------------------------------------------------------------------
// fakePeer / fakeFactory
// ---------------------------------------------------------------------------

var errNoRemote = errors.New("remote description not set")

// fakePeer is an in-memory PeerConnection that records every call.
type fakePeer struct {
	mu sync.Mutex

	name          string
	createChannel bool
	h             PeerHandlers

	offers, answers int
	local           []webrtc.SessionDescription
	remote          *webrtc.SessionDescription
	remoteSets      int
	applied         []string
	closed          int

	offerErr  error
	answerErr error
	reject    map[string]bool
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offerErr != nil {
		return webrtc.SessionDescription{}, p.offerErr
	}
	p.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%s-%d", p.name, p.offers)}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.answerErr != nil {
		return webrtc.SessionDescription{}, p.answerErr
	}
	p.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%s-%d", p.name, p.answers)}, nil
}

func (p *fakePeer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = append(p.local, sdp)
	return nil
}

func (p *fakePeer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = &sdp
	p.remoteSets++
	return nil
}

func (p *fakePeer) RemoteDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errNoRemote
	}
	if p.reject[c.Candidate] {
		return fmt.Errorf("bad candidate %s", c.Candidate)
	}
	p.applied = append(p.applied, c.Candidate)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePeer) snapshot() fakePeer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fakePeer{
		offers:     p.offers,
		answers:    p.answers,
		remoteSets: p.remoteSets,
		applied:    append([]string(nil), p.applied...),
		closed:     p.closed,
	}
}

type fakeFactory struct {
	mu       sync.Mutex
	name     string
	peers    []*fakePeer
	offerErr error
	reject   map[string]bool
}

func (f *fakeFactory) NewPeer(createChannel bool, h PeerHandlers) (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{
		name:          fmt.Sprintf("%s%d", f.name, len(f.peers)+1),
		createChannel: createChannel,
		h:             h,
		offerErr:      f.offerErr,
		reject:        f.reject,
	}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakeFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

// ---------------------------------------------------------------------------
// fakeSignal
// ---------------------------------------------------------------------------

// fakeSignal is an in-memory signaling.Client. Sent messages are also pushed
// on sentCh for tests driving Run.
type fakeSignal struct {
	mu          sync.Mutex
	handler     func(signaling.Message)
	self        string
	sent        []signaling.Message
	sentCh      chan signaling.Message
	connectErr  error
	disconnects int
}

func newFakeSignal() *fakeSignal {
	return &fakeSignal{sentCh: make(chan signaling.Message, 64)}
}

func (f *fakeSignal) Connect(_ context.Context, info signaling.PeerInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.self = info.PeerID
	return f.connectErr
}

func (f *fakeSignal) Send(_ context.Context, msg signaling.Message) error {
	f.mu.Lock()
	msg.From = f.self
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	f.sentCh <- msg
	return nil
}

func (f *fakeSignal) OnMessage(fn func(signaling.Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}

func (f *fakeSignal) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeSignal) inject(msg signaling.Message) {
	f.mu.Lock()
	fn := f.handler
	f.mu.Unlock()
	fn(msg)
}

func (f *fakeSignal) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// ---------------------------------------------------------------------------
// Media, directory, observer
// ---------------------------------------------------------------------------

type fakeMedia struct {
	mu    sync.Mutex
	stops int
}

func (m *fakeMedia) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return nil
}

func (m *fakeMedia) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

type fakeDirectory struct {
	mu               sync.Mutex
	ended, available int
}

func (d *fakeDirectory) MarkEnded(context.Context, string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ended++
	return nil
}

func (d *fakeDirectory) MarkAvailable(context.Context, string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.available++
	return nil
}

type recorder struct {
	mu           sync.Mutex
	statuses     []Status
	connected    []PeerIdentity
	disconnected int
	envelopes    []protocol.Type
	notices      []error
	exits        []error
}

func (r *recorder) StatusChanged(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) PartnerConnected(p PeerIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, p)
}

func (r *recorder) PartnerDisconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected++
}

func (r *recorder) Envelope(env protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, env.Type)
}

func (r *recorder) Notice(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, err)
}

func (r *recorder) Exit(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits = append(r.exits, err)
}

func (r *recorder) count(s Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.statuses {
		if st == s {
			n++
		}
	}
	return n
}

func (r *recorder) exitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.exits)
}

// ---------------------------------------------------------------------------
// harness drives a Session synchronously through handle, bypassing Run.
// ---------------------------------------------------------------------------

type harness struct {
	t     *testing.T
	id    string
	s     *Session
	peers *fakeFactory
	sig   *fakeSignal
	media *fakeMedia
	dir   *fakeDirectory
	obs   *recorder
	sent  []signaling.Message
}

func newHarness(t *testing.T, id string, role config.Role, mode config.Mode) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		id:    id,
		peers: &fakeFactory{name: id},
		sig:   newFakeSignal(),
		media: &fakeMedia{},
		dir:   &fakeDirectory{},
		obs:   &recorder{},
	}

	s, err := New(Config{
		SessionID: "session-1",
		Self:      PeerIdentity{ID: id, DisplayName: id + "-name"},
		Role:      role,
		Mode:      mode,
		Signaling: h.sig,
		Peers:     h.peers,
		Media:     h.media,
		Directory: h.dir,
		Observer:  h.obs,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	s.out = func(msg signaling.Message) {
		msg.From = id
		h.sent = append(h.sent, msg)
	}
	if err := s.begin(); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	h.s = s
	return h
}

func (h *harness) deliver(msgs ...signaling.Message) {
	for _, m := range msgs {
		h.s.handle(event{kind: evSignal, msg: m})
	}
}

// take returns and clears the messages sent so far.
func (h *harness) take() []signaling.Message {
	out := h.sent
	h.sent = nil
	return out
}

func (h *harness) connState(st webrtc.PeerConnectionState) {
	h.s.handle(event{kind: evConnState, gen: h.s.neg.gen, connState: st})
}

func (h *harness) iceState(st webrtc.ICEConnectionState) {
	h.s.handle(event{kind: evICEState, gen: h.s.neg.gen, iceState: st})
}

// pump relays messages between two harnesses until both are quiet, the way
// the relay would: broadcasts and messages addressed to the other side are
// delivered.
func pump(a, b *harness) {
	for i := 0; i < 20; i++ {
		fromA, fromB := a.take(), b.take()
		if len(fromA) == 0 && len(fromB) == 0 {
			return
		}
		for _, m := range fromA {
			if m.To == "" || m.To == b.id {
				b.deliver(m)
			}
		}
		for _, m := range fromB {
			if m.To == "" || m.To == a.id {
				a.deliver(m)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Message builders
// ---------------------------------------------------------------------------

func mustMessage(t *testing.T, typ signaling.MessageType, from, to string, payload any) signaling.Message {
	t.Helper()
	msg, err := signaling.NewMessage(typ, to, payload)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	msg.From = from
	return msg
}

func joined(t *testing.T, from, to string, role config.Role) signaling.Message {
	return mustMessage(t, signaling.MsgTypeUserJoined, from, to,
		signaling.JoinPayload{DisplayName: from + "-name", Role: string(role)})
}

func offer(t *testing.T, from, to, sdp string) signaling.Message {
	return mustMessage(t, signaling.MsgTypeOffer, from, to,
		webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
}

func answer(t *testing.T, from, to, sdp string) signaling.Message {
	return mustMessage(t, signaling.MsgTypeAnswer, from, to,
		webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func candidate(t *testing.T, from, to, c string) signaling.Message {
	return mustMessage(t, signaling.MsgTypeCandidate, from, to, webrtc.ICECandidateInit{Candidate: c})
}

func left(from string) signaling.Message {
	return signaling.Message{Type: signaling.MsgTypeUserLeft, From: from}
}

func countType(msgs []signaling.Message, typ signaling.MessageType) int {
	n := 0
	for _, m := range msgs {
		if m.Type == typ {
			n++
		}
	}
	return n
}

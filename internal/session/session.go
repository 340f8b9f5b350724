// Package session orchestrates one peer-to-peer collaboration session: role
// based offer/answer negotiation over a signaling relay, ICE candidate
// buffering, and the recovery policy applied when the partner goes away.
//
// All session state is owned by a single goroutine (Run). Signaling
// messages, transport callbacks and data channel traffic are posted to it as
// events, so handlers never run concurrently.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairline/internal/config"
	"github.com/1ureka/pairline/internal/multiplex"
	"github.com/1ureka/pairline/internal/signaling"
	"github.com/1ureka/pairline/internal/util"
)

var (
	// ErrNegotiation wraps recoverable offer/answer failures.
	ErrNegotiation = errors.New("negotiation failed")
	// ErrSignaling wraps relay failures.
	ErrSignaling = errors.New("signaling failed")
	// ErrPartnerLost is the Exit cause when the partner disconnects.
	ErrPartnerLost = errors.New("partner disconnected")
)

const (
	eventQueueSize   = 256
	directoryTimeout = 3 * time.Second
)

// Config wires a session to its collaborators. Media, Directory, Mux and
// Observer are optional.
type Config struct {
	SessionID string
	Self      PeerIdentity
	Role      config.Role
	Mode      config.Mode
	Retry     signaling.RetryPolicy

	Signaling signaling.Client
	Peers     PeerFactory
	Media     Media
	Directory Directory
	Mux       *multiplex.Multiplexer
	Observer  Observer
}

type eventKind int

const (
	evSignal eventKind = iota
	evLocalCandidate
	evConnState
	evICEState
	evTrack
	evChannelOpen
	evChannelClose
	evChannelMessage
	evSendFailed
	evLeave
)

// event is one unit of work for the session goroutine. gen is set for
// events raised by a connection instance.
type event struct {
	kind eventKind
	gen  uint64

	msg       signaling.Message
	candidate webrtc.ICECandidateInit
	connState webrtc.PeerConnectionState
	iceState  webrtc.ICEConnectionState
	trackKind webrtc.RTPCodecType
	channel   multiplex.Channel
	data      []byte
	err       error
}

// Session is the lifecycle controller for one session attempt.
type Session struct {
	cfg    Config
	policy policy
	log    util.Scope

	neg     *negotiator
	partner PeerIdentity
	linked  bool // PartnerConnected fired for the current partner
	out     func(signaling.Message)

	status    atomic.Int32
	events    chan event
	done      chan struct{}
	stopped   bool
	exitErr   error
	mediaOnce sync.Once
}

// New validates cfg and returns a session ready to Run.
func New(cfg Config) (*Session, error) {
	if cfg.SessionID == "" || cfg.Self.ID == "" {
		return nil, errors.New("session id and peer id are required")
	}
	if cfg.Signaling == nil || cfg.Peers == nil {
		return nil, errors.New("signaling client and peer factory are required")
	}
	if cfg.Role != config.RoleHost && cfg.Role != config.RoleParticipant {
		return nil, fmt.Errorf("invalid role %q", cfg.Role)
	}
	if cfg.Media == nil {
		cfg.Media = nopMedia{}
	}
	if cfg.Directory == nil {
		cfg.Directory = nopDirectory{}
	}
	if cfg.Mux == nil {
		cfg.Mux = multiplex.New()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}

	s := &Session{
		cfg:    cfg,
		policy: policyFor(cfg.Role, cfg.Mode),
		log:    util.NewScope(string(cfg.Role), cfg.Self.ID),
		events: make(chan event, eventQueueSize),
		done:   make(chan struct{}),
	}
	s.neg = &negotiator{
		role:    cfg.Role,
		factory: cfg.Peers,
		wire:    s.wire,
		out:     s.send,
		log:     s.log,
	}
	s.status.Store(int32(StatusConnecting))
	cfg.Mux.Observe(cfg.Observer.Envelope)
	return s, nil
}

// Status returns the current connection status. Safe for concurrent use.
func (s *Session) Status() Status {
	return Status(s.status.Load())
}

// Done is closed when Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Leave ends the session intentionally. Exit does not fire. Safe to call
// from any goroutine, any number of times.
func (s *Session) Leave() {
	s.post(event{kind: evLeave})
}

// Run connects to the relay, announces this peer and processes events until
// the session ends. It returns nil after Leave, the Exit cause after a
// terminal disconnect, or ctx.Err() when ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	// The outbox is drained last: its failure callback posts events, which
	// only stops blocking once done is closed.
	var outboxDone <-chan struct{}
	defer func() {
		if outboxDone != nil {
			<-outboxDone
		}
	}()
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.cfg.Signaling.OnMessage(func(msg signaling.Message) {
		s.post(event{kind: evSignal, msg: msg})
	})

	info := signaling.PeerInfo{
		SessionID:   s.cfg.SessionID,
		PeerID:      s.cfg.Self.ID,
		DisplayName: s.cfg.Self.DisplayName,
	}
	if err := s.cfg.Signaling.Connect(ctx, info); err != nil {
		err = fmt.Errorf("%w: %v", ErrSignaling, err)
		s.terminate(err)
		return err
	}

	outbox := signaling.NewOutbox(ctx, s.cfg.Signaling, s.cfg.Retry, func(msg signaling.Message, err error) {
		s.post(event{kind: evSendFailed, msg: msg, err: err})
	})
	outboxDone = outbox.Done()
	s.out = func(msg signaling.Message) {
		outbox.Post(ctx, msg)
	}

	if err := s.begin(); err != nil {
		s.terminate(err)
		return err
	}

	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
			if s.stopped {
				return s.exitErr
			}
		case <-ctx.Done():
			s.setStatus(StatusDisconnected)
			if err := s.teardown(); err != nil {
				s.log.Warning("teardown: %v", err)
			}
			return ctx.Err()
		}
	}
}

// begin builds the first connection instance and announces this peer.
func (s *Session) begin() error {
	s.cfg.Observer.StatusChanged(StatusConnecting)
	util.Stats.AddTransition(StatusConnecting.String())

	if err := s.neg.createConnection(); err != nil {
		return err
	}
	s.announce("")
	s.log.Info("joined session %s as %s (%s)", s.cfg.SessionID, s.cfg.Role, s.cfg.Mode)
	return nil
}

// post hands ev to the session goroutine. Events posted after Run has
// returned are dropped.
func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) send(msg signaling.Message) {
	if s.out == nil {
		s.log.Warning("signaling not connected, %s dropped", msg.Type)
		return
	}
	s.out(msg)
}

// wire builds the transport callbacks for instance gen.
func (s *Session) wire(gen uint64) PeerHandlers {
	return PeerHandlers{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			s.post(event{kind: evLocalCandidate, gen: gen, candidate: c})
		},
		OnConnectionState: func(st webrtc.PeerConnectionState) {
			s.post(event{kind: evConnState, gen: gen, connState: st})
		},
		OnICEConnectionState: func(st webrtc.ICEConnectionState) {
			s.post(event{kind: evICEState, gen: gen, iceState: st})
		},
		OnTrack: func(kind webrtc.RTPCodecType) {
			s.post(event{kind: evTrack, gen: gen, trackKind: kind})
		},
		OnChannelOpen: func(ch multiplex.Channel) {
			s.post(event{kind: evChannelOpen, gen: gen, channel: ch})
		},
		OnChannelClose: func() {
			s.post(event{kind: evChannelClose, gen: gen})
		},
		OnChannelMessage: func(data []byte) {
			s.post(event{kind: evChannelMessage, gen: gen, data: data})
		},
	}
}

// handle processes one event. Events from a disposed instance are dropped.
func (s *Session) handle(ev event) {
	if s.stopped {
		return
	}
	if ev.gen != 0 && !s.neg.owns(ev.gen) {
		s.log.Debug("stale event %d from instance %d dropped", ev.kind, ev.gen)
		return
	}

	switch ev.kind {
	case evSignal:
		s.handleSignal(ev.msg)

	case evLocalCandidate:
		msg, err := signaling.NewMessage(signaling.MsgTypeCandidate, s.neg.target(), ev.candidate)
		if err != nil {
			s.log.Warning("encoding local candidate: %v", err)
			return
		}
		s.send(msg)

	case evConnState:
		s.log.Debug("peer connection state: %s", ev.connState)
		switch ev.connState {
		case webrtc.PeerConnectionStateConnected:
			s.fire(trigLinkUp, nil)
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			s.fire(trigLinkDown, fmt.Errorf("%w: connection %s", ErrPartnerLost, ev.connState))
		}

	case evICEState:
		s.log.Debug("ICE connection state: %s", ev.iceState)
		switch ev.iceState {
		case webrtc.ICEConnectionStateDisconnected,
			webrtc.ICEConnectionStateFailed,
			webrtc.ICEConnectionStateClosed:
			s.fire(trigLinkDown, fmt.Errorf("%w: ICE %s", ErrPartnerLost, ev.iceState))
		}

	case evTrack:
		s.log.Info("remote %s track received", ev.trackKind)

	case evChannelOpen:
		s.neg.conn.channel = ev.channel
		s.cfg.Mux.Attach(ev.channel)
		s.log.Info("data channel %q open", ev.channel.Label())
		s.cfg.Mux.Opened()

	case evChannelClose:
		s.neg.conn.channel = nil
		s.cfg.Mux.Detach()
		s.log.Debug("data channel closed")

	case evChannelMessage:
		s.cfg.Mux.Handle(ev.data)

	case evSendFailed:
		s.notice(fmt.Errorf("%w: %s to %s: %v", ErrSignaling, ev.msg.Type, short(ev.msg.To), ev.err))

	case evLeave:
		s.fire(trigLeave, nil)
	}
}

// handleSignal routes one relay message. Our own messages and messages
// addressed to another peer are ignored.
func (s *Session) handleSignal(msg signaling.Message) {
	if msg.From == "" || msg.From == s.cfg.Self.ID {
		return
	}
	if msg.To != "" && msg.To != s.cfg.Self.ID {
		return
	}

	switch msg.Type {
	case signaling.MsgTypeUserJoined:
		var join signaling.JoinPayload
		if len(msg.Data) > 0 {
			if err := msg.DecodeData(&join); err != nil {
				s.log.Warning("bad user-joined from %s: %v", short(msg.From), err)
			}
		}
		s.onPeerJoined(msg.From, join)

	case signaling.MsgTypeOffer:
		if s.cfg.Role != config.RoleHost {
			s.log.Warning("offer from %s ignored: participants do not answer", short(msg.From))
			return
		}
		if s.Status() == StatusConnected && msg.From != s.partner.ID {
			s.log.Debug("offer from %s ignored while connected", short(msg.From))
			return
		}
		s.learnPartner(msg.From, "")
		if err := s.neg.handleOffer(msg); err != nil {
			s.notice(err)
		}

	case signaling.MsgTypeAnswer:
		if s.cfg.Role != config.RoleParticipant || msg.From != s.neg.target() {
			s.log.Debug("unexpected answer from %s ignored", short(msg.From))
			return
		}
		if err := s.neg.handleAnswer(msg); err != nil {
			s.notice(err)
		}

	case signaling.MsgTypeCandidate:
		if partner := s.neg.target(); partner != "" && msg.From != partner {
			s.log.Debug("candidate from non-partner %s ignored", short(msg.From))
			return
		}
		s.neg.handleICECandidate(msg)

	case signaling.MsgTypeUserLeft:
		if msg.From != s.partner.ID {
			return
		}
		s.log.Info("partner %s left the session", short(msg.From))
		s.fire(trigLinkDown, fmt.Errorf("%w: left the session", ErrPartnerLost))

	default:
		s.log.Debug("unknown signaling message %q ignored", msg.Type)
	}
}

// onPeerJoined reacts to a user-joined announcement. A fresh instance is
// built unless the current one is unused or already negotiating with the
// same peer. The host answers with a directed announcement; the participant
// offers.
func (s *Session) onPeerJoined(from string, join signaling.JoinPayload) {
	if join.Role != "" && join.Role == string(s.cfg.Role) {
		s.log.Debug("user-joined from another %s ignored", join.Role)
		return
	}

	status, act := next(s.Status(), s.policy, trigPeerJoined)
	if act != actNegotiate {
		s.log.Debug("user-joined from %s ignored while %s", short(from), s.Status())
		return
	}

	conn := s.neg.conn
	if conn != nil && conn.partner == from {
		if s.cfg.Role == config.RoleHost && conn.flags.AnswerSent {
			return
		}
		if s.cfg.Role == config.RoleParticipant && conn.flags.OfferSent {
			return
		}
	}
	if conn == nil || conn.used() {
		s.cfg.Mux.Detach()
		if err := s.neg.createConnection(); err != nil {
			s.notice(err)
			return
		}
	}

	s.learnPartner(from, join.DisplayName)
	s.neg.conn.partner = from
	s.neg.partner = from
	s.setStatus(status)

	if s.cfg.Role == config.RoleHost {
		s.announce(from)
		return
	}
	if err := s.neg.initiateOffer(from); err != nil {
		s.notice(err)
	}
}

// announce sends user-joined, broadcast when to is empty.
func (s *Session) announce(to string) {
	msg, err := signaling.NewMessage(signaling.MsgTypeUserJoined, to, signaling.JoinPayload{
		DisplayName: s.cfg.Self.DisplayName,
		Role:        string(s.cfg.Role),
	})
	if err != nil {
		s.log.Warning("encoding user-joined: %v", err)
		return
	}
	s.send(msg)
}

// learnPartner records the partner identity. A known display name is kept
// when a later message does not carry one.
func (s *Session) learnPartner(id, name string) {
	if s.partner.ID != id {
		s.partner = PeerIdentity{ID: id}
	}
	if name != "" {
		s.partner.DisplayName = name
	}
}

// fire runs the transition for t and performs its action.
func (s *Session) fire(t trigger, cause error) {
	status, act := next(s.Status(), s.policy, t)
	s.log.Debug("%s: %s -> %s", t, s.Status(), status)

	switch act {
	case actConnected:
		s.setStatus(status)
		s.linked = true
		s.log.Info("connected to %s (%s)", short(s.partner.ID), s.partner.DisplayName)
		s.cfg.Observer.PartnerConnected(s.partner)

	case actRevolve:
		s.setStatus(status)
		s.revolve()

	case actTerminate:
		s.setStatus(status)
		s.terminate(cause)

	case actLeave:
		s.setStatus(status)
		if err := s.teardown(); err != nil {
			s.log.Warning("teardown: %v", err)
		}
		s.log.Info("left session %s", s.cfg.SessionID)
	}
}

// revolve drops the inner connection and waits for the next participant.
// Local media and signaling stay up.
func (s *Session) revolve() {
	s.cfg.Mux.Detach()
	if err := s.neg.dispose(); err != nil {
		s.log.Warning("closing connection: %v", err)
	}
	s.neg.partner = ""
	s.partner = PeerIdentity{}

	if s.linked {
		s.linked = false
		s.cfg.Observer.PartnerDisconnected()
	}
	s.log.Info("partner lost, waiting for the next participant")

	ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)
	defer cancel()
	if err := s.cfg.Directory.MarkAvailable(ctx, s.cfg.SessionID); err != nil {
		s.notice(fmt.Errorf("mark session available: %w", err))
	}
}

// terminate tears everything down and fires Exit once.
func (s *Session) terminate(cause error) {
	if s.stopped {
		return
	}
	s.setStatus(StatusDisconnected)
	if err := s.teardown(); err != nil {
		s.log.Warning("teardown: %v", err)
	}
	s.exitErr = cause
	if s.linked {
		s.linked = false
		s.cfg.Observer.PartnerDisconnected()
	}
	s.cfg.Observer.Exit(cause)
	s.log.Warning("session ended: %v", cause)
}

// teardown releases every resource of the session. It is idempotent.
func (s *Session) teardown() error {
	if s.stopped {
		return nil
	}
	s.stopped = true

	s.cfg.Mux.Detach()
	errs := []error{s.neg.dispose(), s.cfg.Signaling.Disconnect()}
	s.mediaOnce.Do(func() {
		errs = append(errs, s.cfg.Media.Stop())
	})

	if s.cfg.Role == config.RoleHost {
		ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)
		defer cancel()
		if err := s.cfg.Directory.MarkEnded(ctx, s.cfg.SessionID); err != nil {
			errs = append(errs, fmt.Errorf("mark session ended: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (s *Session) setStatus(st Status) {
	if Status(s.status.Swap(int32(st))) == st {
		return
	}
	util.Stats.AddTransition(st.String())
	s.cfg.Observer.StatusChanged(st)
}

func (s *Session) notice(err error) {
	s.log.Warning("%v", err)
	s.cfg.Observer.Notice(err)
}

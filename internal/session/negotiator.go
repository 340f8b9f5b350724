package session

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairline/internal/config"
	"github.com/1ureka/pairline/internal/multiplex"
	"github.com/1ureka/pairline/internal/signaling"
	"github.com/1ureka/pairline/internal/util"
)

// connection is one peer connection instance together with its negotiation
// state. Its callbacks are tagged with gen.
type connection struct {
	gen       uint64
	pc        PeerConnection
	flags     NegotiationFlags
	remoteSet bool
	partner   string
	channel   multiplex.Channel
}

func (c *connection) phase() Phase { return phase(c.flags, c.remoteSet) }

// used reports whether the instance has taken part in any exchange.
func (c *connection) used() bool { return c.flags.Used() || c.remoteSet }

// negotiator drives one SDP/ICE exchange per connection instance. The
// participant offers, the host only answers. It is owned by the session
// goroutine and is not safe for concurrent use.
type negotiator struct {
	role    config.Role
	factory PeerFactory
	wire    func(gen uint64) PeerHandlers
	out     func(signaling.Message)
	log     util.Scope

	gen        uint64
	conn       *connection
	candidates CandidateBuffer
	partner    string // last known partner id, used when no target is given
}

// owns reports whether gen belongs to the live instance.
func (n *negotiator) owns(gen uint64) bool {
	return n.conn != nil && n.conn.gen == gen
}

// createConnection disposes any previous instance and builds a new one with
// fresh flags. Replacing an instance also discards its buffered candidates.
func (n *negotiator) createConnection() error {
	if n.conn != nil {
		if err := n.dispose(); err != nil {
			n.log.Warning("closing previous connection: %v", err)
		}
	}

	n.gen++
	pc, err := n.factory.NewPeer(n.role == config.RoleParticipant, n.wire(n.gen))
	if err != nil {
		util.Stats.AddNegotiationError("create-connection")
		return fmt.Errorf("%w: create connection: %v", ErrNegotiation, err)
	}

	n.conn = &connection{gen: n.gen, pc: pc}
	util.Stats.AddAttempt()
	n.log.Debug("connection instance %d created", n.gen)
	return nil
}

// dispose closes the live instance, if any, and resets the candidate queue.
func (n *negotiator) dispose() error {
	n.candidates.Reset()
	if n.conn == nil {
		return nil
	}
	conn := n.conn
	n.conn = nil
	n.log.Debug("connection instance %d disposed", conn.gen)
	return conn.pc.Close()
}

// target resolves the addressee for outgoing negotiation messages.
func (n *negotiator) target() string {
	if n.conn != nil && n.conn.partner != "" {
		return n.conn.partner
	}
	return n.partner
}

// initiateOffer sends an offer to target, or to the last known partner when
// target is empty. It is a no-op when an offer was already sent on this
// instance or there is no instance. On failure OfferSent stays false.
func (n *negotiator) initiateOffer(target string) error {
	if n.conn == nil {
		n.log.Debug("no connection, offer skipped")
		return nil
	}
	if n.conn.flags.OfferSent {
		n.log.Debug("offer already sent on instance %d", n.conn.gen)
		return nil
	}
	if target == "" {
		target = n.partner
	}

	offer, err := n.conn.pc.CreateOffer()
	if err != nil {
		util.Stats.AddNegotiationError("create-offer")
		return fmt.Errorf("%w: create offer: %v", ErrNegotiation, err)
	}
	if err := n.conn.pc.SetLocalDescription(offer); err != nil {
		util.Stats.AddNegotiationError("set-local-offer")
		return fmt.Errorf("%w: set local offer: %v", ErrNegotiation, err)
	}

	n.conn.flags.OfferSent = true
	n.conn.partner = target
	if target != "" {
		n.partner = target
	}

	msg, err := signaling.NewMessage(signaling.MsgTypeOffer, target, offer)
	if err != nil {
		return err
	}
	n.out(msg)
	n.log.Info("offer sent to %s", short(target))
	return nil
}

// handleOffer applies a remote offer and answers it. A second offer on the
// same instance is ignored. The instance is created lazily when the previous
// one was torn down.
func (n *negotiator) handleOffer(msg signaling.Message) error {
	if n.conn != nil && n.conn.flags.OfferReceived {
		n.log.Debug("duplicate offer from %s ignored", short(msg.From))
		return nil
	}

	var sdp webrtc.SessionDescription
	if err := msg.DecodeData(&sdp); err != nil {
		return fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	if sdp.Type != webrtc.SDPTypeOffer {
		return fmt.Errorf("%w: offer message carries %s", ErrNegotiation, sdp.Type)
	}

	if n.conn == nil {
		if err := n.createConnection(); err != nil {
			return err
		}
	}

	if err := n.conn.pc.SetRemoteDescription(sdp); err != nil {
		util.Stats.AddNegotiationError("set-remote-offer")
		return fmt.Errorf("%w: set remote offer: %v", ErrNegotiation, err)
	}
	n.conn.flags.OfferReceived = true
	n.conn.remoteSet = true
	n.conn.partner = msg.From
	n.partner = msg.From
	n.drain()

	if n.conn.flags.AnswerSent {
		return nil
	}

	if err := n.answer(msg.From); err != nil {
		// The offer was not answered, so a repeated offer must be accepted.
		n.conn.flags.OfferReceived = false
		return err
	}
	return nil
}

// answer creates the local answer and sends it to target.
func (n *negotiator) answer(target string) error {
	answer, err := n.conn.pc.CreateAnswer()
	if err != nil {
		util.Stats.AddNegotiationError("create-answer")
		return fmt.Errorf("%w: create answer: %v", ErrNegotiation, err)
	}
	if err := n.conn.pc.SetLocalDescription(answer); err != nil {
		util.Stats.AddNegotiationError("set-local-answer")
		return fmt.Errorf("%w: set local answer: %v", ErrNegotiation, err)
	}

	reply, err := signaling.NewMessage(signaling.MsgTypeAnswer, target, answer)
	if err != nil {
		return err
	}
	n.conn.flags.AnswerSent = true
	n.out(reply)
	n.log.Info("answer sent to %s", short(target))
	return nil
}

// handleAnswer applies the partner's answer to our offer. It is ignored on
// the answering side and once the remote description is already set.
func (n *negotiator) handleAnswer(msg signaling.Message) error {
	if n.conn == nil {
		n.log.Debug("answer from %s without connection ignored", short(msg.From))
		return nil
	}
	if n.conn.flags.AnswerSent || !n.conn.flags.OfferSent || n.conn.remoteSet {
		n.log.Debug("answer from %s ignored in phase %s", short(msg.From), n.conn.phase())
		return nil
	}

	var sdp webrtc.SessionDescription
	if err := msg.DecodeData(&sdp); err != nil {
		return fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	if sdp.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("%w: answer message carries %s", ErrNegotiation, sdp.Type)
	}

	if err := n.conn.pc.SetRemoteDescription(sdp); err != nil {
		util.Stats.AddNegotiationError("set-remote-answer")
		return fmt.Errorf("%w: set remote answer: %v", ErrNegotiation, err)
	}
	n.conn.remoteSet = true
	n.drain()
	n.log.Info("answer from %s applied", short(msg.From))
	return nil
}

// handleICECandidate applies a remote candidate, or buffers it until the
// remote description is set. Failures are logged only.
func (n *negotiator) handleICECandidate(msg signaling.Message) {
	var c webrtc.ICECandidateInit
	if err := msg.DecodeData(&c); err != nil {
		n.log.Warning("dropping candidate from %s: %v", short(msg.From), err)
		return
	}

	if n.conn == nil || n.conn.pc.RemoteDescription() == nil {
		n.candidates.Enqueue(c)
		n.log.Debug("candidate buffered (%d pending)", n.candidates.Len())
		return
	}

	if err := n.conn.pc.AddICECandidate(c); err != nil {
		n.log.Warning("candidate rejected: %v", err)
	}
}

// drain applies the buffered candidates against the live instance.
func (n *negotiator) drain() {
	if n.candidates.Len() == 0 {
		return
	}
	applied, err := n.candidates.Drain(n.conn.pc.AddICECandidate)
	if err != nil {
		n.log.Warning("some buffered candidates were rejected: %v", err)
	}
	n.log.Debug("%d buffered candidates applied", applied)
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Package multiplex carries the collaboration sub-protocols over a single
// ordered, reliable data channel. Outbound envelopes are sent only while the
// channel is open; inbound ones are decoded and dispatched by type.
package multiplex

import (
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/pairline/internal/protocol"
	"github.com/1ureka/pairline/internal/util"
)

// ErrChannelClosed is returned by Send when no open channel is attached. The
// envelope is dropped.
var ErrChannelClosed = errors.New("data channel not open")

// Channel is the send side of a data channel.
type Channel interface {
	Label() string
	Open() bool
	SendText(text string) error
}

// Multiplexer routes envelopes between one data channel and the registered
// sub-protocol handlers. It is safe for concurrent use.
type Multiplexer struct {
	mu        sync.RWMutex
	ch        Channel
	handlers  map[protocol.Type]func(protocol.Payload)
	openHooks []func()
	observer  func(protocol.Envelope)
}

// New returns a multiplexer with no channel attached.
func New() *Multiplexer {
	return &Multiplexer{
		handlers: make(map[protocol.Type]func(protocol.Payload)),
	}
}

// On registers the handler for one envelope type, replacing any previous one.
func (m *Multiplexer) On(t protocol.Type, fn func(protocol.Payload)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[t] = fn
}

// OnOpen registers a hook run every time a channel opens.
func (m *Multiplexer) OnOpen(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openHooks = append(m.openHooks, fn)
}

// Observe registers a callback that sees every successfully decoded envelope
// before it is dispatched.
func (m *Multiplexer) Observe(fn func(protocol.Envelope)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = fn
}

// Attach binds the multiplexer to ch. Any previously attached channel is
// forgotten.
func (m *Multiplexer) Attach(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ch = ch
}

// Detach forgets the attached channel. Sends fail with ErrChannelClosed until
// the next Attach.
func (m *Multiplexer) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ch = nil
}

// Opened runs the open hooks. The caller invokes it once the attached
// channel reports open.
func (m *Multiplexer) Opened() {
	m.mu.RLock()
	hooks := make([]func(), len(m.openHooks))
	copy(hooks, m.openHooks)
	m.mu.RUnlock()

	for _, hook := range hooks {
		hook()
	}
}

// Send encodes p and writes it to the attached channel. Nothing is queued:
// if the channel is not open the envelope is dropped.
func (m *Multiplexer) Send(p protocol.Payload) error {
	m.mu.RLock()
	ch := m.ch
	m.mu.RUnlock()

	typ := string(p.EnvelopeType())
	if ch == nil || !ch.Open() {
		util.LogWarning("dropping %s envelope: data channel not open", typ)
		util.Stats.AddDropped("closed")
		return ErrChannelClosed
	}

	data, err := protocol.Encode(p)
	if err != nil {
		return err
	}
	if err := ch.SendText(string(data)); err != nil {
		util.Stats.AddDropped("send")
		return fmt.Errorf("failed to send %s envelope: %w", typ, err)
	}

	util.Stats.AddSent(typ, len(data))
	return nil
}

// Handle decodes one inbound data channel message and dispatches it.
// Malformed or unknown envelopes are logged and dropped.
func (m *Multiplexer) Handle(raw []byte) {
	env, err := protocol.Unmarshal(raw)
	if err != nil {
		util.LogWarning("dropping inbound envelope: %v", err)
		util.Stats.AddDropped("malformed")
		return
	}

	if !protocol.Known(env.Type) {
		util.LogWarning("ignoring envelope of unknown type %q", env.Type)
		util.Stats.AddDropped("unknown")
		return
	}

	payload, err := env.Decode()
	if err != nil {
		util.LogWarning("dropping %s envelope: %v", env.Type, err)
		util.Stats.AddDropped("malformed")
		return
	}

	util.Stats.AddRecv(string(env.Type), len(raw))

	m.mu.RLock()
	observer := m.observer
	handler := m.handlers[env.Type]
	m.mu.RUnlock()

	if observer != nil {
		observer(env)
	}
	if handler == nil {
		util.LogDebug("no handler registered for %s", env.Type)
		return
	}
	handler(payload)
}

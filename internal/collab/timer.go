package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/1ureka/pairline/internal/protocol"
	"github.com/1ureka/pairline/internal/util"
)

// ErrInvalidDuration is returned by Configure for non-positive durations.
var ErrInvalidDuration = errors.New("timer duration must be positive")

// Timer mirrors the session countdown. Whichever side configures it last
// wins; remote states are copied exactly, never merged.
type Timer struct {
	out  Sender
	sink TimerSink
	now  func() time.Time

	mu    sync.Mutex
	state *protocol.TimerState
}

// NewTimer returns an unset timer. now defaults to time.Now.
func NewTimer(out Sender, sink TimerSink, now func() time.Time) *Timer {
	if sink == nil {
		sink = NopTimer{}
	}
	if now == nil {
		now = time.Now
	}
	return &Timer{out: out, sink: sink, now: now}
}

// Bind registers the timer handler and the re-broadcast on channel open.
func (t *Timer) Bind(r Router) {
	r.On(protocol.TypeTimerConfig, func(p protocol.Payload) {
		t.Apply(p.(protocol.TimerState))
	})
	r.OnOpen(t.rebroadcast)
}

// Configure starts a countdown of d from now and broadcasts it. A zero
// reminder disables the reminder. The local state is kept even if the send
// fails; it is re-sent when the channel next opens.
func (t *Timer) Configure(d time.Duration, reminderMinutes int) (protocol.TimerState, error) {
	if d <= 0 {
		return protocol.TimerState{}, ErrInvalidDuration
	}

	state := protocol.TimerState{EndTimeMs: t.now().Add(d).UnixMilli()}
	if reminderMinutes > 0 {
		r := reminderMinutes
		state.ReminderMinutes = &r
	}

	t.set(state)
	return state, t.out.Send(state)
}

// Apply mirrors a state received from the partner.
func (t *Timer) Apply(state protocol.TimerState) {
	util.LogDebug("timer-config received: end=%d", state.EndTimeMs)
	t.set(state)
}

// State returns the current timer state, if any.
func (t *Timer) State() (protocol.TimerState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == nil {
		return protocol.TimerState{}, false
	}
	return copyState(*t.state), true
}

// Active reports whether a configured countdown has not yet expired.
func (t *Timer) Active() bool {
	state, ok := t.State()
	return ok && state.EndTimeMs > t.now().UnixMilli()
}

// Remaining returns the time left, or zero when unset or expired.
func (t *Timer) Remaining() time.Duration {
	state, ok := t.State()
	if !ok {
		return 0
	}
	left := time.UnixMilli(state.EndTimeMs).Sub(t.now())
	if left < 0 {
		return 0
	}
	return left
}

func (t *Timer) set(state protocol.TimerState) {
	s := copyState(state)
	t.mu.Lock()
	t.state = &s
	t.mu.Unlock()
	t.sink.TimerChanged(copyState(state))
}

// rebroadcast resends an active timer so a peer whose channel opened late
// catches up.
func (t *Timer) rebroadcast() {
	if !t.Active() {
		return
	}
	state, _ := t.State()
	if err := t.out.Send(state); err != nil {
		util.LogWarning("failed to re-broadcast timer: %v", err)
	}
}

func copyState(s protocol.TimerState) protocol.TimerState {
	if s.ReminderMinutes != nil {
		r := *s.ReminderMinutes
		s.ReminderMinutes = &r
	}
	return s
}

// Countdown ticks a Timer on a fixed period, independent of the connection
// state. It reports the reminder and expiry once per configured state.
type Countdown struct {
	timer  *Timer
	sink   TimerSink
	period time.Duration

	endMs    int64 // state the flags below belong to
	reminded bool
	expired  bool
}

// NewCountdown returns a countdown over timer reporting to sink.
func NewCountdown(timer *Timer, sink TimerSink, period time.Duration) *Countdown {
	if sink == nil {
		sink = NopTimer{}
	}
	if period <= 0 {
		period = time.Second
	}
	return &Countdown{timer: timer, sink: sink, period: period}
}

// Run ticks until ctx is cancelled.
func (c *Countdown) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.step()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// step evaluates the timer once.
func (c *Countdown) step() {
	state, ok := c.timer.State()
	if !ok {
		return
	}
	if state.EndTimeMs != c.endMs {
		c.endMs = state.EndTimeMs
		c.reminded = false
		c.expired = false
	}
	if c.expired {
		return
	}

	remaining := c.timer.Remaining()
	if remaining == 0 {
		c.expired = true
		c.sink.Expired()
		return
	}

	c.sink.Tick(remaining)

	if !c.reminded && state.ReminderMinutes != nil &&
		remaining <= time.Duration(*state.ReminderMinutes)*time.Minute {
		c.reminded = true
		c.sink.Reminder(remaining)
	}
}

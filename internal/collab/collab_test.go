package collab

import (
	"errors"
	"testing"
	"time"

	"github.com/1ureka/pairline/internal/multiplex"
	"github.com/1ureka/pairline/internal/protocol"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

// loopChannel hands every sent envelope to the partner multiplexer, emulating
// an ordered reliable data channel between two peers.
type loopChannel struct {
	open bool
	peer *multiplex.Multiplexer
	sent []string
}

func (c *loopChannel) Label() string { return "collab" }
func (c *loopChannel) Open() bool    { return c.open }

func (c *loopChannel) SendText(text string) error {
	c.sent = append(c.sent, text)
	if c.peer != nil {
		c.peer.Handle([]byte(text))
	}
	return nil
}

// linkedPair returns two multiplexers joined by open loop channels.
func linkedPair() (a, b *multiplex.Multiplexer, ab, ba *loopChannel) {
	a, b = multiplex.New(), multiplex.New()
	ab = &loopChannel{open: true, peer: b}
	ba = &loopChannel{open: true, peer: a}
	a.Attach(ab)
	b.Attach(ba)
	return a, b, ab, ba
}

type recordingBoard struct {
	strokes  []Stroke
	clears   int
	settings []protocol.WhiteboardSettings
}

func (r *recordingBoard) DrawStroke(s Stroke) { r.strokes = append(r.strokes, s) }
func (r *recordingBoard) Clear()              { r.clears++ }
func (r *recordingBoard) ApplySettings(s protocol.WhiteboardSettings) {
	r.settings = append(r.settings, s)
}

type recordingEditor struct {
	code, language string
	outputs        []string
}

func (r *recordingEditor) SetCode(code string)         { r.code = code }
func (r *recordingEditor) SetLanguage(language string) { r.language = language }
func (r *recordingEditor) ShowOutput(output string, _ bool) {
	r.outputs = append(r.outputs, output)
}

type recordingTimer struct {
	changes   []protocol.TimerState
	ticks     int
	reminders int
	expiries  int
}

func (r *recordingTimer) TimerChanged(s protocol.TimerState) { r.changes = append(r.changes, s) }
func (r *recordingTimer) Tick(time.Duration)                 { r.ticks++ }
func (r *recordingTimer) Reminder(time.Duration)             { r.reminders++ }
func (r *recordingTimer) Expired()                           { r.expiries++ }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func boolPtr(v bool) *bool { return &v }

// ---------------------------------------------------------------------------
// Editor
// ---------------------------------------------------------------------------

func TestEditorSyncWithoutEcho(t *testing.T) {
	a, b, ab, ba := linkedPair()

	localSink := &recordingEditor{}
	remoteSink := &recordingEditor{}
	local := NewEditor(a, localSink, localSink)
	remote := NewEditor(b, remoteSink, remoteSink)
	local.Bind(a)
	remote.Bind(b)

	if err := local.SetCode("fmt.Println(1)"); err != nil {
		t.Fatalf("SetCode failed: %v", err)
	}
	if err := local.SetLanguage("go"); err != nil {
		t.Fatalf("SetLanguage failed: %v", err)
	}
	if err := local.PublishOutput("1", false); err != nil {
		t.Fatalf("PublishOutput failed: %v", err)
	}

	if remoteSink.code != "fmt.Println(1)" || remoteSink.language != "go" {
		t.Errorf("remote sink: got %+v", remoteSink)
	}
	if code, lang := remote.Snapshot(); code != "fmt.Println(1)" || lang != "go" {
		t.Errorf("remote snapshot: got %q %q", code, lang)
	}
	if len(remoteSink.outputs) != 1 || len(localSink.outputs) != 1 {
		t.Errorf("outputs: local %v remote %v", localSink.outputs, remoteSink.outputs)
	}
	if len(ab.sent) != 3 {
		t.Errorf("local sent %d envelopes, want 3", len(ab.sent))
	}
	if len(ba.sent) != 0 {
		t.Errorf("remote echoed %d envelopes", len(ba.sent))
	}
}

func TestEditorKeepsStateWhenClosed(t *testing.T) {
	m := multiplex.New()
	e := NewEditor(m, nil, nil)

	if err := e.SetCode("draft"); !errors.Is(err, multiplex.ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
	if code, _ := e.Snapshot(); code != "draft" {
		t.Errorf("code: got %q, want draft", code)
	}
}

// ---------------------------------------------------------------------------
// Whiteboard
// ---------------------------------------------------------------------------

func TestWhiteboardStrokeScaling(t *testing.T) {
	a, b, ab, _ := linkedPair()

	localSink := &recordingBoard{}
	remoteSink := &recordingBoard{}
	local, err := NewWhiteboard(a, localSink, 800, 600)
	if err != nil {
		t.Fatalf("NewWhiteboard failed: %v", err)
	}
	remote, err := NewWhiteboard(b, remoteSink, 400, 300)
	if err != nil {
		t.Fatalf("NewWhiteboard failed: %v", err)
	}
	local.Bind(a)
	remote.Bind(b)

	in := Stroke{FromX: 400, FromY: 150, ToX: 800, ToY: 600, Tool: protocol.ToolPen, Color: "#f00", Width: 3}
	if err := local.Draw(in); err != nil {
		t.Fatalf("Draw failed: %v", err)
	}

	if len(localSink.strokes) != 1 || localSink.strokes[0] != in {
		t.Errorf("local stroke: got %+v", localSink.strokes)
	}
	want := `{"type":"whiteboard-stroke","fromX":0.5,"fromY":0.25,"toX":1,"toY":1,"tool":"pen","color":"#f00","strokeWidth":3}`
	if ab.sent[0] != want {
		t.Errorf("wire: got %s, want %s", ab.sent[0], want)
	}

	wantRemote := Stroke{FromX: 200, FromY: 75, ToX: 400, ToY: 300, Tool: protocol.ToolPen, Color: "#f00", Width: 3}
	if len(remoteSink.strokes) != 1 || remoteSink.strokes[0] != wantRemote {
		t.Errorf("remote stroke: got %+v, want %+v", remoteSink.strokes, wantRemote)
	}
}

func TestWhiteboardClearIsNotEchoed(t *testing.T) {
	a, b, ab, ba := linkedPair()

	localSink := &recordingBoard{}
	remoteSink := &recordingBoard{}
	local, _ := NewWhiteboard(a, localSink, 100, 100)
	remote, _ := NewWhiteboard(b, remoteSink, 100, 100)
	local.Bind(a)
	remote.Bind(b)

	if err := local.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if localSink.clears != 1 || remoteSink.clears != 1 {
		t.Errorf("clears: local %d remote %d, want 1 and 1", localSink.clears, remoteSink.clears)
	}
	if len(ab.sent) != 1 || ab.sent[0] != `{"type":"whiteboard-clear"}` {
		t.Errorf("local sent %v", ab.sent)
	}
	if len(ba.sent) != 0 {
		t.Errorf("remote clear was re-broadcast: %v", ba.sent)
	}
}

func TestWhiteboardSettingsBroadcastRule(t *testing.T) {
	pos := &protocol.Point{X: 10, Y: 20}
	size := &protocol.Size{Width: 300, Height: 200}

	testCases := []struct {
		name        string
		transparent bool
		update      protocol.WhiteboardSettings
		want        string // empty means nothing sent
	}{
		{
			name:   "position while opaque stays local",
			update: protocol.WhiteboardSettings{Position: pos, Size: size},
		},
		{
			name:   "transparency change always broadcast",
			update: protocol.WhiteboardSettings{IsTransparent: boolPtr(true)},
			want:   `{"type":"whiteboard-settings","isTransparent":true}`,
		},
		{
			name:        "position while transparent broadcast",
			transparent: true,
			update:      protocol.WhiteboardSettings{Position: pos},
			want:        `{"type":"whiteboard-settings","position":{"x":10,"y":20}}`,
		},
		{
			name:        "leaving transparent mode drops geometry",
			transparent: true,
			update:      protocol.WhiteboardSettings{IsTransparent: boolPtr(false), Size: size},
			want:        `{"type":"whiteboard-settings","isTransparent":false}`,
		},
		{
			name:   "entering transparent mode carries geometry",
			update: protocol.WhiteboardSettings{IsTransparent: boolPtr(true), Size: size},
			want:   `{"type":"whiteboard-settings","isTransparent":true,"size":{"width":300,"height":200}}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ch := &loopChannel{open: true}
			m := multiplex.New()
			m.Attach(ch)

			sink := &recordingBoard{}
			w, _ := NewWhiteboard(m, sink, 100, 100)
			w.transparent = tc.transparent

			if err := w.UpdateSettings(tc.update); err != nil {
				t.Fatalf("UpdateSettings failed: %v", err)
			}
			if len(sink.settings) != 1 {
				t.Errorf("local sink applied %d updates, want 1", len(sink.settings))
			}

			switch {
			case tc.want == "" && len(ch.sent) != 0:
				t.Errorf("expected nothing sent, got %v", ch.sent)
			case tc.want != "" && (len(ch.sent) != 1 || ch.sent[0] != tc.want):
				t.Errorf("sent %v, want [%s]", ch.sent, tc.want)
			}
		})
	}
}

func TestWhiteboardRemoteTransparency(t *testing.T) {
	a, b, _, _ := linkedPair()
	local, _ := NewWhiteboard(a, nil, 100, 100)
	remote, _ := NewWhiteboard(b, nil, 100, 100)
	local.Bind(a)
	remote.Bind(b)

	if err := local.UpdateSettings(protocol.WhiteboardSettings{IsTransparent: boolPtr(true)}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if !remote.Transparent() {
		t.Error("remote did not follow transparency change")
	}
}

func TestWhiteboardInvalidCanvas(t *testing.T) {
	if _, err := NewWhiteboard(multiplex.New(), nil, 0, 10); !errors.Is(err, ErrInvalidCanvas) {
		t.Fatalf("expected ErrInvalidCanvas, got %v", err)
	}
	w, _ := NewWhiteboard(multiplex.New(), nil, 10, 10)
	if err := w.Resize(10, -1); !errors.Is(err, ErrInvalidCanvas) {
		t.Fatalf("expected ErrInvalidCanvas, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Timer
// ---------------------------------------------------------------------------

func TestTimerRoundTripExact(t *testing.T) {
	a, b, _, _ := linkedPair()
	clock := &fakeClock{t: time.UnixMilli(1_760_000_000_000)}

	local := NewTimer(a, nil, clock.now)
	remoteSink := &recordingTimer{}
	remote := NewTimer(b, remoteSink, clock.now)
	local.Bind(a)
	remote.Bind(b)

	sent, err := local.Configure(45*time.Minute, 5)
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	got, ok := remote.State()
	if !ok {
		t.Fatal("remote timer not set")
	}
	if got.EndTimeMs != sent.EndTimeMs || got.EndTimeMs != 1_760_000_000_000+45*60*1000 {
		t.Errorf("EndTimeMs: got %d, want %d", got.EndTimeMs, sent.EndTimeMs)
	}
	if got.ReminderMinutes == nil || *got.ReminderMinutes != 5 {
		t.Errorf("ReminderMinutes: got %v, want 5", got.ReminderMinutes)
	}
	if len(remoteSink.changes) != 1 {
		t.Errorf("remote sink saw %d changes, want 1", len(remoteSink.changes))
	}
}

func TestTimerRebroadcastOnOpen(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(1_000_000)}
	m := multiplex.New()
	timer := NewTimer(m, nil, clock.now)
	timer.Bind(m)

	// Configured before any channel exists: kept locally, send dropped.
	if _, err := timer.Configure(10*time.Minute, 0); !errors.Is(err, multiplex.ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}

	ch := &loopChannel{open: true}
	m.Attach(ch)
	m.Opened()

	want := `{"type":"timer-config","endTimeMs":1600000,"reminderMinutes":null}`
	if len(ch.sent) != 1 || ch.sent[0] != want {
		t.Fatalf("sent %v, want [%s]", ch.sent, want)
	}

	// An expired timer is not re-sent.
	clock.advance(11 * time.Minute)
	m.Opened()
	if len(ch.sent) != 1 {
		t.Errorf("expired timer was re-broadcast: %v", ch.sent)
	}
}

func TestTimerInvalidDuration(t *testing.T) {
	timer := NewTimer(multiplex.New(), nil, nil)
	if _, err := timer.Configure(0, 0); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
	if _, ok := timer.State(); ok {
		t.Error("invalid configure must not set state")
	}
}

func TestCountdownReminderAndExpiryOnce(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(0)}
	timer := NewTimer(multiplex.New(), nil, clock.now)
	sink := &recordingTimer{}
	cd := NewCountdown(timer, sink, time.Second)

	cd.step()
	if sink.ticks != 0 {
		t.Fatalf("ticked without a timer")
	}

	reminder := 5
	timer.Apply(protocol.TimerState{EndTimeMs: (10 * time.Minute).Milliseconds(), ReminderMinutes: &reminder})

	cd.step() // 10m left
	clock.advance(4 * time.Minute)
	cd.step() // 6m left
	if sink.reminders != 0 {
		t.Fatalf("reminder fired early")
	}
	clock.advance(2 * time.Minute)
	cd.step() // 4m left
	cd.step()
	if sink.reminders != 1 {
		t.Errorf("reminders: got %d, want 1", sink.reminders)
	}

	clock.advance(5 * time.Minute)
	cd.step()
	cd.step()
	if sink.expiries != 1 {
		t.Errorf("expiries: got %d, want 1", sink.expiries)
	}
	if sink.ticks != 4 {
		t.Errorf("ticks: got %d, want 4", sink.ticks)
	}

	// A new configuration re-arms both notifications.
	timer.Apply(protocol.TimerState{EndTimeMs: clock.t.Add(time.Minute).UnixMilli(), ReminderMinutes: &reminder})
	cd.step()
	if sink.reminders != 2 {
		t.Errorf("reminders after re-arm: got %d, want 2", sink.reminders)
	}
}

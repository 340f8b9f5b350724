package collab

import (
	"errors"
	"sync"

	"github.com/1ureka/pairline/internal/protocol"
)

// ErrInvalidCanvas is returned for non-positive canvas dimensions.
var ErrInvalidCanvas = errors.New("canvas dimensions must be positive")

// Stroke is a line segment in local canvas pixels.
type Stroke struct {
	FromX, FromY float64
	ToX, ToY     float64
	Tool         protocol.Tool
	Color        string
	Width        float64
}

// Whiteboard shares strokes with the partner. Coordinates travel normalized
// to 0..1 of the sender's canvas and are scaled by the receiver's own canvas,
// so peers with different canvas sizes still line up.
type Whiteboard struct {
	out  Sender
	sink WhiteboardSink

	mu          sync.Mutex
	width       float64
	height      float64
	transparent bool
}

// NewWhiteboard returns a whiteboard for a canvas of the given size.
func NewWhiteboard(out Sender, sink WhiteboardSink, width, height float64) (*Whiteboard, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidCanvas
	}
	if sink == nil {
		sink = NopWhiteboard{}
	}
	return &Whiteboard{out: out, sink: sink, width: width, height: height}, nil
}

// Bind registers the whiteboard's inbound handlers.
func (w *Whiteboard) Bind(r Router) {
	r.On(protocol.TypeWhiteboardStroke, func(p protocol.Payload) {
		w.applyStroke(p.(protocol.WhiteboardStroke))
	})
	r.On(protocol.TypeWhiteboardClear, func(protocol.Payload) {
		// Local only: a remote clear is never re-broadcast.
		w.sink.Clear()
	})
	r.On(protocol.TypeWhiteboardSettings, func(p protocol.Payload) {
		w.applySettings(p.(protocol.WhiteboardSettings))
	})
}

// Resize changes the local canvas size used for scaling.
func (w *Whiteboard) Resize(width, height float64) error {
	if width <= 0 || height <= 0 {
		return ErrInvalidCanvas
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.width, w.height = width, height
	return nil
}

// Transparent reports whether transparent overlay mode is active.
func (w *Whiteboard) Transparent() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.transparent
}

// Draw renders a local stroke and sends it to the partner.
func (w *Whiteboard) Draw(s Stroke) error {
	w.sink.DrawStroke(s)

	w.mu.Lock()
	width, height := w.width, w.height
	w.mu.Unlock()

	return w.out.Send(protocol.WhiteboardStroke{
		FromX:       s.FromX / width,
		FromY:       s.FromY / height,
		ToX:         s.ToX / width,
		ToY:         s.ToY / height,
		Tool:        s.Tool,
		Color:       s.Color,
		StrokeWidth: s.Width,
	})
}

// Clear wipes the local canvas and asks the partner to do the same.
func (w *Whiteboard) Clear() error {
	w.sink.Clear()
	return w.out.Send(protocol.WhiteboardClear{})
}

// UpdateSettings applies a local settings change and broadcasts the part the
// partner cares about: transparency always, position and size only while
// transparent mode is active. Nothing is sent when nothing qualifies.
func (w *Whiteboard) UpdateSettings(s protocol.WhiteboardSettings) error {
	w.mu.Lock()
	if s.IsTransparent != nil {
		w.transparent = *s.IsTransparent
	}
	transparent := w.transparent
	w.mu.Unlock()

	w.sink.ApplySettings(s)

	out := protocol.WhiteboardSettings{IsTransparent: s.IsTransparent}
	if transparent {
		out.Position = s.Position
		out.Size = s.Size
	}
	if out.IsTransparent == nil && out.Position == nil && out.Size == nil {
		return nil
	}
	return w.out.Send(out)
}

func (w *Whiteboard) applyStroke(s protocol.WhiteboardStroke) {
	w.mu.Lock()
	width, height := w.width, w.height
	w.mu.Unlock()

	w.sink.DrawStroke(Stroke{
		FromX: clamp01(s.FromX) * width,
		FromY: clamp01(s.FromY) * height,
		ToX:   clamp01(s.ToX) * width,
		ToY:   clamp01(s.ToY) * height,
		Tool:  s.Tool,
		Color: s.Color,
		Width: s.StrokeWidth,
	})
}

func (w *Whiteboard) applySettings(s protocol.WhiteboardSettings) {
	if s.IsTransparent != nil {
		w.mu.Lock()
		w.transparent = *s.IsTransparent
		w.mu.Unlock()
	}
	w.sink.ApplySettings(s)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

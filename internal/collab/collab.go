// Package collab implements the collaboration sub-protocols carried over the
// data channel: code and language sync, execution output, the shared
// whiteboard and the session timer.
//
// Each component renders through a sink interface. A missing collaborator is
// represented by the matching Nop implementation.
package collab

import (
	"time"

	"github.com/1ureka/pairline/internal/protocol"
)

// Sender transmits one envelope to the partner.
type Sender interface {
	Send(p protocol.Payload) error
}

// Router delivers inbound envelopes and channel-open notifications.
type Router interface {
	On(t protocol.Type, fn func(protocol.Payload))
	OnOpen(fn func())
}

// CodeEditorSink renders the shared editor.
type CodeEditorSink interface {
	SetCode(code string)
	SetLanguage(language string)
}

// OutputSink renders execution output.
type OutputSink interface {
	ShowOutput(output string, isError bool)
}

// WhiteboardSink renders the shared whiteboard. Strokes arrive in local
// canvas pixels.
type WhiteboardSink interface {
	DrawStroke(s Stroke)
	Clear()
	ApplySettings(s protocol.WhiteboardSettings)
}

// TimerSink is notified whenever the timer state changes and as the
// countdown progresses.
type TimerSink interface {
	TimerChanged(state protocol.TimerState)
	Tick(remaining time.Duration)
	Reminder(remaining time.Duration)
	Expired()
}

type (
	NopCodeEditor struct{}
	NopOutput     struct{}
	NopWhiteboard struct{}
	NopTimer      struct{}
)

func (NopCodeEditor) SetCode(string)                            {}
func (NopCodeEditor) SetLanguage(string)                        {}
func (NopOutput) ShowOutput(string, bool)                       {}
func (NopWhiteboard) DrawStroke(Stroke)                         {}
func (NopWhiteboard) Clear()                                    {}
func (NopWhiteboard) ApplySettings(protocol.WhiteboardSettings) {}
func (NopTimer) TimerChanged(protocol.TimerState)               {}
func (NopTimer) Tick(time.Duration)                             {}
func (NopTimer) Reminder(time.Duration)                         {}
func (NopTimer) Expired()                                       {}

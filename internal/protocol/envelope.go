// Package protocol defines the envelope format carried over the collaboration
// DataChannel: one newline-free JSON object per message, tagged by "type".
package protocol

// Type identifies the sub-protocol an envelope belongs to.
type Type string

// Envelope types.
const (
	TypeCodeChange         Type = "code-change"
	TypeLanguageChange     Type = "language-change"
	TypeCodeOutput         Type = "code-output"
	TypeWhiteboardStroke   Type = "whiteboard-stroke"
	TypeWhiteboardClear    Type = "whiteboard-clear"
	TypeWhiteboardSettings Type = "whiteboard-settings"
	TypeTimerConfig        Type = "timer-config"
)

// Known reports whether t is one of the envelope types this build understands.
func Known(t Type) bool {
	switch t {
	case TypeCodeChange, TypeLanguageChange, TypeCodeOutput,
		TypeWhiteboardStroke, TypeWhiteboardClear, TypeWhiteboardSettings,
		TypeTimerConfig:
		return true
	}
	return false
}

// Payload is implemented by every typed envelope body.
type Payload interface {
	EnvelopeType() Type
}

// CodeChange is a full snapshot of the editor text (last writer wins).
type CodeChange struct {
	Code string `json:"code"`
}

// LanguageChange switches the editor language (last writer wins).
type LanguageChange struct {
	Language string `json:"language"`
}

// CodeOutput relays the result of a code execution to the partner.
type CodeOutput struct {
	Output  string `json:"output"`
	IsError bool   `json:"isError,omitempty"`
}

// Tool is the whiteboard drawing tool.
type Tool string

const (
	ToolPen    Tool = "pen"
	ToolEraser Tool = "eraser"
)

// WhiteboardStroke is one line segment. Coordinates are normalized to the
// 0..1 range of the sender's canvas.
type WhiteboardStroke struct {
	FromX       float64 `json:"fromX"`
	FromY       float64 `json:"fromY"`
	ToX         float64 `json:"toX"`
	ToY         float64 `json:"toY"`
	Tool        Tool    `json:"tool"`
	Color       string  `json:"color"`
	StrokeWidth float64 `json:"strokeWidth"`
}

// WhiteboardClear wipes the partner's canvas. It carries no payload.
type WhiteboardClear struct{}

// Point is a window position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a window size.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// WhiteboardSettings is a partial update; nil fields are unchanged.
type WhiteboardSettings struct {
	IsTransparent *bool  `json:"isTransparent,omitempty"`
	Position      *Point `json:"position,omitempty"`
	Size          *Size  `json:"size,omitempty"`
}

// TimerState is the session countdown as configured by whichever side last
// issued it. EndTimeMs is an absolute Unix timestamp in milliseconds.
type TimerState struct {
	EndTimeMs       int64 `json:"endTimeMs"`
	ReminderMinutes *int  `json:"reminderMinutes"`
}

func (CodeChange) EnvelopeType() Type         { return TypeCodeChange }
func (LanguageChange) EnvelopeType() Type     { return TypeLanguageChange }
func (CodeOutput) EnvelopeType() Type         { return TypeCodeOutput }
func (WhiteboardStroke) EnvelopeType() Type   { return TypeWhiteboardStroke }
func (WhiteboardClear) EnvelopeType() Type    { return TypeWhiteboardClear }
func (WhiteboardSettings) EnvelopeType() Type { return TypeWhiteboardSettings }
func (TimerState) EnvelopeType() Type         { return TypeTimerConfig }

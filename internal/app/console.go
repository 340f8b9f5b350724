package app

import (
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/pairline/internal/collab"
	"github.com/1ureka/pairline/internal/protocol"
	"github.com/1ureka/pairline/internal/session"
	"github.com/1ureka/pairline/internal/util"
)

// Console renders session notifications and partner edits on the terminal.
// It implements session.Observer and every collab sink.
type Console struct{}

// ---------------------------------------------------------------------------
// session.Observer
// ---------------------------------------------------------------------------

func (Console) StatusChanged(s session.Status) {
	switch s {
	case session.StatusConnected:
		pterm.Success.Println("status: connected")
	case session.StatusWaiting:
		pterm.Info.Println("status: waiting for the next participant")
	default:
		pterm.Info.Printfln("status: %s", s)
	}
}

func (Console) PartnerConnected(p session.PeerIdentity) {
	name := p.DisplayName
	if name == "" {
		name = "anonymous"
	}
	pterm.Success.Printfln("%s joined the session", name)
}

func (Console) PartnerDisconnected() {
	pterm.Warning.Println("partner disconnected")
}

func (Console) Envelope(env protocol.Envelope) {
	util.LogDebug("envelope %s received", env.Type)
}

func (Console) Notice(err error) {
	pterm.Warning.Printfln("%v", err)
}

func (Console) Exit(err error) {
	pterm.Error.Printfln("session ended: %v", err)
}

// ---------------------------------------------------------------------------
// collab sinks
// ---------------------------------------------------------------------------

func (Console) SetCode(code string) {
	pterm.DefaultBox.WithTitle("code").Println(code)
}

func (Console) SetLanguage(language string) {
	pterm.Info.Printfln("language: %s", language)
}

func (Console) ShowOutput(output string, isError bool) {
	if isError {
		pterm.Error.Println(strings.TrimRight(output, "\n"))
		return
	}
	pterm.DefaultBox.WithTitle("output").Println(strings.TrimRight(output, "\n"))
}

func (Console) DrawStroke(s collab.Stroke) {
	util.LogDebug("%s stroke (%.0f,%.0f)-(%.0f,%.0f) %s", s.Tool, s.FromX, s.FromY, s.ToX, s.ToY, s.Color)
}

func (Console) Clear() {
	pterm.Info.Println("whiteboard cleared")
}

func (Console) ApplySettings(s protocol.WhiteboardSettings) {
	if s.IsTransparent != nil {
		pterm.Info.Printfln("whiteboard overlay: %v", *s.IsTransparent)
	}
}

func (Console) TimerChanged(state protocol.TimerState) {
	end := time.UnixMilli(state.EndTimeMs)
	if state.ReminderMinutes != nil {
		pterm.Info.Printfln("timer ends at %s (reminder %d min before)", end.Format("15:04:05"), *state.ReminderMinutes)
		return
	}
	pterm.Info.Printfln("timer ends at %s", end.Format("15:04:05"))
}

func (Console) Tick(remaining time.Duration) {
	util.LogDebug("timer: %s left", remaining.Round(time.Second))
}

func (Console) Reminder(remaining time.Duration) {
	pterm.Warning.Printfln("%s left", remaining.Round(time.Second))
}

func (Console) Expired() {
	pterm.Warning.Println("time is up")
}

package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm's default logger.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// Scope prefixes every line with a fixed tag, e.g. "[host 1a2b3c4d]".
// The zero value logs without a prefix.
type Scope string

// NewScope builds a scope tag from a role name and a peer id (shortened to 8 chars).
func NewScope(role, peerID string) Scope {
	if len(peerID) > 8 {
		peerID = peerID[:8]
	}
	return Scope(fmt.Sprintf("[%s %s] ", role, peerID))
}

func (s Scope) Debug(format string, args ...interface{}) {
	LogDebug(string(s)+format, args...)
}

func (s Scope) Info(format string, args ...interface{}) {
	LogInfo(string(s)+format, args...)
}

func (s Scope) Warning(format string, args ...interface{}) {
	LogWarning(string(s)+format, args...)
}

func (s Scope) Error(format string, args ...interface{}) {
	LogError(string(s)+format, args...)
}

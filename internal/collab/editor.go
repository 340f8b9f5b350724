package collab

import (
	"sync"

	"github.com/1ureka/pairline/internal/protocol"
)

// Editor keeps the shared code buffer and language. Both are last-writer-wins
// snapshots; remote updates are rendered but never echoed back.
type Editor struct {
	out    Sender
	sink   CodeEditorSink
	output OutputSink

	mu       sync.Mutex
	code     string
	language string
}

// NewEditor returns an editor. Nil sinks are replaced by no-ops.
func NewEditor(out Sender, sink CodeEditorSink, output OutputSink) *Editor {
	if sink == nil {
		sink = NopCodeEditor{}
	}
	if output == nil {
		output = NopOutput{}
	}
	return &Editor{out: out, sink: sink, output: output}
}

// Bind registers the editor's inbound handlers.
func (e *Editor) Bind(r Router) {
	r.On(protocol.TypeCodeChange, func(p protocol.Payload) {
		e.applyCode(p.(protocol.CodeChange).Code)
	})
	r.On(protocol.TypeLanguageChange, func(p protocol.Payload) {
		e.applyLanguage(p.(protocol.LanguageChange).Language)
	})
	r.On(protocol.TypeCodeOutput, func(p protocol.Payload) {
		o := p.(protocol.CodeOutput)
		e.output.ShowOutput(o.Output, o.IsError)
	})
}

// SetCode records a local edit and broadcasts the full snapshot. The local
// state is kept even when the send fails.
func (e *Editor) SetCode(code string) error {
	e.mu.Lock()
	e.code = code
	e.mu.Unlock()

	return e.out.Send(protocol.CodeChange{Code: code})
}

// SetLanguage records a local language switch and broadcasts it.
func (e *Editor) SetLanguage(language string) error {
	e.mu.Lock()
	e.language = language
	e.mu.Unlock()

	return e.out.Send(protocol.LanguageChange{Language: language})
}

// PublishOutput shows execution output locally and relays it to the partner.
func (e *Editor) PublishOutput(output string, isError bool) error {
	e.output.ShowOutput(output, isError)
	return e.out.Send(protocol.CodeOutput{Output: output, IsError: isError})
}

// Snapshot returns the current code and language.
func (e *Editor) Snapshot() (code, language string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.code, e.language
}

func (e *Editor) applyCode(code string) {
	e.mu.Lock()
	e.code = code
	e.mu.Unlock()
	e.sink.SetCode(code)
}

func (e *Editor) applyLanguage(language string) {
	e.mu.Lock()
	e.language = language
	e.mu.Unlock()
	e.sink.SetLanguage(language)
}

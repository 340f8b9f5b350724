package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for payloads that are not a JSON object with a "type".
	ErrMalformed = errors.New("malformed envelope")
	// ErrUnknownType is returned by Decode for types this build does not understand.
	ErrUnknownType = errors.New("unknown envelope type")
)

// Envelope is a received message whose body has not been decoded yet.
type Envelope struct {
	Type Type
	Raw  json.RawMessage // the complete object, including "type"
}

type header struct {
	Type Type `json:"type"`
}

// Encode serializes a payload into a flat JSON object with its "type" first.
func Encode(p Payload) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.EnvelopeType(), err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("encode %s: %w", p.EnvelopeType(), ErrMalformed)
	}

	head, _ := json.Marshal(header{Type: p.EnvelopeType()})

	var buf bytes.Buffer
	buf.Grow(len(head) + len(body))
	buf.Write(head[:len(head)-1])
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// Unmarshal reads the envelope header. The body is kept raw so that unknown
// types can be skipped by the caller without failing.
func Unmarshal(data []byte) (Envelope, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if h.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return Envelope{Type: h.Type, Raw: raw}, nil
}

// Decode returns the typed payload of the envelope.
func (e Envelope) Decode() (Payload, error) {
	switch e.Type {
	case TypeCodeChange:
		return decodeAs[CodeChange](e)
	case TypeLanguageChange:
		return decodeAs[LanguageChange](e)
	case TypeCodeOutput:
		return decodeAs[CodeOutput](e)
	case TypeWhiteboardStroke:
		return decodeAs[WhiteboardStroke](e)
	case TypeWhiteboardClear:
		return WhiteboardClear{}, nil
	case TypeWhiteboardSettings:
		return decodeAs[WhiteboardSettings](e)
	case TypeTimerConfig:
		return decodeAs[TimerState](e)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
}

func decodeAs[T Payload](e Envelope) (Payload, error) {
	var v T
	if err := json.Unmarshal(e.Raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, e.Type, err)
	}
	return v, nil
}

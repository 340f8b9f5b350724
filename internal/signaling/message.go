// Package signaling carries SDP/ICE negotiation messages between the two peers
// of a session through a per-session pub/sub relay.
package signaling

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeUserJoined MessageType = "user-joined"
	MsgTypeOffer      MessageType = "offer"
	MsgTypeAnswer     MessageType = "answer"
	MsgTypeCandidate  MessageType = "ice-candidate"
	MsgTypeUserLeft   MessageType = "user-left"
)

// Message is the JSON structure exchanged over the relay. From is stamped by
// the relay; an empty To broadcasts to every other peer of the session.
//
// Payloads: offer/answer carry a webrtc.SessionDescription, ice-candidate a
// webrtc.ICECandidateInit, user-joined a JoinPayload. user-left has none.
type Message struct {
	Type MessageType     `json:"type"`
	From string          `json:"from,omitempty"`
	To   string          `json:"to,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinPayload announces a peer. Role lets a peer skip announcements from
// another peer of its own role.
type JoinPayload struct {
	DisplayName string `json:"displayName"`
	Role        string `json:"role,omitempty"`
}

// NewMessage builds a message addressed to to (empty = broadcast) with payload
// marshaled into Data. A nil payload leaves Data empty.
func NewMessage(typ MessageType, to string, payload any) (Message, error) {
	msg := Message{Type: typ, To: to}
	if payload == nil {
		return msg, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s payload: %w", typ, err)
	}
	msg.Data = data
	return msg, nil
}

// DecodeData unmarshals the message payload into v.
func (m Message) DecodeData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
	}
	return nil
}

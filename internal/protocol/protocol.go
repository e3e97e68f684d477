// Package protocol defines the wire envelope exchanged between a client
// session and the server. Both sides share the same closed set of
// message types; unknown types are rejected at decode time.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Type string

const (
	TypeNewMessage   Type = "NEW_MESSAGE"
	TypeTypingStart  Type = "TYPING_START"
	TypeTypingStop   Type = "TYPING_STOP"
	TypeMessageRead  Type = "MESSAGE_READ"
	TypeUserOnline   Type = "USER_ONLINE"
	TypeUserOffline  Type = "USER_OFFLINE"
	TypePing         Type = "PING"
	TypePong         Type = "PONG"
	TypeMessageSent  Type = "MESSAGE_SENT"
	TypeMessageError Type = "MESSAGE_ERROR"
)

var knownTypes = map[Type]struct{}{
	TypeNewMessage:   {},
	TypeTypingStart:  {},
	TypeTypingStop:   {},
	TypeMessageRead:  {},
	TypeUserOnline:   {},
	TypeUserOffline:  {},
	TypePing:         {},
	TypePong:         {},
	TypeMessageSent:  {},
	TypeMessageError: {},
}

func (t Type) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

var ErrUnknownType = errors.New("unknown message type")

// Envelope is the JSON frame for every message on the channel.
type Envelope struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope marshals data into an envelope stamped with the given time.
// A nil data produces an envelope with no payload (PING, PONG).
func NewEnvelope(t Type, data any, at time.Time) (Envelope, error) {
	if !t.Valid() {
		return Envelope{}, ErrUnknownType
	}
	env := Envelope{Type: t, Timestamp: at.UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode payload: %w", err)
		}
		env.Data = raw
	}
	return env, nil
}

func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Type.Valid() {
		return Envelope{}, ErrUnknownType
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return errors.New("envelope has no payload")
	}
	return json.Unmarshal(e.Data, v)
}

// SendRequest is the NEW_MESSAGE payload sent by a client.
type SendRequest struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// ChatMessage is the NEW_MESSAGE payload pushed to a receiver and the
// MESSAGE_SENT acknowledgement payload returned to the sender.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sentAt"`
}

// Typing is the TYPING_START / TYPING_STOP payload. Receiver-addressed,
// never persisted.
type Typing struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

// ReadReceipt is the MESSAGE_READ payload: reader has seen the
// conversation with the addressed peer up to now.
type ReadReceipt struct {
	ReaderID string `json:"readerId"`
	PeerID   string `json:"peerId"`
}

// Presence is the USER_ONLINE / USER_OFFLINE payload. The server also
// sends USER_ONLINE with the session's own user id as the post-handshake
// authenticated signal.
type Presence struct {
	UserID string `json:"userId"`
}

// ErrorInfo is the MESSAGE_ERROR payload. Codes distinguish
// authorization failures from validation and infrastructure failures so
// the UI can tell "not connected with this user" from "server error".
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeNotAuthorized  = "not_authorized"
	ErrCodeInvalidMessage = "invalid_message"
	ErrCodeServerError    = "server_error"
)

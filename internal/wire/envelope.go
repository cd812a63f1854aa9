// Package wire defines the tagged JSON envelope exchanged between the relay
// and its peers, and the typed payloads it can carry.
package wire

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

type MessageType string

var nullPayload = []byte("null")

const (
	TypeUserConnected    MessageType = "user_connected"
	TypeVoteUpdate       MessageType = "vote_update"
	TypeQuestionUpdate   MessageType = "question_update"
	TypeUserDisconnected MessageType = "user_disconnected"
)

func (t MessageType) Known() bool {
	switch t {
	case TypeUserConnected, TypeVoteUpdate, TypeQuestionUpdate, TypeUserDisconnected:
		return true
	}
	return false
}

// Relayable reports whether the relay fans this type out to other peers.
func (t MessageType) Relayable() bool {
	return t == TypeVoteUpdate || t == TypeQuestionUpdate
}

type Envelope struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// ParseError is returned for frames that are not a well-formed envelope or
// whose payload does not match its type.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "malformed message: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// NewEnvelope marshals payload and stamps the envelope with at in epoch ms.
func NewEnvelope(t MessageType, payload any, at time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "failed to marshal %s payload", t)
	}
	return Envelope{Type: t, Payload: raw, Timestamp: at.UnixMilli()}, nil
}

func Encode(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal envelope")
	}
	return b, nil
}

// Decode parses one inbound frame. Unknown type tags are not an error here;
// callers decide what to do with them.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, &ParseError{Err: err}
	}
	if env.Type == "" {
		return Envelope{}, &ParseError{Err: errors.New("missing type tag")}
	}
	if len(env.Payload) == 0 || bytes.Equal(env.Payload, nullPayload) {
		return Envelope{}, &ParseError{Err: errors.Errorf("%s has no payload", env.Type)}
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into T.
func DecodePayload[T any](env Envelope) (T, error) {
	var v T
	if len(env.Payload) == 0 {
		return v, &ParseError{Err: errors.Errorf("%s has no payload", env.Type)}
	}
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, &ParseError{Err: errors.Wrapf(err, "bad %s payload", env.Type)}
	}
	return v, nil
}

// Package bus propagates "collection changed" signals between execution
// contexts: over a same-device broadcaster and, optionally, a cross-device
// relay. Receivers reload from storage; messages never carry data.
package bus

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind identifies a message.
type Kind string

const (
	// KindPosts signals that the posts collection was rewritten.
	KindPosts Kind = "UPDATE_POSTS"
	// KindDarkMode carries the new dark mode setting.
	KindDarkMode Kind = "UPDATE_DARK_MODE"
)

// Message is the closed set of change signals. Value is set only for
// KindDarkMode.
type Message struct {
	Kind  Kind
	Value *bool
}

// PostsUpdated returns an UPDATE_POSTS message.
func PostsUpdated() Message { return Message{Kind: KindPosts} }

// DarkModeChanged returns an UPDATE_DARK_MODE message carrying on.
func DarkModeChanged(on bool) Message { return Message{Kind: KindDarkMode, Value: &on} }

// CrossesDevices reports whether m travels over the relay. Only UPDATE_POSTS
// does; dark mode stays on the device it was set on.
func (m Message) CrossesDevices() bool { return m.Kind == KindPosts }

type wireMessage struct {
	Type  Kind  `json:"type"`
	Value *bool `json:"value,omitempty"`
}

// MarshalJSON encodes m as {"type": ..., "value": ...}.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{Type: m.Kind, Value: m.Value})
}

func (m Message) String() string {
	if m.Value != nil {
		return fmt.Sprintf("%s(%t)", m.Kind, *m.Value)
	}
	return string(m.Kind)
}

// DecodeError describes an inbound payload that is not a recognized message.
type DecodeError struct {
	Reason  string
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode message: %s: %v", e.Reason, e.Err)
	}
	return "decode message: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

const maxQuotedPayload = 128

func decodeErr(raw []byte, reason string, err error) *DecodeError {
	p := string(raw)
	if len(p) > maxQuotedPayload {
		p = p[:maxQuotedPayload] + "..."
	}
	return &DecodeError{Reason: reason, Payload: p, Err: err}
}

// Decode parses raw strictly. Anything other than exactly one of the known
// message shapes is a *DecodeError.
func Decode(raw []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var w wireMessage
	if err := dec.Decode(&w); err != nil {
		return Message{}, decodeErr(raw, "malformed", err)
	}
	if dec.More() {
		return Message{}, decodeErr(raw, "trailing data", nil)
	}

	switch w.Type {
	case KindPosts:
		if w.Value != nil {
			return Message{}, decodeErr(raw, "unexpected value for "+string(KindPosts), nil)
		}
		return PostsUpdated(), nil
	case KindDarkMode:
		if w.Value == nil {
			return Message{}, decodeErr(raw, "missing value for "+string(KindDarkMode), nil)
		}
		return DarkModeChanged(*w.Value), nil
	case "":
		return Message{}, decodeErr(raw, "missing type", nil)
	default:
		return Message{}, decodeErr(raw, fmt.Sprintf("unknown type %q", w.Type), nil)
	}
}

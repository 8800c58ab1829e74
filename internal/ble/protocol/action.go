package protocol

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type payloadKind uint8

const (
	payloadNone payloadKind = iota
	payloadNumber
	payloadString
	payloadJSON
)

// Payload is the typed content of an Action before hex encoding. The zero
// value is an empty payload.
type Payload struct {
	kind payloadKind
	num  int64
	str  string
	obj  any
}

// Number returns a payload rendered as the hex of n's decimal digits.
func Number(n int64) Payload { return Payload{kind: payloadNumber, num: n} }

// Text returns a payload rendered as the hex of the raw bytes of s.
func Text(s string) Payload { return Payload{kind: payloadString, str: s} }

// JSON returns a payload rendered as the hex of v's JSON encoding.
func JSON(v any) Payload { return Payload{kind: payloadJSON, obj: v} }

// Encode returns the hex encoding of the payload.
func (p Payload) Encode() (string, error) {
	switch p.kind {
	case payloadNumber:
		return hex.EncodeToString([]byte(strconv.FormatInt(p.num, 10))), nil
	case payloadString:
		return hex.EncodeToString([]byte(p.str)), nil
	case payloadJSON:
		b, err := json.Marshal(p.obj)
		if err != nil {
			return "", fmt.Errorf("protocol: marshal payload: %w", err)
		}
		return hex.EncodeToString(b), nil
	default:
		return "", nil
	}
}

// defaultPayload is carried by messages built without explicit content.
var defaultPayload = Text("0")

// Message describes one logical request before the backend turns it into
// transmit-ready bytes.
type Message struct {
	ID      MessageType
	Name    string
	Payload Payload
}

// NewMessage returns a Message for t carrying the default "0" payload.
func NewMessage(t MessageType) Message {
	return Message{ID: t, Payload: defaultPayload}
}

// NewMessageWith returns a Message for t carrying p.
func NewMessageWith(t MessageType, p Payload) Message {
	return Message{ID: t, Payload: p}
}

// Action encodes m for submission to the backend. An unnamed message takes
// the symbolic name of its type.
func (m Message) Action() (Action, error) {
	payload, err := m.Payload.Encode()
	if err != nil {
		return Action{}, fmt.Errorf("protocol: %s: %w", m.ID, err)
	}
	name := m.Name
	if name == "" {
		name = m.ID.Name()
	}
	return Action{ID: m.ID, Name: name, Payload: payload}, nil
}

// Actions encodes msgs in order.
func Actions(msgs ...Message) ([]Action, error) {
	out := make([]Action, 0, len(msgs))
	for _, m := range msgs {
		a, err := m.Action()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Action is the backend-facing form of a Message with a hex payload.
type Action struct {
	ID      MessageType `json:"id"`
	Name    string      `json:"name"`
	Payload string      `json:"payload"`
}

// Request is a transmit-ready action returned by the backend. Payload holds
// hex chunks that are written to the characteristic one at a time.
type Request struct {
	ID               MessageType `json:"id"`
	Name             string      `json:"name"`
	ServiceID        string      `json:"service_id"`
	CharacteristicID string      `json:"characteristic_id"`
	Payload          []string    `json:"payload"`
	WithResponse     bool        `json:"withResponse"`
	DelayMillis      int         `json:"delayInMilis,omitempty"`
	UUID             string      `json:"uuid,omitempty"`
}

// Delay returns the wait before the request is written.
func (r Request) Delay() time.Duration {
	if r.DelayMillis <= 0 {
		return 0
	}
	return time.Duration(r.DelayMillis) * time.Millisecond
}

// Label returns the request name, falling back to the type name.
func (r Request) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID.String()
}

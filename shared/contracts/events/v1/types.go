package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	Version = 1

	TypeHello      = "hello"
	TypeHelloAck   = "hello.ack"
	TypeAuthChange = "auth.change"
	TypeError      = "error"
)

var AllowedTypes = map[string]struct{}{
	TypeHello:      {},
	TypeHelloAck:   {},
	TypeAuthChange: {},
	TypeError:      {},
}

type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := AllowedTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	if e.TS.IsZero() {
		return errors.New("missing ts")
	}
	if e.Payload == nil {
		return errors.New("missing payload")
	}
	return nil
}

type HelloPayload struct {
	Client string `json:"client,omitempty"`
}

type HelloAckPayload struct {
	ConnID string `json:"conn_id"`
}

// AuthChangePayload is pushed whenever the session user changes.
// A logout is LoggedIn=false with every other field empty.
type AuthChangePayload struct {
	LoggedIn  bool   `json:"logged_in"`
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Confirmed bool   `json:"confirmed"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

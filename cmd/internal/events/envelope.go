package events

import (
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	v1 "nidentity/shared/contracts/events/v1"

	"nidentity/cmd/internal/gotrue"
)

// NewID returns a ULID for an envelope created at now.
func NewID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return ulid.Make().String()
	}
	return id.String()
}

// NewEnvelope wraps payload in a v1 envelope.
func NewEnvelope(typ string, payload any, now time.Time) (v1.Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewID(now),
		TS:      now,
		Payload: b,
	}, nil
}

// AuthChangePayload summarizes u without any token material.
func AuthChangePayload(u *gotrue.User) v1.AuthChangePayload {
	if u == nil {
		return v1.AuthChangePayload{}
	}
	return v1.AuthChangePayload{
		LoggedIn:  true,
		UserID:    u.ID.String(),
		Email:     u.Email,
		Confirmed: u.Confirmed(),
	}
}

package storage

import (
	"encoding/json"
	"fmt"

	"nidentity/cmd/internal/gotrue"
	"nidentity/cmd/security/seal"
)

// DefaultProfile names the session slot when none is configured.
const DefaultProfile = "default"

// codec turns a user into the bytes a backend stores, and back.
type codec struct {
	profile string
	sealer  *seal.Sealer
}

func newCodec(profile string, s *seal.Sealer) codec {
	if profile == "" {
		profile = DefaultProfile
	}
	return codec{profile: profile, sealer: s}
}

func (c codec) encode(u *gotrue.User) ([]byte, error) {
	b, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("storage: encode: %w", err)
	}
	if c.sealer == nil {
		return b, nil
	}
	return c.sealer.Seal(c.profile, b)
}

func (c codec) decode(b []byte) (*gotrue.User, error) {
	if c.sealer != nil {
		pt, err := c.sealer.Open(c.profile, b)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		b = pt
	}

	var u gotrue.User
	if err := json.Unmarshal(b, &u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &u, nil
}

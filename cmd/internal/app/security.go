package app

import (
	"errors"
	"fmt"

	"nidentity/cmd/security/seal"
)

// ValidateSecurityConfig enforces the session sealing policy at startup and
// returns the sealer to use, or nil for plaintext storage.
//
// Fail-fast: when the policy demands a key, a missing or short key stops the
// process instead of silently writing plaintext sessions.
func ValidateSecurityConfig(cfg Config) (*seal.Sealer, error) {
	s, err := seal.FromEnv()
	if err != nil {
		switch {
		case errors.Is(err, seal.ErrKeyTooShort):
			return nil, fmt.Errorf("security policy: %s is too short (min %d bytes)", seal.KeyEnvKey, seal.MinKeyBytes)
		default:
			return nil, fmt.Errorf("security policy: %w", err)
		}
	}

	if s == nil && cfg.RequireSessionKey && cfg.Store != StoreMemory {
		return nil, fmt.Errorf("security policy: NID_REQUIRE_SESSION_KEY=true but %s is missing", seal.KeyEnvKey)
	}
	return s, nil
}

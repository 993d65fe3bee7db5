package seal

import (
	"crypto/rand"
	"crypto/sha256"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeyEnvKey is the env var name for the session sealing secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	KeyEnvKey = "NID_SESSION_KEY"

	// MinKeyBytes is the minimum accepted secret length.
	MinKeyBytes = 32

	hkdfInfo = "nidentity/session-seal/v1"
)

// Sealer encrypts and authenticates session payloads.
type Sealer struct {
	key []byte
}

// New derives a Sealer from a raw secret. The secret must be at least minBytes long.
func New(secret []byte, minBytes int) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, ErrKeyMissing
	}
	if minBytes > 0 && len(secret) < minBytes {
		return nil, ErrKeyTooShort
	}

	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return &Sealer{key: key}, nil
}

// KeyFromEnv returns the configured secret bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrKeyMissing.
// If too short -> ErrKeyTooShort.
func KeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(KeyEnvKey))
	if raw == "" {
		return nil, ErrKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrKeyTooShort
	}
	return b, nil
}

// FromEnv builds a Sealer from NID_SESSION_KEY.
// It returns (nil, nil) when the key is not configured so callers can store plaintext in dev.
func FromEnv() (*Sealer, error) {
	key, err := KeyFromEnv(MinKeyBytes)
	if err == ErrKeyMissing {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return New(key, MinKeyBytes)
}

// Seal encrypts plaintext and binds it to profile. Output layout: nonce || ciphertext.
func (s *Sealer) Seal(profile string, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, []byte(profile)), nil
}

// Open reverses Seal. Any tampering, wrong key or wrong profile yields ErrOpen.
func (s *Sealer) Open(profile string, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrOpen
	}

	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, []byte(profile))
	if err != nil {
		return nil, ErrOpen
	}
	return pt, nil
}

package seal

import "errors"

// Public, stable errors for callers.
var (
	ErrKeyMissing  = errors.New("session key missing")
	ErrKeyTooShort = errors.New("session key too short")
	ErrOpen        = errors.New("sealed payload cannot be opened")
)

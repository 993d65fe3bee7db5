package storage

import "errors"

var (
	// ErrConfig is returned for invalid store configuration.
	ErrConfig = errors.New("invalid store config")

	// ErrCorrupt is returned when a stored payload cannot be opened or decoded.
	ErrCorrupt = errors.New("stored session is corrupt")
)

package session

import (
	"errors"
	"fmt"
)

var (
	// ErrMisuse matches every MisuseError.
	ErrMisuse = errors.New("session misuse")

	// ErrNoUser is the kind for operations that need a logged-in user.
	ErrNoUser = errors.New("no current user")

	// ErrNoToken is the kind for authenticated fetches without an access token.
	ErrNoToken = errors.New("no user token found")

	// ErrNoPendingToken is the kind for operations that consume a fragment token
	// of a type that is not pending.
	ErrNoPendingToken = errors.New("no pending token of the required type")

	// ErrUnknownProvider is the kind for external logins with an unsupported provider.
	ErrUnknownProvider = errors.New("unknown external provider")

	// ErrInvalidSiteURL is returned by New for a site URL that is not absolute http(s).
	ErrInvalidSiteURL = errors.New("invalid site url")
)

// MisuseError reports an operation called in a state that does not allow it.
// It is a programming error, distinct from anything the provider returns.
type MisuseError struct {
	Op   string
	Kind error
}

func (e MisuseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

func (e MisuseError) Unwrap() error { return e.Kind }

// Is makes every MisuseError match ErrMisuse.
func (e MisuseError) Is(target error) bool { return target == ErrMisuse }

// IsMisuse reports whether err is a MisuseError.
func IsMisuse(err error) bool { return errors.Is(err, ErrMisuse) }

func misuse(op string, kind error) error {
	return MisuseError{Op: op, Kind: kind}
}

func remote(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}

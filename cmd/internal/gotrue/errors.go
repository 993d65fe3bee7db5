package gotrue

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	// ErrUnauthorized matches any APIError with status 401.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoSession is returned when a user carries no token.
	ErrNoSession = errors.New("user has no session token")

	// ErrNoRefreshToken is returned when an expired token cannot be refreshed.
	ErrNoRefreshToken = errors.New("session has no refresh token")

	// ErrMissingAccessToken is returned by CreateUser when the redirect carried no access_token.
	ErrMissingAccessToken = errors.New("missing access_token")
)

// APIError is a non-2xx answer from the identity API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gotrue: %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("gotrue: %d %s: %s", e.Status, e.Code, e.Message)
}

// Is lets callers match status classes with errors.Is.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == status
}

// parseAPIError understands the two body shapes GoTrue emits:
// {"code":400,"msg":"..."} for API errors and
// {"error":"invalid_grant","error_description":"..."} for the token endpoint.
func parseAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}

	var raw struct {
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &raw); err == nil {
		e.Code = raw.Error
		switch {
		case raw.Msg != "":
			e.Message = raw.Msg
		case raw.ErrorDescription != "":
			e.Message = raw.ErrorDescription
		case raw.Message != "":
			e.Message = raw.Message
		}
	}

	if e.Message == "" {
		if s := strings.TrimSpace(string(body)); s != "" && len(s) <= 256 && !strings.HasPrefix(s, "{") {
			e.Message = s
		} else {
			e.Message = http.StatusText(status)
		}
	}
	return e
}

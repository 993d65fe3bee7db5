package gotrue

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token is the credential pair attached to a logged-in user.
type Token struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ExpiresWithin reports whether the token expires before now+margin.
// A token without a known expiry is treated as valid.
func (t *Token) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if t == nil || t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(t.ExpiresAt)
}

// User is the identity record returned by the provider plus the session token.
type User struct {
	ID           uuid.UUID      `json:"id"`
	Aud          string         `json:"aud,omitempty"`
	Role         string         `json:"role,omitempty"`
	Email        string         `json:"email"`
	ConfirmedAt  *time.Time     `json:"confirmed_at,omitempty"`
	InvitedAt    *time.Time     `json:"invited_at,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`

	Token *Token `json:"token,omitempty"`
}

// Confirmed reports whether the account's email was confirmed.
func (u *User) Confirmed() bool {
	return u != nil && u.ConfirmedAt != nil && !u.ConfirmedAt.IsZero()
}

// AccessToken returns the bearer token or "".
func (u *User) AccessToken() string {
	if u == nil || u.Token == nil {
		return ""
	}
	return u.Token.AccessToken
}

// Clone returns a copy whose Token can be replaced without touching u.
// Metadata maps are shared; users are replaced wholesale, never edited in place.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	if u.Token != nil {
		t := *u.Token
		cp.Token = &t
	}
	return &cp
}

// UserAttributes is a partial profile update for PUT /user.
type UserAttributes struct {
	Email            string         `json:"email,omitempty"`
	Password         string         `json:"password,omitempty"`
	EmailChangeToken string         `json:"email_change_token,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
}

// tokenExpiry reads the exp claim of an access token without verifying it.
// Verification is the provider's job; the client only needs a refresh deadline.
func tokenExpiry(accessToken string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

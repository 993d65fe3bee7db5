package session

import (
	"context"
	"errors"
	"sync"

	"nidentity/cmd/internal/gotrue"
)

var errRemote = errors.New("remote says no")

// fakeProvider records calls; each *Err field makes the matching call fail.
type fakeProvider struct {
	mu    sync.Mutex
	calls []string

	cached   *gotrue.User
	settings gotrue.Settings

	confirmTokens []string
	createParams  []map[string]string
	recoverTokens []string
	inviteTokens  []string
	updates       []gotrue.UserAttributes

	signupErr, loginErr, logoutErr, recoverErr, inviteErr, updateErr, settingsErr error

	jwtUser *gotrue.User
	jwtErr  error
}

func (f *fakeProvider) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeProvider) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func user(email, access string) *gotrue.User {
	return &gotrue.User{Email: email, Token: &gotrue.Token{AccessToken: access, RefreshToken: "r-" + access}}
}

func (f *fakeProvider) Confirm(_ context.Context, token string, _ bool) (*gotrue.User, error) {
	f.record("Confirm")
	f.mu.Lock()
	f.confirmTokens = append(f.confirmTokens, token)
	f.mu.Unlock()
	return user("confirmed@example.com", "confirm-access"), nil
}

func (f *fakeProvider) CreateUser(_ context.Context, params map[string]string, _ bool) (*gotrue.User, error) {
	f.record("CreateUser")
	f.mu.Lock()
	f.createParams = append(f.createParams, params)
	f.mu.Unlock()
	return user("external@example.com", params["access_token"]), nil
}

func (f *fakeProvider) Settings(context.Context) (gotrue.Settings, error) {
	f.record("Settings")
	return f.settings, f.settingsErr
}

func (f *fakeProvider) Signup(_ context.Context, email, _ string, _ map[string]any) (*gotrue.User, error) {
	f.record("Signup")
	if f.signupErr != nil {
		return nil, f.signupErr
	}
	return &gotrue.User{Email: email}, nil
}

func (f *fakeProvider) Login(_ context.Context, email, _ string, _ bool) (*gotrue.User, error) {
	f.record("Login")
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return user(email, "login-access"), nil
}

func (f *fakeProvider) AcceptInvite(_ context.Context, token, _ string, _ bool) (*gotrue.User, error) {
	f.record("AcceptInvite")
	f.mu.Lock()
	f.inviteTokens = append(f.inviteTokens, token)
	f.mu.Unlock()
	if f.inviteErr != nil {
		return nil, f.inviteErr
	}
	return user("invited@example.com", "invite-access"), nil
}

func (f *fakeProvider) Recover(_ context.Context, token string, _ bool) (*gotrue.User, error) {
	f.record("Recover")
	f.mu.Lock()
	f.recoverTokens = append(f.recoverTokens, token)
	f.mu.Unlock()
	if f.recoverErr != nil {
		return nil, f.recoverErr
	}
	return user("recovered@example.com", "recover-access"), nil
}

func (f *fakeProvider) RequestPasswordRecovery(context.Context, string) error {
	f.record("RequestPasswordRecovery")
	return nil
}

func (f *fakeProvider) LoginExternalURL(p gotrue.Provider) string {
	return "https://site.example/.netlify/identity/authorize?provider=" + string(p)
}

func (f *fakeProvider) AcceptInviteExternalURL(p gotrue.Provider, token string) string {
	return f.LoginExternalURL(p) + "&invite_token=" + token
}

func (f *fakeProvider) CurrentUser(context.Context) (*gotrue.User, error) {
	f.record("CurrentUser")
	return f.cached, nil
}

func (f *fakeProvider) UpdateUser(_ context.Context, u *gotrue.User, attrs gotrue.UserAttributes) (*gotrue.User, error) {
	f.record("UpdateUser")
	f.mu.Lock()
	f.updates = append(f.updates, attrs)
	f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	nu := u.Clone()
	if attrs.Email != "" {
		nu.Email = attrs.Email
	}
	return nu, nil
}

func (f *fakeProvider) JWT(_ context.Context, u *gotrue.User, _ bool) (*gotrue.User, error) {
	f.record("JWT")
	if f.jwtErr != nil {
		return nil, f.jwtErr
	}
	if f.jwtUser != nil {
		return f.jwtUser, nil
	}
	return u, nil
}

func (f *fakeProvider) Logout(context.Context, *gotrue.User) error {
	f.record("Logout")
	return f.logoutErr
}

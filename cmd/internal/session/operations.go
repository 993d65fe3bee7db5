package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"nidentity/cmd/internal/fragment"
	"nidentity/cmd/internal/gotrue"
)

// Signup creates an account. With directLogin the result becomes the current
// user; otherwise the session is left alone.
func (c *Controller) Signup(ctx context.Context, email, password string, data map[string]any, directLogin bool) (*gotrue.User, error) {
	const op = "session.Signup"
	defer c.metrics.track(op, time.Now())

	u, err := c.provider.Signup(ctx, email, password, data)
	if err != nil {
		c.metrics.fail(op)
		c.log.Info("session.signup.fail", "err", err)
		return nil, remote(op, err)
	}
	if directLogin {
		return c.setUser(u), nil
	}
	return u, nil
}

// Login exchanges email and password for a session.
func (c *Controller) Login(ctx context.Context, email, password string, remember bool) (*gotrue.User, error) {
	const op = "session.Login"
	defer c.metrics.track(op, time.Now())

	u, err := c.provider.Login(ctx, email, password, remember)
	if err != nil {
		c.metrics.fail(op)
		c.log.Info("session.login.fail", "err", err)
		return nil, remote(op, err)
	}
	return c.setUser(u), nil
}

// Logout revokes the session remotely and clears it locally. The local state
// is cleared even when the remote call fails; that error is still returned.
func (c *Controller) Logout(ctx context.Context) error {
	const op = "session.Logout"
	u := c.User()
	if u == nil {
		return misuse(op, ErrNoUser)
	}
	defer c.metrics.track(op, time.Now())

	err := c.provider.Logout(ctx, u)
	c.setUser(nil)
	if err != nil {
		c.metrics.fail(op)
		c.log.Warn("session.logout.remote.fail", "err", err)
		return remote(op, err)
	}
	return nil
}

// UpdateUser applies attrs remotely and replaces the current user with the result.
func (c *Controller) UpdateUser(ctx context.Context, attrs gotrue.UserAttributes) (*gotrue.User, error) {
	const op = "session.UpdateUser"
	u := c.User()
	if u == nil {
		return nil, misuse(op, ErrNoUser)
	}
	defer c.metrics.track(op, time.Now())

	nu, err := c.provider.UpdateUser(ctx, u, attrs)
	if err != nil {
		c.metrics.fail(op)
		return nil, remote(op, err)
	}
	return c.setUser(nu), nil
}

// RequestPasswordRecovery asks the provider to email a recovery link.
func (c *Controller) RequestPasswordRecovery(ctx context.Context, email string) error {
	const op = "session.RequestPasswordRecovery"
	defer c.metrics.track(op, time.Now())

	if err := c.provider.RequestPasswordRecovery(ctx, email); err != nil {
		c.metrics.fail(op)
		return remote(op, err)
	}
	return nil
}

// RecoverAccount exchanges the pending recovery token for a session. The
// token is consumed whether or not the exchange succeeds.
func (c *Controller) RecoverAccount(ctx context.Context, remember bool) (*gotrue.User, error) {
	const op = "session.RecoverAccount"
	p, ok := c.takeParam(fragment.TypeRecovery)
	if !ok {
		return nil, misuse(op, ErrNoPendingToken)
	}
	defer c.metrics.track(op, time.Now())

	u, err := c.provider.Recover(ctx, p.Token, remember)
	if err != nil {
		c.metrics.fail(op)
		return nil, remote(op, err)
	}
	return c.setUser(u), nil
}

// AcceptInvite completes a pending invite by setting the account password.
// The token is consumed whether or not the exchange succeeds.
func (c *Controller) AcceptInvite(ctx context.Context, password string, remember bool) (*gotrue.User, error) {
	const op = "session.AcceptInvite"
	p, ok := c.takeParam(fragment.TypeInvite)
	if !ok {
		return nil, misuse(op, ErrNoPendingToken)
	}
	defer c.metrics.track(op, time.Now())

	u, err := c.provider.AcceptInvite(ctx, p.Token, password, remember)
	if err != nil {
		c.metrics.fail(op)
		return nil, remote(op, err)
	}
	return c.setUser(u), nil
}

// AcceptInviteExternalURL returns the provider login URL that also accepts the
// pending invite, and consumes it.
func (c *Controller) AcceptInviteExternalURL(p gotrue.Provider) (string, error) {
	const op = "session.AcceptInviteExternalURL"
	if !p.Valid() {
		return "", misuse(op, ErrUnknownProvider)
	}
	param, ok := c.takeParam(fragment.TypeInvite)
	if !ok {
		return "", misuse(op, ErrNoPendingToken)
	}
	return c.provider.AcceptInviteExternalURL(p, param.Token), nil
}

// ConfirmEmailChange applies the pending email change token to the current
// user. The token is consumed whether or not the update succeeds.
func (c *Controller) ConfirmEmailChange(ctx context.Context) (*gotrue.User, error) {
	const op = "session.ConfirmEmailChange"
	if c.User() == nil {
		return nil, misuse(op, ErrNoUser)
	}
	p, ok := c.takeParam(fragment.TypeEmailChange)
	if !ok {
		return nil, misuse(op, ErrNoPendingToken)
	}
	return c.UpdateUser(ctx, gotrue.UserAttributes{EmailChangeToken: p.Token})
}

// LoginProvider sends the surface to the provider's external login page.
func (c *Controller) LoginProvider(p gotrue.Provider) error {
	const op = "session.LoginProvider"
	if !p.Valid() {
		return misuse(op, ErrUnknownProvider)
	}
	if c.surface == nil {
		return remote(op, fragment.ErrInvalidLocation)
	}
	return c.surface.Navigate(c.provider.LoginExternalURL(p))
}

// GetFreshJWT returns the current access token, refreshing it first when it is
// about to expire. A refreshed user replaces the current one.
func (c *Controller) GetFreshJWT(ctx context.Context) (string, error) {
	const op = "session.GetFreshJWT"
	u := c.User()
	if u == nil {
		return "", misuse(op, ErrNoUser)
	}

	fresh, err := c.provider.JWT(ctx, u, false)
	if err != nil {
		c.metrics.fail(op)
		if errors.Is(err, gotrue.ErrUnauthorized) || gotrue.IsStatus(err, http.StatusBadRequest) {
			// The provider dropped the session along with the refresh token.
			c.log.Info("session.expired", "user_id", u.ID.String())
			c.setUser(nil)
		}
		return "", remote(op, err)
	}
	if fresh != u {
		c.metrics.refreshed()
		c.setUser(fresh)
	}
	return fresh.AccessToken(), nil
}

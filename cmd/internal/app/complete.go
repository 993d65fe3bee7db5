package app

import (
	"context"
	"errors"

	"nidentity/cmd/internal/fragment"
	"nidentity/cmd/internal/gotrue"
	"nidentity/cmd/internal/session"
)

// ErrPasswordRequired is returned when a pending invite needs a password to finish.
var ErrPasswordRequired = errors.New("password required")

// Outcome names what Complete did with a pending token.
type Outcome string

const (
	OutcomeNone           Outcome = ""
	OutcomeRecovered      Outcome = "recovered"
	OutcomePasswordReset  Outcome = "password_reset"
	OutcomeInviteAccepted Outcome = "invite_accepted"
	OutcomeEmailChanged   Outcome = "email_changed"
)

// Complete finishes the token Init left pending on ctrl: recovery logs the
// user in (and sets password when given), an invite is accepted with password,
// an email change is applied to the current user. Other params are left alone.
func Complete(ctx context.Context, ctrl *session.Controller, password string, remember bool) (Outcome, error) {
	switch ctrl.Param().Type {
	case fragment.TypeRecovery:
		if _, err := ctrl.RecoverAccount(ctx, remember); err != nil {
			return OutcomeNone, err
		}
		if password == "" {
			return OutcomeRecovered, nil
		}
		if _, err := ctrl.UpdateUser(ctx, gotrue.UserAttributes{Password: password}); err != nil {
			return OutcomeRecovered, err
		}
		return OutcomePasswordReset, nil

	case fragment.TypeInvite:
		if password == "" {
			return OutcomeNone, ErrPasswordRequired
		}
		if _, err := ctrl.AcceptInvite(ctx, password, remember); err != nil {
			return OutcomeNone, err
		}
		return OutcomeInviteAccepted, nil

	case fragment.TypeEmailChange:
		if _, err := ctrl.ConfirmEmailChange(ctx); err != nil {
			return OutcomeNone, err
		}
		return OutcomeEmailChanged, nil
	}
	return OutcomeNone, nil
}

package session

import (
	"context"

	"nidentity/cmd/internal/fragment"
	"nidentity/cmd/internal/gotrue"
)

// Provider is the identity service the controller drives. *gotrue.Client implements it.
type Provider interface {
	fragment.Client

	Settings(ctx context.Context) (gotrue.Settings, error)
	Signup(ctx context.Context, email, password string, data map[string]any) (*gotrue.User, error)
	Login(ctx context.Context, email, password string, remember bool) (*gotrue.User, error)
	AcceptInvite(ctx context.Context, token, password string, remember bool) (*gotrue.User, error)
	Recover(ctx context.Context, token string, remember bool) (*gotrue.User, error)
	RequestPasswordRecovery(ctx context.Context, email string) error
	LoginExternalURL(p gotrue.Provider) string
	AcceptInviteExternalURL(p gotrue.Provider, inviteToken string) string
	CurrentUser(ctx context.Context) (*gotrue.User, error)
	UpdateUser(ctx context.Context, u *gotrue.User, attrs gotrue.UserAttributes) (*gotrue.User, error)
	JWT(ctx context.Context, u *gotrue.User, force bool) (*gotrue.User, error)
	Logout(ctx context.Context, u *gotrue.User) error
}

var _ Provider = (*gotrue.Client)(nil)

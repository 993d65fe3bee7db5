package fragment

import (
	"context"
	"log/slog"
	"net/http"

	"nidentity/cmd/internal/gotrue"
)

// Client is the part of the identity client the parser drives.
type Client interface {
	Confirm(ctx context.Context, token string, remember bool) (*gotrue.User, error)
	CreateUser(ctx context.Context, params map[string]string, remember bool) (*gotrue.User, error)
}

// ApplyFunc stores a user as the session's current one and returns it.
type ApplyFunc func(*gotrue.User) *gotrue.User

// Parser consumes the fragment on a Surface.
//
// Run is not idempotent: on an unconsumed fragment every call repeats the
// exchange. Callers run it once per page load.
type Parser struct {
	Surface  Surface
	Client   Client
	Remember bool
	Log      *slog.Logger

	// Observe, when set, is told about every exchange the parser performs.
	Observe func(t Type, err error)
}

// Run classifies the current fragment, performs the confirmation and access
// exchanges itself, clears the fragment and returns what the caller must act
// on. Exchange failures are logged, never returned.
func (p *Parser) Run(ctx context.Context, apply ApplyFunc) TokenParam {
	raw := p.Surface.Fragment()
	if raw == "" {
		return Default
	}

	param, pairs := Classify(raw)
	defer p.Surface.ClearFragment()

	switch param.Type {
	case TypeConfirmation:
		u, err := p.Client.Confirm(ctx, param.Token, p.Remember)
		p.finish(TypeConfirmation, u, err, apply)
		return Default

	case TypeAccess:
		if access := pairs["access_token"]; access != "" {
			p.Surface.SetCookie(&http.Cookie{Name: CookieName, Value: access, Path: "/"})
		}
		u, err := p.Client.CreateUser(ctx, pairs, p.Remember)
		p.finish(TypeAccess, u, err, apply)
		return Default
	}

	if param.IsError() {
		p.logger().Info("fragment.access_denied", "status", param.Status)
	}
	return param
}

func (p *Parser) finish(t Type, u *gotrue.User, err error, apply ApplyFunc) {
	if p.Observe != nil {
		p.Observe(t, err)
	}
	if err != nil {
		p.logger().Error("fragment.exchange.fail", "type", string(t), "err", err)
		return
	}
	if apply != nil {
		apply(u)
	}
}

func (p *Parser) logger() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

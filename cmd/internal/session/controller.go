package session

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"nidentity/cmd/internal/fragment"
	"nidentity/cmd/internal/gotrue"
)

// AuthChangeFunc is told about every change of the current user; nil means logged out.
type AuthChangeFunc func(u *gotrue.User)

// Controller owns one session. It is safe for concurrent use; the last
// mutation to finish decides the visible user.
type Controller struct {
	cfg      Config
	site     *url.URL
	surface  fragment.Surface
	provider Provider
	log      *slog.Logger
	onChange AuthChangeFunc
	metrics  *Metrics
	http     *http.Client

	// client-construction inputs, used only when no Provider is injected
	store gotrue.Store

	settingsDone chan struct{}

	mu        sync.Mutex
	user      *gotrue.User
	settings  gotrue.Settings
	param     fragment.TokenParam
	processed bool
	closed    bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithProvider injects the identity provider, e.g. one client shared by the
// per-navigation controllers of a server.
func WithProvider(p Provider) Option {
	return func(c *Controller) { c.provider = p }
}

// WithStore sets the session store of the provider client New builds.
func WithStore(s gotrue.Store) Option {
	return func(c *Controller) { c.store = s }
}

// WithHTTPClient sets the HTTP client used by the built provider client and AuthedFetch.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Controller) {
		if h != nil {
			c.http = h
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithAuthChange subscribes fn to user changes.
func WithAuthChange(fn AuthChangeFunc) Option {
	return func(c *Controller) { c.onChange = fn }
}

// WithMetrics records controller activity.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New builds a Controller for cfg.SiteURL acting on surface.
func New(cfg Config, surface fragment.Surface, opts ...Option) (*Controller, error) {
	site, err := ParseSiteURL(cfg.SiteURL)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:          cfg,
		site:         site,
		surface:      surface,
		log:          slog.Default(),
		http:         http.DefaultClient,
		settings:     gotrue.DefaultSettings(),
		settingsDone: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.provider == nil {
		icfg := cfg.Identity
		if icfg.APIURL == "" {
			icfg.APIURL = gotrue.APIURLForSite(site.String())
		}
		gopts := []gotrue.Option{gotrue.WithLogger(c.log), gotrue.WithStore(c.store)}
		if c.http != http.DefaultClient {
			gopts = append(gopts, gotrue.WithHTTPClient(c.http))
		}
		client, err := gotrue.New(icfg, gopts...)
		if err != nil {
			return nil, err
		}
		c.provider = client
	}
	return c, nil
}

// SiteURL returns the validated site URL.
func (c *Controller) SiteURL() string { return c.site.String() }

// Provider returns the identity provider in use.
func (c *Controller) Provider() Provider { return c.provider }

// Init restores a cached session, consumes the URL fragment and starts loading
// settings. Only the first call does anything; later calls return the param
// as it stands.
func (c *Controller) Init(ctx context.Context) fragment.TokenParam {
	c.mu.Lock()
	if c.processed || c.closed {
		p := c.param
		c.mu.Unlock()
		return p
	}
	c.processed = true
	c.mu.Unlock()

	if u, err := c.provider.CurrentUser(ctx); err != nil {
		c.log.Warn("session.restore.fail", "err", err)
	} else if u != nil {
		c.setUser(u)
		c.log.Debug("session.restore", "user_id", u.ID.String())
	}

	var param fragment.TokenParam
	if c.surface != nil {
		p := &fragment.Parser{
			Surface:  c.surface,
			Client:   c.provider,
			Remember: c.cfg.Remember,
			Log:      c.log,
			Observe:  c.metrics.observeExchange,
		}
		param = p.Run(ctx, c.setUser)
	}
	c.metrics.observeParam(param)

	c.mu.Lock()
	if !c.closed {
		c.param = param
	}
	c.mu.Unlock()

	go c.loadSettings(context.WithoutCancel(ctx))
	return param
}

func (c *Controller) loadSettings(ctx context.Context) {
	defer close(c.settingsDone)

	s, err := c.provider.Settings(ctx)
	if err != nil {
		c.log.Warn("session.settings.fail", "err", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.settings = s
}

// setUser is the single place the current user changes.
func (c *Controller) setUser(u *gotrue.User) *gotrue.User {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return u
	}
	c.user = u
	fn := c.onChange
	c.mu.Unlock()

	c.metrics.observeAuthChange(u)
	if fn != nil {
		fn(u)
	}
	return u
}

// Close detaches the controller; later state writes are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// User returns the current user or nil.
func (c *Controller) User() *gotrue.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// IsLoggedIn reports whether a user is present.
func (c *Controller) IsLoggedIn() bool { return c.User() != nil }

// IsConfirmedUser reports whether the current user has confirmed their email.
func (c *Controller) IsConfirmedUser() bool { return c.User().Confirmed() }

// Settings returns the instance settings, or the conservative default until loaded.
func (c *Controller) Settings() gotrue.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// WaitSettings blocks until the settings load started by Init has finished.
func (c *Controller) WaitSettings(ctx context.Context) (gotrue.Settings, error) {
	select {
	case <-c.settingsDone:
		return c.Settings(), nil
	case <-ctx.Done():
		return c.Settings(), ctx.Err()
	}
}

// Param returns the pending fragment token, or fragment.Default.
func (c *Controller) Param() fragment.TokenParam {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.param
}

// takeParam clears the pending param and returns it when it has type t.
func (c *Controller) takeParam(t fragment.Type) (fragment.TokenParam, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.param
	if p.Type != t || !p.HasToken() {
		return p, false
	}
	c.param = fragment.Default
	return p, true
}

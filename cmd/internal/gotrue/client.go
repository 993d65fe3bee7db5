package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const maxResponseBytes = 1 << 20

// Store persists the remembered session between processes.
// Load returns (nil, nil) when nothing is stored.
type Store interface {
	Load(ctx context.Context) (*User, error)
	Save(ctx context.Context, u *User) error
	Clear(ctx context.Context) error
}

// Client talks to one identity API instance and owns its current session.
type Client struct {
	cfg   Config
	base  *url.URL
	http  *http.Client
	oauth *oauth2.Config
	store Store
	log   *slog.Logger
	now   func() time.Time

	mu         sync.Mutex
	current    *User
	remembered bool
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithStore enables session persistence for remember=true logins.
func WithStore(s Store) Option {
	return func(c *Client) { c.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New constructs a Client. cfg.APIURL must be an absolute http(s) URL.
func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := parseAPIURL(cfg.APIURL)
	if err != nil {
		return nil, ErrConfig
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultConfig().HTTPTimeout
	}
	if cfg.ExpiryMargin < 0 {
		cfg.ExpiryMargin = 0
	}

	c := &Client{
		cfg:  cfg,
		base: base,
		http: &http.Client{Timeout: cfg.HTTPTimeout},
		log:  slog.Default(),
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	c.oauth = &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.endpoint("/token"),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return c, nil
}

// APIURL returns the identity API root.
func (c *Client) APIURL() string { return c.base.String() }

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

// ---- settings + external providers ----

// Settings fetches the instance capability flags.
func (c *Client) Settings(ctx context.Context) (Settings, error) {
	var s Settings
	if err := c.do(ctx, http.MethodGet, "/settings", "", nil, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoginExternalURL is where the browser goes to log in with provider p.
func (c *Client) LoginExternalURL(p Provider) string {
	return c.endpoint("/authorize?provider=" + url.QueryEscape(string(p)))
}

// AcceptInviteExternalURL is LoginExternalURL carrying an invite token.
func (c *Client) AcceptInviteExternalURL(p Provider, inviteToken string) string {
	return c.LoginExternalURL(p) + "&invite_token=" + url.QueryEscape(inviteToken)
}

// ---- account flows ----

// Signup creates an account. The returned user has no token: depending on the
// instance's autoconfirm setting the address must be confirmed before login.
func (c *Client) Signup(ctx context.Context, email, password string, data map[string]any) (*User, error) {
	in := struct {
		Email    string         `json:"email"`
		Password string         `json:"password"`
		Data     map[string]any `json:"data,omitempty"`
	}{Email: email, Password: password, Data: data}

	var u User
	if err := c.do(ctx, http.MethodPost, "/signup", "", in, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Login performs the OAuth2 password grant and loads the user record.
func (c *Client) Login(ctx context.Context, email, password string, remember bool) (*User, error) {
	t, err := c.oauth.PasswordCredentialsToken(c.oauthContext(ctx), email, password)
	if err != nil {
		return nil, mapOAuthErr(err)
	}
	return c.createUser(ctx, c.tokenFromOAuth(t), remember)
}

// Confirm verifies an email confirmation token and logs the user in.
func (c *Client) Confirm(ctx context.Context, token string, remember bool) (*User, error) {
	return c.verify(ctx, "signup", token, "", remember)
}

// AcceptInvite verifies an invite token, setting the account password.
func (c *Client) AcceptInvite(ctx context.Context, token, password string, remember bool) (*User, error) {
	return c.verify(ctx, "signup", token, password, remember)
}

// Recover exchanges a recovery token for a session.
func (c *Client) Recover(ctx context.Context, token string, remember bool) (*User, error) {
	return c.verify(ctx, "recovery", token, "", remember)
}

// RequestPasswordRecovery asks the provider to email a recovery link.
func (c *Client) RequestPasswordRecovery(ctx context.Context, email string) error {
	in := struct {
		Email string `json:"email"`
	}{Email: email}
	return c.do(ctx, http.MethodPost, "/recover", "", in, nil)
}

// CreateUser completes an external login from the key/value pairs the provider
// put in the redirect fragment (access_token, refresh_token, expires_in, token_type).
func (c *Client) CreateUser(ctx context.Context, params map[string]string, remember bool) (*User, error) {
	access := params["access_token"]
	if access == "" {
		return nil, ErrMissingAccessToken
	}

	tok := Token{
		AccessToken:  access,
		TokenType:    params["token_type"],
		RefreshToken: params["refresh_token"],
	}
	if n, err := strconv.Atoi(params["expires_in"]); err == nil && n > 0 {
		tok.ExpiresAt = c.now().Add(time.Duration(n) * time.Second)
	} else if exp, ok := tokenExpiry(access); ok {
		tok.ExpiresAt = exp
	}
	return c.createUser(ctx, tok, remember)
}

func (c *Client) verify(ctx context.Context, typ, token, password string, remember bool) (*User, error) {
	in := struct {
		Token    string `json:"token"`
		Type     string `json:"type"`
		Password string `json:"password,omitempty"`
	}{Token: token, Type: typ, Password: password}

	var tr tokenResponse
	if err := c.do(ctx, http.MethodPost, "/verify", "", in, &tr); err != nil {
		return nil, err
	}
	return c.createUser(ctx, c.tokenFromResponse(tr), remember)
}

// ---- session ----

// CurrentUser returns the in-memory session or, failing that, the stored one.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return c.current, nil
	}
	if c.store == nil {
		return nil, nil
	}

	u, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("gotrue: load session: %w", err)
	}
	if u != nil {
		c.current = u
		c.remembered = true
	}
	return u, nil
}

// UpdateUser applies a partial update and returns the new user record with u's session.
func (c *Client) UpdateUser(ctx context.Context, u *User, attrs UserAttributes) (*User, error) {
	fresh, err := c.JWT(ctx, u, false)
	if err != nil {
		return nil, err
	}

	var out User
	if err := c.do(ctx, http.MethodPut, "/user", fresh.AccessToken(), attrs, &out); err != nil {
		return nil, err
	}
	out.Token = fresh.Token
	c.replaceCurrent(ctx, &out)
	return &out, nil
}

// JWT returns u unchanged while its access token is valid, otherwise a copy
// carrying a refreshed token. force refreshes unconditionally.
func (c *Client) JWT(ctx context.Context, u *User, force bool) (*User, error) {
	if u == nil || u.Token == nil || u.Token.AccessToken == "" {
		return nil, ErrNoSession
	}
	if !force && !u.Token.ExpiresWithin(c.now(), c.cfg.ExpiryMargin) {
		return u, nil
	}
	if u.Token.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: u.Token.RefreshToken})
	t, err := src.Token()
	if err != nil {
		err = mapOAuthErr(err)
		if errors.Is(err, ErrUnauthorized) || IsStatus(err, http.StatusBadRequest) {
			// Refresh token revoked or rotated elsewhere; the stored session is dead.
			c.clearSession(ctx)
		}
		return nil, err
	}

	nu := u.Clone()
	tok := c.tokenFromOAuth(t)
	nu.Token = &tok
	c.replaceCurrent(ctx, nu)

	c.log.Debug("gotrue.token.refreshed", "expires_at", tok.ExpiresAt)
	return nu, nil
}

// Logout revokes the session remotely and always clears it locally.
// The remote error, if any, is returned after the local state is gone.
func (c *Client) Logout(ctx context.Context, u *User) error {
	var remoteErr error
	if access := u.AccessToken(); access != "" {
		remoteErr = c.do(ctx, http.MethodPost, "/logout", access, nil, nil)
	}
	c.clearSession(ctx)
	return remoteErr
}

func (c *Client) createUser(ctx context.Context, tok Token, remember bool) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/user", tok.AccessToken, nil, &u); err != nil {
		return nil, err
	}
	u.Token = &tok

	c.mu.Lock()
	c.current = &u
	c.remembered = remember
	c.mu.Unlock()

	if remember {
		c.save(ctx, &u)
	}
	return &u, nil
}

// replaceCurrent swaps in u when it is the same account as the current session.
func (c *Client) replaceCurrent(ctx context.Context, u *User) {
	c.mu.Lock()
	same := c.current != nil && c.current.ID == u.ID
	if same {
		c.current = u
	}
	remembered := c.remembered
	c.mu.Unlock()

	if same && remembered {
		c.save(ctx, u)
	}
}

func (c *Client) save(ctx context.Context, u *User) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, u); err != nil {
		c.log.Warn("gotrue.session.save.fail", "err", err)
	}
}

func (c *Client) clearSession(ctx context.Context) {
	c.mu.Lock()
	c.current = nil
	c.remembered = false
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.Clear(ctx); err != nil {
		c.log.Warn("gotrue.session.clear.fail", "err", err)
	}
}

// ---- transport ----

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

func (c *Client) tokenFromResponse(tr tokenResponse) Token {
	tok := Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
	}
	if tr.ExpiresIn > 0 {
		tok.ExpiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	} else if exp, ok := tokenExpiry(tr.AccessToken); ok {
		tok.ExpiresAt = exp
	}
	return tok
}

func (c *Client) tokenFromOAuth(t *oauth2.Token) Token {
	tok := Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.Expiry,
	}
	if tok.ExpiresAt.IsZero() {
		if exp, ok := tokenExpiry(t.AccessToken); ok {
			tok.ExpiresAt = exp
		}
	}
	return tok
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

func mapOAuthErr(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return parseAPIError(re.Response.StatusCode, re.Body)
	}
	return fmt.Errorf("gotrue: token: %w", err)
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("gotrue: encode %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if c.cfg.Audience != "" {
		req.Header.Set("X-JWT-AUD", c.cfg.Audience)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gotrue: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("gotrue: read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("gotrue: decode %s: %w", path, err)
	}
	return nil
}

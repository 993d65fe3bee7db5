package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"nidentity/cmd/internal/fragment"
	"nidentity/cmd/internal/gotrue"
)

type authLog struct {
	mu    sync.Mutex
	users []*gotrue.User
}

func (a *authLog) record(u *gotrue.User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users = append(a.users, u)
}

func (a *authLog) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.users)
}

func (a *authLog) last() *gotrue.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.users) == 0 {
		return nil
	}
	return a.users[len(a.users)-1]
}

type harness struct {
	c       *Controller
	p       *fakeProvider
	surface *fragment.MemorySurface
	auth    *authLog
	metrics *Metrics
}

func newHarness(t *testing.T, rawURL string, p *fakeProvider) *harness {
	t.Helper()

	if p == nil {
		p = &fakeProvider{}
	}
	s, err := fragment.NewMemorySurface(rawURL)
	if err != nil {
		t.Fatalf("NewMemorySurface: %v", err)
	}
	auth := &authLog{}
	m := NewMetrics(prometheus.NewRegistry())

	c, err := New(DefaultConfig("https://site.example"), s,
		WithProvider(p),
		WithAuthChange(auth.record),
		WithMetrics(m),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{c: c, p: p, surface: s, auth: auth, metrics: m}
}

func assertMisuse(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, ErrMisuse) || !errors.Is(err, kind) {
		t.Fatalf("err=%v want misuse of kind %v", err, kind)
	}
	var me MisuseError
	if !errors.As(err, &me) || me.Op == "" {
		t.Fatalf("err=%v is not a MisuseError with an op", err)
	}
}

func TestNew_ValidatesSiteURL(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "example.com", "ftp://example.com", "https://", "/path"} {
		if _, err := New(DefaultConfig(in), nil, WithProvider(&fakeProvider{})); !errors.Is(err, ErrInvalidSiteURL) {
			t.Fatalf("New(%q) err=%v want ErrInvalidSiteURL", in, err)
		}
	}

	c, err := New(DefaultConfig("https://site.example/?x=1#frag"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.SiteURL() != "https://site.example" {
		t.Fatalf("SiteURL=%q", c.SiteURL())
	}
	if _, ok := c.Provider().(*gotrue.Client); !ok {
		t.Fatalf("New must build a gotrue client when none is injected")
	}
}

func TestInit_RestoresCachedSession(t *testing.T) {
	t.Parallel()

	cached := user("cached@example.com", "cached-access")
	h := newHarness(t, "https://site.example/", &fakeProvider{cached: cached})

	if got := h.c.Init(context.Background()); got != fragment.Default {
		t.Fatalf("Init=%+v want Default", got)
	}
	if h.c.User() != cached || !h.c.IsLoggedIn() {
		t.Fatalf("cached session not restored")
	}
	if h.auth.len() != 1 || h.auth.last() != cached {
		t.Fatalf("restore must go through the auth-change subscriber")
	}
}

func TestInit_RunsParserOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/#confirmation_token=abc123", nil)
	ctx := context.Background()

	h.c.Init(ctx)
	h.c.Init(ctx)

	if got := h.p.count("Confirm"); got != 1 {
		t.Fatalf("Confirm calls=%d want 1", got)
	}
	if h.c.User().Email != "confirmed@example.com" {
		t.Fatalf("confirmed user not applied")
	}
	if h.c.Param() != fragment.Default {
		t.Fatalf("confirmation must not be left pending")
	}
	if got := testutil.ToFloat64(h.metrics.Exchanges.WithLabelValues("confirmation", "ok")); got != 1 {
		t.Fatalf("exchange metric=%v want 1", got)
	}
}

func TestInit_AccessTokenFragment(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/#access_token=AAA&refresh_token=BBB&expires_in=3600&token_type=bearer", nil)
	h.c.Init(context.Background())

	cookies := h.surface.Cookies()
	if len(cookies) != 1 || cookies[0].Name != fragment.CookieName || cookies[0].Value != "AAA" {
		t.Fatalf("cookies=%v want nf_jwt=AAA", cookies)
	}
	if len(h.p.createParams) != 1 || len(h.p.createParams[0]) != 4 {
		t.Fatalf("CreateUser params=%v", h.p.createParams)
	}
	if h.c.User().AccessToken() != "AAA" {
		t.Fatalf("user not set from access token")
	}
	if h.surface.URL() != "https://site.example/" {
		t.Fatalf("fragment not cleared: %s", h.surface.URL())
	}
}

func TestInit_LoadsSettings(t *testing.T) {
	t.Parallel()

	want := gotrue.Settings{External: gotrue.ExternalProviders{GitHub: true}, Autoconfirm: true}
	h := newHarness(t, "https://site.example/", &fakeProvider{settings: want})

	if got := h.c.Settings(); got != gotrue.DefaultSettings() {
		t.Fatalf("settings before Init=%+v want default", got)
	}

	h.c.Init(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := h.c.WaitSettings(ctx)
	if err != nil {
		t.Fatalf("WaitSettings: %v", err)
	}
	if got != want {
		t.Fatalf("settings=%+v want=%+v", got, want)
	}
}

func TestInit_SettingsFailureKeepsDefault(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/", &fakeProvider{settingsErr: errRemote, settings: gotrue.Settings{Autoconfirm: true}})
	h.c.Init(context.Background())

	got, err := h.c.WaitSettings(context.Background())
	if err != nil {
		t.Fatalf("WaitSettings: %v", err)
	}
	if got != gotrue.DefaultSettings() {
		t.Fatalf("settings=%+v want default", got)
	}
}

func TestRecoverAccount_ConsumesParamEvenOnFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/#recovery_token=xyz", &fakeProvider{recoverErr: errRemote})
	ctx := context.Background()

	got := h.c.Init(ctx)
	if got != (fragment.TokenParam{Type: fragment.TypeRecovery, Token: "xyz"}) {
		t.Fatalf("Init=%+v", got)
	}
	if h.p.count("Recover") != 0 {
		t.Fatalf("recovery must not be exchanged during Init")
	}

	_, err := h.c.RecoverAccount(ctx, true)
	if !errors.Is(err, errRemote) || IsMisuse(err) {
		t.Fatalf("RecoverAccount err=%v want remote error", err)
	}
	if h.c.Param() != fragment.Default {
		t.Fatalf("param=%+v want Default after consumption", h.c.Param())
	}
	if h.p.recoverTokens[0] != "xyz" {
		t.Fatalf("recover token=%q", h.p.recoverTokens[0])
	}

	_, err = h.c.RecoverAccount(ctx, true)
	assertMisuse(t, err, ErrNoPendingToken)
	if h.p.count("Recover") != 1 {
		t.Fatalf("second RecoverAccount reached the provider")
	}
}

func TestRecoverAccount_Success(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/#recovery_token=xyz", nil)
	ctx := context.Background()
	h.c.Init(ctx)

	u, err := h.c.RecoverAccount(ctx, false)
	if err != nil {
		t.Fatalf("RecoverAccount: %v", err)
	}
	if h.c.User() != u || h.auth.last() != u {
		t.Fatalf("recovered user must pass through the choke point")
	}
}

func TestRecoverAccount_WrongPendingType(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/#invite_token=inv", nil)
	h.c.Init(context.Background())

	_, err := h.c.RecoverAccount(context.Background(), true)
	assertMisuse(t, err, ErrNoPendingToken)
	if h.c.Param().Type != fragment.TypeInvite {
		t.Fatalf("a mismatched call must leave the pending invite alone")
	}
}

func TestAcceptInviteExternalURL(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/#invite_token=inv", nil)
	h.c.Init(context.Background())

	if _, err := h.c.AcceptInviteExternalURL("myspace"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("unknown provider err=%v", err)
	}

	got, err := h.c.AcceptInviteExternalURL(gotrue.ProviderGitHub)
	if err != nil {
		t.Fatalf("AcceptInviteExternalURL: %v", err)
	}
	if want := "https://site.example/.netlify/identity/authorize?provider=github&invite_token=inv"; got != want {
		t.Fatalf("url=%q want=%q", got, want)
	}
	if h.c.Param() != fragment.Default {
		t.Fatalf("invite not consumed")
	}

	_, err = h.c.AcceptInviteExternalURL(gotrue.ProviderGitHub)
	assertMisuse(t, err, ErrNoPendingToken)
}

func TestAcceptInvite_ConsumesParamEvenOnFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/#invite_token=", &fakeProvider{inviteErr: errRemote})
	h.c.Init(context.Background())

	if p := h.c.Param(); !p.HasToken() || p.Token != "" {
		t.Fatalf("empty invite token must still be pending: %+v", p)
	}
	if _, err := h.c.AcceptInvite(context.Background(), "pw", true); !errors.Is(err, errRemote) {
		t.Fatalf("AcceptInvite err=%v", err)
	}
	if h.c.Param() != fragment.Default {
		t.Fatalf("invite not consumed")
	}
}

func TestConfirmEmailChange(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/#email_change_token=ec1", nil)
	ctx := context.Background()
	h.c.Init(ctx)

	_, err := h.c.ConfirmEmailChange(ctx)
	assertMisuse(t, err, ErrNoUser)
	if h.c.Param().Type != fragment.TypeEmailChange {
		t.Fatalf("param consumed without a user")
	}

	if _, err := h.c.Login(ctx, "a@example.com", "pw", false); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := h.c.ConfirmEmailChange(ctx); err != nil {
		t.Fatalf("ConfirmEmailChange: %v", err)
	}
	if len(h.p.updates) != 1 || h.p.updates[0].EmailChangeToken != "ec1" {
		t.Fatalf("updates=%+v", h.p.updates)
	}
	if h.c.Param() != fragment.Default {
		t.Fatalf("email change not consumed")
	}
}

func TestAccessDeniedIsPending(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/#error=access_denied&error_description=403", nil)
	got := h.c.Init(context.Background())
	if got.Error != fragment.ErrorAccessDenied || got.Status != 403 || h.c.Param() != got {
		t.Fatalf("Init=%+v param=%+v", got, h.c.Param())
	}
	if got := testutil.ToFloat64(h.metrics.Fragments.WithLabelValues("access_denied")); got != 1 {
		t.Fatalf("fragment metric=%v", got)
	}
}

func TestSignup(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/", nil)
	ctx := context.Background()

	u, err := h.c.Signup(ctx, "new@example.com", "pw", nil, false)
	if err != nil || u.Email != "new@example.com" {
		t.Fatalf("Signup=(%v, %v)", u, err)
	}
	if h.c.User() != nil || h.auth.len() != 0 {
		t.Fatalf("signup without directLogin must not touch the session")
	}

	u, err = h.c.Signup(ctx, "direct@example.com", "pw", map[string]any{"full_name": "D"}, true)
	if err != nil {
		t.Fatalf("Signup direct: %v", err)
	}
	if h.c.User() != u || h.auth.len() != 1 {
		t.Fatalf("directLogin signup must go through the choke point")
	}

	h.p.signupErr = &gotrue.APIError{Status: 422, Message: "A user with this email address has already been registered"}
	_, err = h.c.Signup(ctx, "dup@example.com", "pw", nil, false)
	if !gotrue.IsStatus(err, 422) || IsMisuse(err) {
		t.Fatalf("duplicate signup err=%v", err)
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/", nil)
	ctx := context.Background()

	u, err := h.c.Login(ctx, "a@example.com", "pw", true)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if h.c.User() != u || h.auth.last() != u {
		t.Fatalf("login must go through the choke point")
	}

	h.p.loginErr = errRemote
	if _, err := h.c.Login(ctx, "a@example.com", "bad", true); !errors.Is(err, errRemote) || IsMisuse(err) {
		t.Fatalf("failed login err=%v", err)
	}
	if h.c.User() != u {
		t.Fatalf("failed login must not touch the session")
	}
	if got := testutil.ToFloat64(h.metrics.OperationErrors.WithLabelValues("session.Login")); got != 1 {
		t.Fatalf("login error metric=%v", got)
	}
}

func TestLogoutThenGetFreshJWT(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/", nil)
	ctx := context.Background()

	assertMisuse(t, h.c.Logout(ctx), ErrNoUser)
	if h.p.count("Logout") != 0 {
		t.Fatalf("misuse reached the provider")
	}

	if _, err := h.c.Login(ctx, "a@example.com", "pw", true); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := h.c.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if h.c.User() != nil || h.c.IsLoggedIn() {
		t.Fatalf("user present after logout")
	}
	if h.auth.len() != 2 || h.auth.last() != nil {
		t.Fatalf("logout must notify with nil")
	}

	_, err := h.c.GetFreshJWT(ctx)
	assertMisuse(t, err, ErrNoUser)
}

func TestLogout_RemoteFailureStillClears(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/", &fakeProvider{logoutErr: errRemote})
	ctx := context.Background()
	if _, err := h.c.Login(ctx, "a@example.com", "pw", true); err != nil {
		t.Fatalf("Login: %v", err)
	}

	err := h.c.Logout(ctx)
	if !errors.Is(err, errRemote) || IsMisuse(err) {
		t.Fatalf("Logout err=%v want remote error", err)
	}
	if h.c.User() != nil {
		t.Fatalf("local session must be cleared")
	}
}

func TestUpdateUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/", nil)
	ctx := context.Background()

	_, err := h.c.UpdateUser(ctx, gotrue.UserAttributes{Email: "x@example.com"})
	assertMisuse(t, err, ErrNoUser)

	old, _ := h.c.Login(ctx, "a@example.com", "pw", true)
	nu, err := h.c.UpdateUser(ctx, gotrue.UserAttributes{Email: "b@example.com"})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if nu == old || h.c.User() != nu || nu.Email != "b@example.com" {
		t.Fatalf("user must be replaced wholesale")
	}
	if old.Email != "a@example.com" {
		t.Fatalf("previous user record was edited in place")
	}

	h.p.updateErr = errRemote
	if _, err := h.c.UpdateUser(ctx, gotrue.UserAttributes{}); !errors.Is(err, errRemote) {
		t.Fatalf("UpdateUser err=%v", err)
	}
	if h.c.User() != nu {
		t.Fatalf("failed update replaced the user")
	}
}

func TestGetFreshJWT(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/", nil)
	ctx := context.Background()
	u, _ := h.c.Login(ctx, "a@example.com", "pw", true)

	tok, err := h.c.GetFreshJWT(ctx)
	if err != nil || tok != "login-access" {
		t.Fatalf("GetFreshJWT=(%q, %v)", tok, err)
	}
	if h.auth.len() != 1 {
		t.Fatalf("unchanged token must not notify")
	}

	refreshed := u.Clone()
	refreshed.Token.AccessToken = "refreshed-access"
	h.p.jwtUser = refreshed

	tok, err = h.c.GetFreshJWT(ctx)
	if err != nil || tok != "refreshed-access" {
		t.Fatalf("GetFreshJWT=(%q, %v)", tok, err)
	}
	if h.c.User() != refreshed || h.auth.len() != 2 {
		t.Fatalf("refreshed user must pass through the choke point")
	}
	if got := testutil.ToFloat64(h.metrics.Refreshes); got != 1 {
		t.Fatalf("refresh metric=%v", got)
	}
}

func TestGetFreshJWT_RevokedSessionLogsOut(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/", nil)
	ctx := context.Background()
	if _, err := h.c.Login(ctx, "a@example.com", "pw", true); err != nil {
		t.Fatalf("Login: %v", err)
	}

	h.p.jwtErr = &gotrue.APIError{Status: http.StatusUnauthorized, Message: "Invalid token"}
	if _, err := h.c.GetFreshJWT(ctx); !errors.Is(err, gotrue.ErrUnauthorized) {
		t.Fatalf("GetFreshJWT err=%v", err)
	}
	if h.c.User() != nil || h.auth.last() != nil {
		t.Fatalf("revoked session must log out")
	}
}

func TestLoginProvider(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/login", nil)

	if err := h.c.LoginProvider("myspace"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("LoginProvider err=%v", err)
	}
	if err := h.c.LoginProvider(gotrue.ProviderGitLab); err != nil {
		t.Fatalf("LoginProvider: %v", err)
	}
	if got := h.surface.URL(); got != "https://site.example/.netlify/identity/authorize?provider=gitlab" {
		t.Fatalf("surface at %q", got)
	}
}

func TestRequestPasswordRecovery(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/", nil)
	if err := h.c.RequestPasswordRecovery(context.Background(), "a@example.com"); err != nil {
		t.Fatalf("RequestPasswordRecovery: %v", err)
	}
	if h.c.User() != nil || h.auth.len() != 0 {
		t.Fatalf("recovery request must not change the session")
	}
}

func TestClose_MakesWritesNoops(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/", nil)
	ctx := context.Background()
	h.c.Close()

	u, err := h.c.Login(ctx, "a@example.com", "pw", true)
	if err != nil || u == nil {
		t.Fatalf("Login after Close=(%v, %v) want the user back", u, err)
	}
	if h.c.User() != nil || h.auth.len() != 0 {
		t.Fatalf("closed controller must not change state")
	}
}

func TestLastWriteWins(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "https://site.example/", nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.c.Login(context.Background(), "a@example.com", "pw", false)
		}()
	}
	wg.Wait()

	if h.c.User() == nil || h.auth.len() != 20 {
		t.Fatalf("user=%v notifications=%d", h.c.User(), h.auth.len())
	}
}

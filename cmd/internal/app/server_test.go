package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nidentity/cmd/internal/events"
	"nidentity/cmd/internal/fragment"

	v1 "nidentity/shared/contracts/events/v1"
)

func newTestApp(t *testing.T) (*App, *fakeIdentity, *httptest.Server) {
	t.Helper()

	idp, site := newFakeIdentity(t)
	cfg := Config{
		SiteURL:   site.URL,
		Remember:  true,
		LogFormat: "json",
		Store:     StoreMemory,
	}
	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return a, idp, srv
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", strings.NewReader(string(b)))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func userField(out map[string]any, key string) any {
	u, _ := out["user"].(map[string]any)
	return u[key]
}

func TestFragment_ConfirmationLogsIn(t *testing.T) {
	a, idp, srv := newTestApp(t)

	sub := events.NewClient("test", 8)
	a.Hub().Register(sub)

	resp, out := postJSON(t, srv.URL+"/fragment", map[string]string{
		"url": srv.URL + "/welcome#confirmation_token=good",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%v", resp.StatusCode, out)
	}
	if out["url"] != srv.URL+"/welcome" {
		t.Fatalf("url=%v, fragment must be cleared", out["url"])
	}
	if userField(out, "logged_in") != true || userField(out, "email") != "ada@example.com" {
		t.Fatalf("user=%v", out["user"])
	}
	if idp.count("POST /verify") != 1 {
		t.Fatalf("verify calls=%d want 1", idp.count("POST /verify"))
	}

	select {
	case env := <-sub.Send:
		var p v1.AuthChangePayload
		_ = json.Unmarshal(env.Payload, &p)
		if env.Type != v1.TypeAuthChange || !p.LoggedIn {
			t.Fatalf("unexpected event %s %+v", env.Type, p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no auth.change published")
	}

	res, err := http.Get(srv.URL + "/api/session")
	if err != nil {
		t.Fatalf("GET /api/session: %v", err)
	}
	defer func() { _ = res.Body.Close() }()
	var s v1.AuthChangePayload
	_ = json.NewDecoder(res.Body).Decode(&s)
	if !s.LoggedIn || s.UserID != fakeUserID {
		t.Fatalf("session=%+v", s)
	}
}

func TestFragment_AccessTokenSetsCookie(t *testing.T) {
	_, _, srv := newTestApp(t)

	resp, out := postJSON(t, srv.URL+"/fragment", map[string]string{
		"url": srv.URL + "/#access_token=access-7&token_type=bearer&expires_in=3600&refresh_token=r",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%v", resp.StatusCode, out)
	}

	var jwt *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == fragment.CookieName {
			jwt = c
		}
	}
	if jwt == nil || jwt.Value != "access-7" || jwt.Path != "/" {
		t.Fatalf("nf_jwt cookie=%+v", jwt)
	}
	if userField(out, "logged_in") != true {
		t.Fatalf("user=%v", out["user"])
	}
}

func TestFragment_InviteNeedsPassword(t *testing.T) {
	_, idp, srv := newTestApp(t)
	link := srv.URL + "/#invite_token=good"

	resp, out := postJSON(t, srv.URL+"/fragment", map[string]string{"url": link})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d want 422", resp.StatusCode)
	}
	if p, _ := out["param"].(map[string]any); p["type"] != "invite" {
		t.Fatalf("param=%v", out["param"])
	}
	if idp.count("POST /verify") != 0 {
		t.Fatalf("invite must not be exchanged without a password")
	}

	resp, out = postJSON(t, srv.URL+"/fragment", map[string]string{"url": link, "password": "s3cret"})
	if resp.StatusCode != http.StatusOK || out["completed"] != string(OutcomeInviteAccepted) {
		t.Fatalf("status=%d body=%v", resp.StatusCode, out)
	}
	if idp.lastPassword() != "s3cret" {
		t.Fatalf("password not forwarded")
	}
}

func TestFragment_RecoveryThenPassword(t *testing.T) {
	_, idp, srv := newTestApp(t)

	resp, out := postJSON(t, srv.URL+"/fragment", map[string]string{"url": srv.URL + "/#recovery_token=good"})
	if resp.StatusCode != http.StatusOK || out["completed"] != string(OutcomeRecovered) {
		t.Fatalf("status=%d body=%v", resp.StatusCode, out)
	}

	resp, out = postJSON(t, srv.URL+"/api/password", map[string]string{"password": "n3w"})
	if resp.StatusCode != http.StatusOK || out["logged_in"] != true {
		t.Fatalf("status=%d body=%v", resp.StatusCode, out)
	}
	if idp.lastPassword() != "n3w" {
		t.Fatalf("password=%q", idp.lastPassword())
	}
}

func TestFragment_BadRequests(t *testing.T) {
	_, _, srv := newTestApp(t)

	resp, _ := postJSON(t, srv.URL+"/fragment", map[string]string{"url": "/relative#x"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("relative url status=%d want 400", resp.StatusCode)
	}

	resp, _ = postJSON(t, srv.URL+"/fragment", map[string]string{"href": "nope"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field status=%d want 400", resp.StatusCode)
	}

	resp, out := postJSON(t, srv.URL+"/api/password", map[string]string{"password": "x"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("password without user status=%d body=%v", resp.StatusCode, out)
	}
}

func TestLogout_ClearsSessionAndCookie(t *testing.T) {
	_, idp, srv := newTestApp(t)

	if resp, out := postJSON(t, srv.URL+"/fragment", map[string]string{"url": srv.URL + "/#confirmation_token=good"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("login via fragment: %d %v", resp.StatusCode, out)
	}

	resp, err := http.Post(srv.URL+"/api/logout", "application/json", nil)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status=%d", resp.StatusCode)
	}
	if idp.count("POST /logout") != 1 {
		t.Fatalf("remote logout calls=%d", idp.count("POST /logout"))
	}
	var cleared bool
	for _, c := range resp.Cookies() {
		if c.Name == fragment.CookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("nf_jwt not expired")
	}

	res, err := http.Get(srv.URL + "/api/session")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer func() { _ = res.Body.Close() }()
	var s v1.AuthChangePayload
	_ = json.NewDecoder(res.Body).Decode(&s)
	if s.LoggedIn {
		t.Fatalf("still logged in after logout")
	}
}

func TestOperationalRoutes(t *testing.T) {
	_, _, srv := newTestApp(t)

	cases := []struct {
		path     string
		status   int
		contains string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/readyz", http.StatusOK, "ready"},
		{"/", http.StatusOK, "/fragment"},
		{"/api/settings", http.StatusOK, "github"},
		{"/metrics", http.StatusOK, "go_goroutines"},
		{"/nope", http.StatusNotFound, ""},
	}
	for _, tc := range cases {
		res, err := http.Get(srv.URL + tc.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tc.path, err)
		}
		body, _ := io.ReadAll(res.Body)
		_ = res.Body.Close()
		if res.StatusCode != tc.status || !strings.Contains(string(body), tc.contains) {
			t.Fatalf("GET %s: status=%d body=%q", tc.path, res.StatusCode, body)
		}
	}
}

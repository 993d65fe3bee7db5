package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

// runCLI executes one command against a file-backed session in dir.
func runCLI(t *testing.T, site, dir string, args ...string) (string, error) {
	t.Helper()

	load := func() Config {
		return Config{
			SiteURL:      site,
			Remember:     true,
			LogLevel:     "error",
			LogFormat:    "text",
			Store:        StoreFile,
			StorePath:    filepath.Join(dir, "session.json"),
			StoreProfile: "test",
		}
	}
	root := NewRootCommand(load)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_SessionLifecycle(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	t.Setenv("NID_SESSION_KEY", "")

	_, site := newFakeIdentity(t)
	dir := t.TempDir()

	if _, err := runCLI(t, site.URL, dir, "login", "--email", "ada@example.com", "--password", "wrong"); err == nil {
		t.Fatalf("login with a bad password must fail")
	}

	out, err := runCLI(t, site.URL, dir, "login", "--email", "ada@example.com", "--password", "hunter2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out, `"logged_in": true`) {
		t.Fatalf("login output=%q", out)
	}

	out, err = runCLI(t, site.URL, dir, "whoami")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	var who map[string]any
	if err := json.Unmarshal([]byte(out), &who); err != nil {
		t.Fatalf("whoami JSON: %v (%q)", err, out)
	}
	if who["email"] != "ada@example.com" {
		t.Fatalf("whoami=%v", who)
	}
	if _, ok := who["token"]; ok {
		t.Fatalf("whoami must not print the token")
	}

	out, err = runCLI(t, site.URL, dir, "jwt")
	if err != nil || strings.TrimSpace(out) != "access-1" {
		t.Fatalf("jwt=%q err=%v", out, err)
	}

	out, err = runCLI(t, site.URL, dir, "fetch", "/hello")
	if err != nil || !strings.Contains(out, "Bearer access-1") {
		t.Fatalf("fetch=%q err=%v", out, err)
	}

	out, err = runCLI(t, site.URL, dir, "logout")
	if err != nil || strings.TrimSpace(out) != "logged out" {
		t.Fatalf("logout=%q err=%v", out, err)
	}

	out, err = runCLI(t, site.URL, dir, "whoami")
	if err != nil || !strings.Contains(out, `"logged_in": false`) {
		t.Fatalf("whoami after logout=%q err=%v", out, err)
	}

	if _, err := runCLI(t, site.URL, dir, "jwt"); err == nil {
		t.Fatalf("jwt without a session must fail")
	}
}

func TestCLI_FragmentAndProvider(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	t.Setenv("NID_SESSION_KEY", "")

	idp, site := newFakeIdentity(t)
	dir := t.TempDir()

	_, err := runCLI(t, site.URL, dir, "fragment", site.URL+"/#invite_token=good")
	if err == nil || !strings.Contains(err.Error(), "--password") {
		t.Fatalf("invite without password: err=%v", err)
	}

	out, err := runCLI(t, site.URL, dir, "fragment", "--password", "pw", site.URL+"/#invite_token=good")
	if err != nil {
		t.Fatalf("fragment: %v", err)
	}
	var res fragmentResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("fragment JSON: %v", err)
	}
	if res.Completed != OutcomeInviteAccepted || res.URL != site.URL+"/" || res.Param.Token != "" {
		t.Fatalf("fragment result=%+v", res)
	}
	if idp.lastPassword() != "pw" {
		t.Fatalf("password=%q", idp.lastPassword())
	}

	out, err = runCLI(t, site.URL, dir, "provider", "github")
	if err != nil || strings.TrimSpace(out) != site.URL+"/.netlify/identity/authorize?provider=github" {
		t.Fatalf("provider=%q err=%v", out, err)
	}

	out, err = runCLI(t, site.URL, dir, "provider", "gitlab", "--invite", site.URL+"/#invite_token=abc")
	if err != nil || !strings.HasSuffix(strings.TrimSpace(out), "provider=gitlab&invite_token=abc") {
		t.Fatalf("provider invite=%q err=%v", out, err)
	}

	if _, err := runCLI(t, site.URL, dir, "provider", "myspace"); err == nil {
		t.Fatalf("unknown provider must fail")
	}
}

func TestCLI_RejectsBadConfig(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	_, err := runCLI(t, "not a url", t.TempDir(), "whoami")
	if err == nil || !strings.Contains(err.Error(), "NID_SITE_URL") {
		t.Fatalf("err=%v", err)
	}
}

func TestParseFlagsHelpers(t *testing.T) {
	t.Parallel()

	kv, err := parseKeyValues([]string{"full_name=Ada L", "team=core=1"})
	if err != nil || kv["full_name"] != "Ada L" || kv["team"] != "core=1" {
		t.Fatalf("kv=%v err=%v", kv, err)
	}
	if _, err := parseKeyValues([]string{"=x"}); err == nil {
		t.Fatalf("empty key must fail")
	}

	h, err := parseHeaders([]string{"X-Trace: abc", "accept: text/plain"})
	if err != nil || h.Get("X-Trace") != "abc" || h.Get("Accept") != "text/plain" {
		t.Fatalf("headers=%v err=%v", h, err)
	}
	if _, err := parseHeaders([]string{"nocolon"}); err == nil {
		t.Fatalf("header without colon must fail")
	}
}

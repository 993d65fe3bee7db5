package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"nidentity/cmd/internal/gotrue"
)

const fakeUserID = "0b6f9c1e-2d7f-4b7a-9a55-7c1f3e9d8a11"

// fakeIdentity serves the identity API under gotrue.APIPath of a test site.
// Good tokens are "good"; everything else is rejected.
type fakeIdentity struct {
	mu       sync.Mutex
	calls    map[string]int
	password string
}

func newFakeIdentity(t *testing.T) (*fakeIdentity, *httptest.Server) {
	t.Helper()
	f := &fakeIdentity{calls: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeIdentity) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeIdentity) lastPassword() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.password
}

func (f *fakeIdentity) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, gotrue.APIPath)
	f.mu.Lock()
	f.calls[r.Method+" "+path]++
	f.mu.Unlock()

	switch r.Method + " " + path {
	case "GET /settings":
		fakeJSON(w, http.StatusOK, map[string]any{"external": map[string]bool{"github": true}, "autoconfirm": true})

	case "POST /verify":
		var in struct {
			Token    string `json:"token"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Token != "good" {
			fakeJSON(w, http.StatusNotFound, map[string]any{"code": 404, "msg": "User not found"})
			return
		}
		f.mu.Lock()
		f.password = in.Password
		f.mu.Unlock()
		fakeJSON(w, http.StatusOK, map[string]any{
			"access_token": "access-1", "token_type": "bearer", "expires_in": 3600, "refresh_token": "refresh-1",
		})

	case "POST /token":
		_ = r.ParseForm()
		if r.PostForm.Get("password") != "hunter2" {
			fakeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid login"})
			return
		}
		fakeJSON(w, http.StatusOK, map[string]any{
			"access_token": "access-1", "token_type": "bearer", "expires_in": 3600, "refresh_token": "refresh-1",
		})

	case "GET /user", "PUT /user":
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer access-") {
			fakeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "msg": "Invalid token"})
			return
		}
		if r.Method == http.MethodPut {
			var in map[string]any
			_ = json.NewDecoder(r.Body).Decode(&in)
			if pw, _ := in["password"].(string); pw != "" {
				f.mu.Lock()
				f.password = pw
				f.mu.Unlock()
			}
		}
		fakeJSON(w, http.StatusOK, map[string]any{
			"id": fakeUserID, "email": "ada@example.com", "confirmed_at": "2026-01-02T03:04:05Z",
		})

	case "POST /signup":
		fakeJSON(w, http.StatusOK, map[string]any{"id": fakeUserID, "email": "ada@example.com"})

	case "GET /hello":
		fakeJSON(w, http.StatusOK, map[string]any{"authorization": r.Header.Get("Authorization")})

	case "POST /recover", "POST /logout":
		w.WriteHeader(http.StatusNoContent)

	default:
		fakeJSON(w, http.StatusNotFound, map[string]any{"code": 404, "msg": "not found"})
	}
}

func fakeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

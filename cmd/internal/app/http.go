package app

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nidentity/cmd/internal/events"
	"nidentity/cmd/internal/fragment"
	"nidentity/cmd/internal/gotrue"
	"nidentity/cmd/internal/session"

	v1 "nidentity/shared/contracts/events/v1"
)

const maxRequestBytes = 64 << 10

func registerHTTP(mux *http.ServeMux, a *App) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.backend.Ping(r.Context()); err != nil {
			a.log.Info("readyz.store.not_ready", "store", a.backend.kind, "err", err)
			if a.cfg.ReadinessRequireStore {
				http.Error(w, "store not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.HandleFunc("GET /{$}", a.handleIndex)
	mux.HandleFunc("POST /fragment", a.handleFragment)
	mux.HandleFunc("GET /api/session", a.handleSession)
	mux.HandleFunc("GET /api/settings", a.handleSettings)
	mux.HandleFunc("POST /api/logout", a.handleLogout)
	mux.HandleFunc("POST /api/password", a.handlePassword)

	mux.Handle("GET /events", a.gateway)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
}

type fragmentRequest struct {
	URL      string `json:"url"`
	Password string `json:"password,omitempty"`
}

type fragmentResponse struct {
	// URL is the location with the fragment removed, for history.replaceState.
	URL       string               `json:"url"`
	Param     fragment.TokenParam  `json:"param"`
	Completed Outcome              `json:"completed,omitempty"`
	User      v1.AuthChangePayload `json:"user"`
	Error     *errorBody           `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleFragment processes one redirect location the way a page load would:
// restore, classify, exchange, clear. Cookies the parser set are returned as
// Set-Cookie headers.
func (a *App) handleFragment(w http.ResponseWriter, r *http.Request) {
	var req fragmentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	surface, err := fragment.NewMemorySurface(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_url", "url must be absolute")
		return
	}

	ctrl, _, err := a.Attach(r.Context(), surface)
	if err != nil {
		a.log.Error("fragment.attach.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "session unavailable")
		return
	}
	defer ctrl.Close()

	out, cerr := Complete(r.Context(), ctrl, req.Password, a.cfg.Remember)

	for _, c := range surface.Issued() {
		http.SetCookie(w, c)
	}

	resp := fragmentResponse{
		URL:       surface.URL(),
		Param:     ctrl.Param(),
		Completed: out,
		User:      events.AuthChangePayload(ctrl.User()),
	}
	status := http.StatusOK
	if cerr != nil {
		status, resp.Error = classifyError(cerr)
		a.log.Info("fragment.complete.fail", "type", string(resp.Param.Type), "err", cerr)
	}
	writeJSON(w, status, resp)
}

func (a *App) handleSession(w http.ResponseWriter, r *http.Request) {
	u, err := a.identity.CurrentUser(r.Context())
	if err != nil {
		a.log.Warn("session.restore.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "store", "session store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, events.AuthChangePayload(u))
}

func (a *App) handleSettings(w http.ResponseWriter, r *http.Request) {
	s, err := a.identity.Settings(r.Context())
	if err != nil {
		status, body := classifyError(err)
		writeJSON(w, status, map[string]any{"error": body})
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctrl, _, err := a.Attach(r.Context(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "session unavailable")
		return
	}
	defer ctrl.Close()

	http.SetCookie(w, &http.Cookie{
		Name:    fragment.CookieName,
		Value:   "",
		Path:    "/",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	})

	if err := ctrl.Logout(r.Context()); err != nil && !errors.Is(err, session.ErrNoUser) {
		a.log.Warn("session.logout.fail", "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (a *App) handlePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeBody(r, &req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "password is required")
		return
	}

	ctrl, _, err := a.Attach(r.Context(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "session unavailable")
		return
	}
	defer ctrl.Close()

	u, err := ctrl.UpdateUser(r.Context(), gotrue.UserAttributes{Password: req.Password})
	if err != nil {
		status, body := classifyError(err)
		writeJSON(w, status, map[string]any{"error": body})
		return
	}
	writeJSON(w, http.StatusOK, events.AuthChangePayload(u))
}

// classifyError maps session and provider errors onto an HTTP status.
func classifyError(err error) (int, *errorBody) {
	var apiErr *gotrue.APIError
	switch {
	case errors.Is(err, ErrPasswordRequired):
		return http.StatusUnprocessableEntity, &errorBody{Code: "password_required", Message: err.Error()}
	case session.IsMisuse(err):
		return http.StatusConflict, &errorBody{Code: "invalid_state", Message: err.Error()}
	case errors.As(err, &apiErr):
		if apiErr.Status >= 500 {
			return http.StatusBadGateway, &errorBody{Code: "provider", Message: apiErr.Message}
		}
		return http.StatusUnprocessableEntity, &errorBody{Code: "provider", Message: apiErr.Message}
	default:
		return http.StatusBadGateway, &errorBody{Code: "provider", Message: "identity provider unavailable"}
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"error": errorBody{Code: code, Message: msg}})
}

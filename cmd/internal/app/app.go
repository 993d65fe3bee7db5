// Package app wires the nidentity runtime: config, logging, session storage,
// the loopback callback server and the command line.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"nidentity/cmd/internal/events"
	"nidentity/cmd/internal/fragment"
	"nidentity/cmd/internal/gotrue"
	"nidentity/cmd/internal/session"
)

// App owns everything one process shares between sessions: the identity
// client with its store, metrics and the auth-change hub.
type App struct {
	cfg Config
	log Logger

	identityCfg gotrue.Config
	identity    *gotrue.Client
	httpClient  *http.Client
	backend     *backend

	registry *prometheus.Registry
	metrics  *session.Metrics

	hub     *events.Hub
	gateway *events.Gateway
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor, nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sealer, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}

	icfg, err := gotrue.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if icfg.APIURL == "" {
		icfg.APIURL = gotrue.APIURLForSite(cfg.SiteURL)
	}

	evcfg, err := events.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	be, err := newBackend(ctx, cfg, sealer, log)
	if err != nil {
		return nil, err
	}

	hc := &http.Client{Timeout: icfg.HTTPTimeout}
	identity, err := gotrue.New(icfg,
		gotrue.WithHTTPClient(hc),
		gotrue.WithStore(be.store),
		gotrue.WithLogger(log),
	)
	if err != nil {
		_ = be.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := events.NewHub(log)

	return &App{
		cfg:         cfg,
		log:         log,
		identityCfg: icfg,
		identity:    identity,
		httpClient:  hc,
		backend:     be,
		registry:    reg,
		metrics:     session.NewMetrics(reg),
		hub:         hub,
		gateway:     events.NewGateway(log, hub, evcfg),
	}, nil
}

// Controller builds a session controller over surface that shares the
// process identity client. surface may be nil.
func (a *App) Controller(surface fragment.Surface) (*session.Controller, error) {
	return session.New(a.cfg.SessionConfig(a.identityCfg), surface,
		session.WithProvider(a.identity),
		session.WithHTTPClient(a.httpClient),
		session.WithLogger(a.log),
		session.WithAuthChange(a.hub.Publish),
		session.WithMetrics(a.metrics),
	)
}

// Attach builds a controller over surface and runs Init on it.
func (a *App) Attach(ctx context.Context, surface fragment.Surface) (*session.Controller, fragment.TokenParam, error) {
	ctrl, err := a.Controller(surface)
	if err != nil {
		return nil, fragment.Default, err
	}
	return ctrl, ctrl.Init(ctx), nil
}

// Hub returns the auth-change hub.
func (a *App) Hub() *events.Hub { return a.hub }

// Close releases the session store.
func (a *App) Close() error {
	return a.backend.Close()
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	// Seed the hub so early subscribers learn the restored state.
	u, err := a.identity.CurrentUser(ctx)
	if err != nil {
		a.log.Warn("session.restore.fail", "err", err)
	}
	a.hub.Publish(u)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", base+"/",
		"events", wsBaseURL(base)+"/events",
		"store", a.backend.kind,
		"logged_in", u != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

// Handler returns the full middleware-wrapped route tree.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a)
	return WithRequestLogging(WithSecurityHeaders(WithCORS(mux, a.cfg, a.log)), a.log)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

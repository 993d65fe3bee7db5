package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"nidentity/cmd/internal/events"
	"nidentity/cmd/internal/fragment"
	"nidentity/cmd/internal/gotrue"
	"nidentity/cmd/internal/session"
)

// rootFlags override the environment for a single invocation.
type rootFlags struct {
	site      string
	store     string
	storePath string
	profile   string
	logLevel  string
	logFormat string
}

func (f *rootFlags) apply(cfg *Config) {
	if f.site != "" {
		cfg.SiteURL = f.site
	}
	if f.store != "" {
		cfg.Store = strings.ToLower(f.store)
	}
	if f.storePath != "" {
		cfg.StorePath = f.storePath
	}
	if f.profile != "" {
		cfg.StoreProfile = f.profile
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.logFormat != "" {
		cfg.LogFormat = f.logFormat
	}
}

// NewRootCommand builds the nidentity command tree. load supplies the base
// configuration, normally LoadConfig.
func NewRootCommand(load func() Config) *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "nidentity",
		Short: "Identity session manager for GoTrue-compatible providers",
		Long: `nidentity keeps one identity session for a site: it logs in, refreshes and
revokes tokens, and turns email redirect links (confirmation, invite, recovery,
email change, external provider) into a session.

Configuration comes from NID_* environment variables; flags override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.site, "site", "", "site URL (NID_SITE_URL)")
	pf.StringVar(&flags.store, "store", "", "session store: memory, file, redis, postgres (NID_STORE)")
	pf.StringVar(&flags.storePath, "store-path", "", "session file for --store=file (NID_STORE_PATH)")
	pf.StringVar(&flags.profile, "profile", "", "session profile name (NID_STORE_PROFILE)")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn, error (NID_LOG_LEVEL)")
	pf.StringVar(&flags.logFormat, "log-format", "", "json, text, pretty (NID_LOG_FORMAT)")

	open := func(cmd *cobra.Command) (*App, error) {
		cfg := load()
		flags.apply(&cfg)
		log := NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor, cmd.ErrOrStderr())
		return New(cmd.Context(), cfg, log)
	}

	root.AddCommand(
		newServeCommand(open),
		newLoginCommand(open),
		newSignupCommand(open),
		newLogoutCommand(open),
		newWhoamiCommand(open),
		newJWTCommand(open),
		newSettingsCommand(open),
		newRecoverCommand(open),
		newFragmentCommand(open),
		newProviderCommand(open),
		newFetchCommand(open),
	)
	return root
}

type opener func(cmd *cobra.Command) (*App, error)

// withSession opens the app, attaches a controller over surface and runs fn.
func withSession(cmd *cobra.Command, open opener, surface fragment.Surface, fn func(a *App, ctrl *session.Controller) error) error {
	a, err := open(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctrl, _, err := a.Attach(cmd.Context(), surface)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	return fn(a, ctrl)
}

func newServeCommand(open opener) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the loopback callback server",
		Long: `Serve a page that finishes email redirect links in the browser, plus
/api/session, /api/settings, /api/logout, /api/password, /events (websocket),
/metrics, /healthz and /readyz.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if addr != "" {
				a.cfg.HTTPAddr = addr
			}
			return a.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (NID_HTTP_ADDR)")
	return cmd
}

func newLoginCommand(open opener) *cobra.Command {
	var email, password string
	var remember bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" || password == "" {
				return errors.New("--email and --password are required")
			}
			return withSession(cmd, open, nil, func(a *App, ctrl *session.Controller) error {
				if !cmd.Flags().Changed("remember") {
					remember = a.cfg.Remember
				}
				u, err := ctrl.Login(cmd.Context(), email, password, remember)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), events.AuthChangePayload(u))
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().BoolVar(&remember, "remember", true, "persist the session (NID_REMEMBER)")
	return cmd
}

func newSignupCommand(open opener) *cobra.Command {
	var email, password string
	var login bool
	var data []string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Example: `  nidentity signup --email a@example.com --password secret --data full_name="Ada L"
  nidentity signup --email a@example.com --password secret --login`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" || password == "" {
				return errors.New("--email and --password are required")
			}
			meta, err := parseKeyValues(data)
			if err != nil {
				return err
			}
			return withSession(cmd, open, nil, func(_ *App, ctrl *session.Controller) error {
				u, err := ctrl.Signup(cmd.Context(), email, password, meta, login)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), publicUser(u))
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().BoolVar(&login, "login", false, "make the new account the current user")
	cmd.Flags().StringArrayVar(&data, "data", nil, "user metadata as key=value (repeatable)")
	return cmd
}

func newLogoutCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, open, nil, func(_ *App, ctrl *session.Controller) error {
				if err := ctrl.Logout(cmd.Context()); err != nil {
					if errors.Is(err, session.ErrNoUser) {
						_, _ = fmt.Fprintln(cmd.OutOrStdout(), "not logged in")
						return nil
					}
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "logged out")
				return nil
			})
		},
	}
}

func newWhoamiCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the current user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, open, nil, func(_ *App, ctrl *session.Controller) error {
				u := ctrl.User()
				if u == nil {
					return printJSON(cmd.OutOrStdout(), events.AuthChangePayload(nil))
				}
				return printJSON(cmd.OutOrStdout(), publicUser(u))
			})
		},
	}
}

func newJWTCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "jwt",
		Short: "Print a fresh access token, refreshing it when close to expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, open, nil, func(_ *App, ctrl *session.Controller) error {
				tok, err := ctrl.GetFreshJWT(cmd.Context())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), tok)
				return nil
			})
		},
	}
}

func newSettingsCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Print the identity instance settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, open, nil, func(_ *App, ctrl *session.Controller) error {
				s, err := ctrl.WaitSettings(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), s)
			})
		},
	}
}

func newRecoverCommand(open opener) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Email a password recovery link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			return withSession(cmd, open, nil, func(_ *App, ctrl *session.Controller) error {
				if err := ctrl.RequestPasswordRecovery(cmd.Context(), email); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "recovery email requested")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

type fragmentResult struct {
	URL       string              `json:"url"`
	Param     fragment.TokenParam `json:"param"`
	Completed Outcome             `json:"completed,omitempty"`
	Cookies   []string            `json:"cookies,omitempty"`
	User      any                 `json:"user"`
}

func newFragmentCommand(open opener) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "fragment URL",
		Short: "Process a redirect link from an identity email",
		Long: `Process a redirect link the way a page load would: confirmation and
external-login links are exchanged right away; recovery links log in and, with
--password, set a new password; invite links need --password; email change
links apply to the current user.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, err := fragment.NewMemorySurface(args[0])
			if err != nil {
				return fmt.Errorf("%w: %s", err, args[0])
			}
			return withSession(cmd, open, surface, func(a *App, ctrl *session.Controller) error {
				out, err := Complete(cmd.Context(), ctrl, password, a.cfg.Remember)
				if errors.Is(err, ErrPasswordRequired) {
					return errors.New("invite link: pass --password to accept it")
				}

				res := fragmentResult{
					URL:       surface.URL(),
					Param:     ctrl.Param(),
					Completed: out,
					User:      events.AuthChangePayload(ctrl.User()),
				}
				res.Param.Token = ""
				for _, c := range surface.Issued() {
					res.Cookies = append(res.Cookies, c.Name)
				}
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password for invite or recovery links")
	return cmd
}

func newProviderCommand(open opener) *cobra.Command {
	var invite string
	cmd := &cobra.Command{
		Use:   "provider NAME",
		Short: "Print the external login URL for bitbucket, github, gitlab or google",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := gotrue.Provider(strings.ToLower(args[0]))

			if invite != "" {
				surface, err := fragment.NewMemorySurface(invite)
				if err != nil {
					return fmt.Errorf("%w: %s", err, invite)
				}
				return withSession(cmd, open, surface, func(_ *App, ctrl *session.Controller) error {
					u, err := ctrl.AcceptInviteExternalURL(p)
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), u)
					return nil
				})
			}

			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			surface, err := fragment.NewMemorySurface(a.cfg.SiteURL)
			if err != nil {
				return err
			}
			ctrl, _, err := a.Attach(cmd.Context(), surface)
			if err != nil {
				return err
			}
			defer ctrl.Close()
			if err := ctrl.LoginProvider(p); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), surface.URL())
			return nil
		},
	}
	cmd.Flags().StringVar(&invite, "invite", "", "invite link whose token the provider login should accept")
	return cmd
}

func newFetchCommand(open opener) *cobra.Command {
	var method, data string
	var headers []string
	cmd := &cobra.Command{
		Use:   "fetch ENDPOINT",
		Short: "Call an endpoint with the current access token",
		Long: `Call an endpoint with "Authorization: Bearer <token>" and JSON defaults.
Relative endpoints resolve against the site URL.`,
		Example: `  nidentity fetch /.netlify/functions/profile
  nidentity fetch -X POST -d '{"name":"x"}' /api/items`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := parseHeaders(headers)
			if err != nil {
				return err
			}
			return withSession(cmd, open, nil, func(_ *App, ctrl *session.Controller) error {
				if _, err := ctrl.GetFreshJWT(cmd.Context()); err != nil {
					return err
				}
				opts := &session.FetchOptions{Headers: h}
				if data != "" {
					opts.Body = strings.NewReader(data)
				}
				res, err := ctrl.AuthedFetch().Do(cmd.Context(), method, args[0], opts)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%d %s\n", res.Status, http.StatusText(res.Status))
				if res.JSON != nil {
					if err := printJSON(cmd.OutOrStdout(), res.JSON); err != nil {
						return err
					}
				} else {
					_, _ = cmd.OutOrStdout().Write(res.Body)
				}
				if !res.OK() {
					return fmt.Errorf("fetch: status %d", res.Status)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&method, "request", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "request body")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, `extra header as "Key: value" (repeatable)`)
	return cmd
}

// publicUser is the user record without its token.
func publicUser(u *gotrue.User) *gotrue.User {
	cp := u.Clone()
	if cp != nil {
		cp.Token = nil
	}
	return cp
}

func parseKeyValues(items []string) (map[string]any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(items))
	for _, it := range items {
		k, v, ok := strings.Cut(it, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --data %q, want key=value", it)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

func parseHeaders(items []string) (http.Header, error) {
	h := http.Header{}
	for _, it := range items {
		k, v, ok := strings.Cut(it, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --header %q, want \"Key: value\"", it)
		}
		h.Add(strings.TrimSpace(k), strings.TrimSpace(v))
	}
	return h, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Execute runs the command tree with ctx and args.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCommand(LoadConfig)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

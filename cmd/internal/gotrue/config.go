package gotrue

import (
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// APIPath is where the identity API is mounted below a site URL.
const APIPath = "/.netlify/identity"

// Config describes how the client talks to the identity API.
type Config struct {
	// APIURL is the absolute identity API root, e.g. https://example.com/.netlify/identity.
	APIURL string `env:"NID_IDENTITY_API_URL"`

	// HTTPTimeout bounds every request made by the default HTTP client.
	HTTPTimeout time.Duration `env:"NID_HTTP_TIMEOUT" envDefault:"15s"`

	// ExpiryMargin is how long before expiry an access token is treated as expired.
	ExpiryMargin time.Duration `env:"NID_EXPIRY_MARGIN" envDefault:"60s"`

	// Audience is sent as X-JWT-AUD when set (multi-audience instances).
	Audience string `env:"NID_IDENTITY_AUDIENCE"`
}

// DefaultConfig returns the defaults used when no environment is present.
func DefaultConfig() Config {
	return Config{
		HTTPTimeout:  15 * time.Second,
		ExpiryMargin: 60 * time.Second,
	}
}

// LoadConfigFromEnv loads client configuration from environment variables.
//
// Optional:
//   - NID_IDENTITY_API_URL (otherwise derived from the site URL by the caller)
//   - NID_HTTP_TIMEOUT
//   - NID_EXPIRY_MARGIN
//   - NID_IDENTITY_AUDIENCE
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, ErrConfig
	}
	if cfg.HTTPTimeout <= 0 || cfg.ExpiryMargin < 0 {
		return Config{}, ErrConfig
	}
	if cfg.APIURL != "" {
		if _, err := parseAPIURL(cfg.APIURL); err != nil {
			return Config{}, ErrConfig
		}
	}
	return cfg, nil
}

// APIURLForSite returns the identity API root for a site URL.
func APIURLForSite(site string) string {
	return strings.TrimRight(strings.TrimSpace(site), "/") + APIPath
}

func parseAPIURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrConfig
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

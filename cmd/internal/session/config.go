package session

import (
	"net/url"
	"strings"

	"nidentity/cmd/internal/gotrue"
)

// Config parameterizes a Controller.
type Config struct {
	// SiteURL is the site the identity instance belongs to; the API lives at
	// SiteURL + /.netlify/identity unless Identity.APIURL says otherwise.
	SiteURL string

	// Remember persists sessions from fragment exchanges and logins.
	Remember bool

	// Identity configures the provider client built when none is injected.
	Identity gotrue.Config
}

// DefaultConfig returns a Config for site with remember on.
func DefaultConfig(site string) Config {
	return Config{
		SiteURL:  site,
		Remember: true,
		Identity: gotrue.DefaultConfig(),
	}
}

// ParseSiteURL validates an absolute http(s) site URL and drops any query,
// fragment and trailing slash.
func ParseSiteURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || strings.ContainsAny(u.Host, " \t") {
		return nil, ErrInvalidSiteURL
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u, nil
}

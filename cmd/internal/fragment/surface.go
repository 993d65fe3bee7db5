package fragment

import (
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// Surface is the navigation state the parser and the session act on.
type Surface interface {
	// Fragment returns the text after '#' as it appears in the URL, or "".
	Fragment() string
	// ClearFragment drops the fragment by replacing the current history entry.
	ClearFragment()
	// SetCookie stores a cookie for the current page.
	SetCookie(c *http.Cookie)
	// Navigate pushes a new location. Relative URLs resolve against the current one.
	Navigate(rawURL string) error
}

// ErrInvalidLocation is returned for URLs a surface cannot hold.
var ErrInvalidLocation = errors.New("invalid location")

// MemorySurface is an in-process Surface: a location, its history and a cookie jar.
type MemorySurface struct {
	mu      sync.Mutex
	loc     *url.URL
	history []string
	jar     *cookiejar.Jar
	issued  []*http.Cookie
}

// NewMemorySurface starts at rawURL, which must be absolute.
func NewMemorySurface(rawURL string) (*MemorySurface, error) {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, ErrInvalidLocation
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &MemorySurface{
		loc:     u,
		history: []string{u.String()},
		jar:     jar,
	}, nil
}

func (s *MemorySurface) Fragment() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc.EscapedFragment()
}

func (s *MemorySurface) ClearFragment() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *s.loc
	cp.Fragment = ""
	cp.RawFragment = ""
	s.loc = &cp
	s.history[len(s.history)-1] = cp.String()
}

func (s *MemorySurface) SetCookie(c *http.Cookie) {
	if c == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jar.SetCookies(s.loc, []*http.Cookie{c})
	cp := *c
	s.issued = append(s.issued, &cp)
}

func (s *MemorySurface) Navigate(rawURL string) error {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidLocation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.loc.ResolveReference(ref)
	s.loc = next
	s.history = append(s.history, next.String())
	return nil
}

// URL returns the current location.
func (s *MemorySurface) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc.String()
}

// History returns every location visited, oldest first.
func (s *MemorySurface) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

// Cookies returns the cookies the jar would send to the current location.
func (s *MemorySurface) Cookies() []*http.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jar.Cookies(s.loc)
}

// Issued returns every cookie passed to SetCookie, with all attributes intact.
func (s *MemorySurface) Issued() []*http.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*http.Cookie, len(s.issued))
	for i, c := range s.issued {
		cp := *c
		out[i] = &cp
	}
	return out
}

// Jar exposes the cookie jar, e.g. for an http.Client acting as this page.
func (s *MemorySurface) Jar() http.CookieJar { return s.jar }

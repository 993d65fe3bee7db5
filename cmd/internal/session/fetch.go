package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

const (
	jsonContentType  = "application/json"
	maxFetchBodySize = 10 << 20
)

// FetchOptions overrides the defaults of an authenticated request.
// Headers replace the default value of each key they set.
type FetchOptions struct {
	Method  string
	Headers http.Header
	// Body is sent verbatim. When nil, JSON (if set) is encoded instead.
	Body io.Reader
	JSON any
}

// FetchResult is a completed request. Non-2xx statuses are results, not errors.
type FetchResult struct {
	Status int
	Header http.Header
	Body   []byte
	// JSON holds the decoded body when both sides spoke JSON.
	JSON any
}

// OK reports a 2xx status.
func (r *FetchResult) OK() bool { return r.Status >= 200 && r.Status <= 299 }

// Decode unmarshals the body into v.
func (r *FetchResult) Decode(v any) error { return json.Unmarshal(r.Body, v) }

// Fetcher issues requests carrying the current user's access token.
type Fetcher struct {
	c *Controller
}

// AuthedFetch returns the authenticated request helper.
func (c *Controller) AuthedFetch() *Fetcher { return &Fetcher{c: c} }

func (f *Fetcher) Get(ctx context.Context, endpoint string, opts *FetchOptions) (*FetchResult, error) {
	return f.do(ctx, http.MethodGet, endpoint, opts)
}

func (f *Fetcher) Post(ctx context.Context, endpoint string, opts *FetchOptions) (*FetchResult, error) {
	return f.do(ctx, http.MethodPost, endpoint, opts)
}

func (f *Fetcher) Put(ctx context.Context, endpoint string, opts *FetchOptions) (*FetchResult, error) {
	return f.do(ctx, http.MethodPut, endpoint, opts)
}

func (f *Fetcher) Delete(ctx context.Context, endpoint string, opts *FetchOptions) (*FetchResult, error) {
	return f.do(ctx, http.MethodDelete, endpoint, opts)
}

// Do issues a request with an explicit verb.
func (f *Fetcher) Do(ctx context.Context, method, endpoint string, opts *FetchOptions) (*FetchResult, error) {
	return f.do(ctx, strings.ToUpper(method), endpoint, opts)
}

func (f *Fetcher) do(ctx context.Context, method, endpoint string, opts *FetchOptions) (*FetchResult, error) {
	op := "session.AuthedFetch." + method

	access := f.c.User().AccessToken()
	if access == "" {
		return nil, misuse(op, ErrNoToken)
	}
	if opts == nil {
		opts = &FetchOptions{}
	}

	header := http.Header{}
	header.Set("Accept", jsonContentType)
	header.Set("Content-Type", jsonContentType)
	header.Set("Authorization", "Bearer "+access)
	for k, vs := range opts.Headers {
		header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	if opts.Method != "" {
		method = strings.ToUpper(opts.Method)
	}

	target, err := f.c.resolve(endpoint)
	if err != nil {
		return nil, remote(op, err)
	}

	body := opts.Body
	if body == nil && opts.JSON != nil {
		b, err := json.Marshal(opts.JSON)
		if err != nil {
			return nil, remote(op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, remote(op, err)
	}
	req.Header = header

	resp, err := f.c.http.Do(req)
	if err != nil {
		return nil, remote(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodySize))
	if err != nil {
		return nil, remote(op, err)
	}
	f.c.metrics.fetched(method, resp.StatusCode)

	res := &FetchResult{Status: resp.StatusCode, Header: resp.Header, Body: data}
	if isJSON(header.Get("Content-Type")) && isJSON(resp.Header.Get("Content-Type")) && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &res.JSON); err != nil {
			return res, remote(op, fmt.Errorf("decode response: %w", err))
		}
	}
	return res, nil
}

// resolve makes endpoint absolute against the site URL.
func (c *Controller) resolve(endpoint string) (string, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base := *c.site
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(ref).String(), nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == jsonContentType || strings.HasSuffix(mt, "+json")
}

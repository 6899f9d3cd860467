// Package transport attaches the signed-in user's ID token to outgoing HTTP
// requests.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/panyam/authkit"
)

// IDTokenSource yields the current user's backend ID token. Every
// authkit.Authenticating is one.
type IDTokenSource interface {
	UserIDToken(ctx context.Context) (string, error)
}

var _ IDTokenSource = (authkit.Authenticating)(nil)

// AuthTransport wraps an http.RoundTripper to add a bearer ID token.
// Requests go out without Authorization when nobody is signed in.
type AuthTransport struct {
	Base   http.RoundTripper
	Source IDTokenSource
	Logger *slog.Logger
}

// RoundTrip implements http.RoundTripper
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.token(req.Context())
	if err != nil {
		return nil, err
	}
	if token != "" {
		req = withBearer(req, token)
	}

	resp, err := t.base().RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// A 401 may mean the token expired in flight; retry once if the source
	// now hands out a different token and the body can be replayed.
	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		fresh, err := t.token(req.Context())
		if err != nil || fresh == "" || fresh == token {
			return resp, nil
		}
		retry, ok := rewind(req)
		if !ok {
			return resp, nil
		}
		resp.Body.Close()
		t.logger().Debug("retrying request with refreshed id token", "url", req.URL.Redacted())
		return t.base().RoundTrip(withBearer(retry, fresh))
	}
	return resp, nil
}

func (t *AuthTransport) token(ctx context.Context) (string, error) {
	token, err := t.Source.UserIDToken(ctx)
	if err != nil {
		if errors.Is(err, authkit.ErrTokenUnavailable) || errors.Is(err, authkit.ErrNoCurrentUser) {
			return "", nil
		}
		return "", err
	}
	return token, nil
}

func (t *AuthTransport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

func (t *AuthTransport) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}

// withBearer clones req so the caller's request is never mutated.
func withBearer(req *http.Request, token string) *http.Request {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func rewind(req *http.Request) (*http.Request, bool) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	req = req.Clone(req.Context())
	req.Body = body
	return req, true
}

// Option configures the client built by NewClient.
type Option func(*http.Client, *AuthTransport)

// WithHTTPClient copies timeout, redirect and cookie settings from hc and
// wraps its transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *http.Client, t *AuthTransport) {
		if hc == nil {
			return
		}
		if hc.Transport != nil {
			t.Base = hc.Transport
		}
		c.Timeout = hc.Timeout
		c.CheckRedirect = hc.CheckRedirect
		c.Jar = hc.Jar
	}
}

// WithTransport sets the base transport (connection pooling, proxies, etc.)
func WithTransport(rt http.RoundTripper) Option {
	return func(_ *http.Client, t *AuthTransport) {
		t.Base = rt
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(_ *http.Client, t *AuthTransport) {
		t.Logger = logger
	}
}

// NewClient returns an HTTP client that authenticates as src's current user.
func NewClient(src IDTokenSource, opts ...Option) *http.Client {
	t := &AuthTransport{Source: src}
	c := &http.Client{}
	for _, opt := range opts {
		opt(c, t)
	}
	c.Transport = t
	return c
}

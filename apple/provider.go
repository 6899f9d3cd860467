// Package apple runs Sign in with Apple flows and turns their outcome into
// backend credentials.
package apple

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/panyam/authkit"
)

// Scope is an item of user information requested from Apple.
type Scope string

const (
	ScopeFullName Scope = "name"
	ScopeEmail    Scope = "email"
)

// ErrCanceled is returned by an AuthorizationController when the user
// dismissed the Apple sheet.
var ErrCanceled = errors.New("apple: authorization canceled")

// Request is what the platform authorization controller is asked to perform.
// Nonce is the SHA-256 hex digest of the raw nonce.
type Request struct {
	Scopes []Scope
	Nonce  string
}

// AuthorizationController is the native Sign in with Apple boundary.
type AuthorizationController interface {
	PerformRequest(ctx context.Context, req Request, view authkit.PresentingView) (*authkit.AppleAuthorization, error)
}

// Credential is what a backend needs to sign in with an Apple authorization.
// Nonce is the raw nonce the identity token was requested with.
type Credential struct {
	IDToken string
	Nonce   string
}

type Option func(*Provider)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithNonceGenerator replaces the crypto/rand nonce source.
func WithNonceGenerator(g NonceGenerator) Option {
	return func(p *Provider) {
		p.nonces = g
	}
}

// Provider starts Apple flows. At most one flow is pending at a time;
// starting a new one resolves the previous one as cancelled.
type Provider struct {
	controller AuthorizationController
	nonces     NonceGenerator
	logger     *slog.Logger

	mu      sync.Mutex
	pending *Flow
}

func NewProvider(controller AuthorizationController, opts ...Option) *Provider {
	p := &Provider{
		controller: controller,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start issues an authorization request for name and email anchored on view
// and returns the flow tracking it.
func (p *Provider) Start(ctx context.Context, view authkit.PresentingView) (*Flow, error) {
	if view == nil {
		return nil, authkit.NewAuthError(authkit.ErrCodePresentingViewUnavailable, "no view to present Sign in with Apple")
	}
	raw, err := p.nonces.Nonce(DefaultNonceLength)
	if err != nil {
		return nil, authkit.Errorf(authkit.ErrCodeExchangeFailed, "%v", err)
	}
	flow := &Flow{
		rawNonce:    raw,
		hashedNonce: SHA256(raw),
		done:        make(chan struct{}),
	}

	p.mu.Lock()
	if prev := p.pending; prev != nil {
		p.logger.Debug("superseding pending Sign in with Apple flow")
		prev.resolve(nil, authkit.NewAuthError(authkit.ErrCodeProviderCancelled, "superseded by a newer Apple flow"))
	}
	p.pending = flow
	p.mu.Unlock()

	req := Request{
		Scopes: []Scope{ScopeFullName, ScopeEmail},
		Nonce:  flow.hashedNonce,
	}
	go func() {
		auth, err := p.controller.PerformRequest(ctx, req, view)
		flow.resolve(auth, classify(err))

		p.mu.Lock()
		if p.pending == flow {
			p.pending = nil
		}
		p.mu.Unlock()
	}()
	return flow, nil
}

// Authorize runs a complete flow and returns the backend credential together
// with the native authorization.
func (p *Provider) Authorize(ctx context.Context, view authkit.PresentingView) (*Credential, *authkit.AppleAuthorization, error) {
	flow, err := p.Start(ctx, view)
	if err != nil {
		return nil, nil, err
	}
	auth, err := flow.Wait(ctx)
	if err != nil {
		return nil, nil, err
	}
	cred, err := flow.Credential(auth)
	if err != nil {
		return nil, nil, err
	}
	return cred, auth, nil
}

// RevocationCode runs a fresh flow and returns its authorization code, which
// backends exchange to revoke the user's Apple token.
func (p *Provider) RevocationCode(ctx context.Context, view authkit.PresentingView) (string, error) {
	flow, err := p.Start(ctx, view)
	if err != nil {
		return "", err
	}
	auth, err := flow.Wait(ctx)
	if err != nil {
		return "", err
	}
	return AuthorizationCode(auth)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled) {
		return authkit.NewAuthError(authkit.ErrCodeProviderCancelled, "Sign in with Apple was cancelled")
	}
	return authkit.Errorf(authkit.ErrCodeExchangeFailed, "Sign in with Apple failed: %v", err)
}

// Flow is one single-shot Apple authorization.
type Flow struct {
	rawNonce    string
	hashedNonce string

	once sync.Once
	done chan struct{}
	auth *authkit.AppleAuthorization
	err  error
}

func (f *Flow) resolve(auth *authkit.AppleAuthorization, err error) {
	f.once.Do(func() {
		f.auth, f.err = auth, err
		close(f.done)
	})
}

// Nonce returns the raw nonce of the flow.
func (f *Flow) Nonce() string { return f.rawNonce }

// HashedNonce returns the digest sent with the request.
func (f *Flow) HashedNonce() string { return f.hashedNonce }

// Done is closed once the flow has resolved.
func (f *Flow) Done() <-chan struct{} { return f.done }

// Wait blocks until the flow resolves or ctx is done.
func (f *Flow) Wait(ctx context.Context) (*authkit.AppleAuthorization, error) {
	select {
	case <-f.done:
		if f.err != nil {
			return nil, f.err
		}
		if f.auth == nil {
			return nil, authkit.NewAuthError(authkit.ErrCodeMalformedCredential, "Apple returned no authorization")
		}
		return f.auth, nil
	case <-ctx.Done():
		return nil, authkit.NewAuthError(authkit.ErrCodeProviderCancelled, "Sign in with Apple abandoned")
	}
}

// Credential extracts the identity token from auth and pairs it with the
// flow's raw nonce. The token must be a UTF-8 JWT whose nonce claim, when
// present, matches the hashed nonce of this flow.
func (f *Flow) Credential(auth *authkit.AppleAuthorization) (*Credential, error) {
	if auth == nil || len(auth.IdentityToken) == 0 {
		return nil, authkit.NewAuthError(authkit.ErrCodeMalformedCredential, "unable to fetch identity token")
	}
	if !utf8.Valid(auth.IdentityToken) {
		return nil, authkit.NewAuthError(authkit.ErrCodeMalformedCredential, "identity token is not valid UTF-8")
	}
	idToken := string(auth.IdentityToken)

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, authkit.Errorf(authkit.ErrCodeMalformedCredential, "unable to parse identity token: %v", err)
	}
	if nonce, ok := claims["nonce"]; ok {
		if s, _ := nonce.(string); s != f.hashedNonce {
			return nil, authkit.NewAuthError(authkit.ErrCodeMalformedCredential, "identity token nonce does not match request")
		}
	}
	return &Credential{IDToken: idToken, Nonce: f.rawNonce}, nil
}

// AuthorizationCode returns the authorization code used for token revocation.
func AuthorizationCode(auth *authkit.AppleAuthorization) (string, error) {
	if auth == nil || len(auth.AuthorizationCode) == 0 {
		return "", authkit.NewAuthError(authkit.ErrCodeRevocationFailed, "unable to fetch authorization code")
	}
	if !utf8.Valid(auth.AuthorizationCode) {
		return "", authkit.NewAuthError(authkit.ErrCodeRevocationFailed, "authorization code is not valid UTF-8")
	}
	return string(auth.AuthorizationCode), nil
}

// Package google runs Google Sign-In flows and turns their outcome into
// backend credentials.
package google

import (
	"context"
	"errors"
	"log/slog"

	"github.com/panyam/authkit"
)

// ErrCanceled is returned by a SignInClient when the user dismissed the
// Google consent screen.
var ErrCanceled = errors.New("google: sign-in canceled")

// Account is what the Google Sign-In SDK reports for a completed flow.
type Account struct {
	IDToken     string
	AccessToken string
	Profile     *authkit.SocialProfile
}

// SignInClient is the native Google Sign-In boundary.
type SignInClient interface {
	SignIn(ctx context.Context, view authkit.PresentingView) (*Account, error)
}

// Credential is what a backend needs to sign in with Google.
type Credential struct {
	IDToken     string
	AccessToken string
	Profile     *authkit.SocialProfile
}

// Provider runs Google flows through a SignInClient.
type Provider struct {
	client SignInClient
	logger *slog.Logger
}

type Option func(*Provider)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

func NewProvider(client SignInClient, opts ...Option) *Provider {
	p := &Provider{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Credential runs one sign-in flow anchored on view.
func (p *Provider) Credential(ctx context.Context, view authkit.PresentingView) (*Credential, error) {
	if view == nil {
		return nil, authkit.NewAuthError(authkit.ErrCodePresentingViewUnavailable, "no view to present Google Sign-In")
	}
	acct, err := p.client.SignIn(ctx, view)
	if err != nil {
		if errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled) {
			p.logger.Debug("google sign-in cancelled")
			return nil, authkit.NewAuthError(authkit.ErrCodeProviderCancelled, "Google Sign-In was cancelled")
		}
		return nil, authkit.Errorf(authkit.ErrCodeExchangeFailed, "Google Sign-In failed: %v", err)
	}
	if acct == nil || acct.IDToken == "" {
		return nil, authkit.NewAuthError(authkit.ErrCodeMalformedCredential, "Google did not return an ID token")
	}
	return &Credential{
		IDToken:     acct.IDToken,
		AccessToken: acct.AccessToken,
		Profile:     acct.Profile,
	}, nil
}

package google

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/caarlos0/env/v11"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/panyam/authkit"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
)

const (
	Issuer             = "https://accounts.google.com"
	DefaultUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// OAuthConfig configures the browser-based Google client.
type OAuthConfig struct {
	ClientID     string   `env:"AUTHKIT_GOOGLE_CLIENT_ID,required"`
	ClientSecret string   `env:"AUTHKIT_GOOGLE_CLIENT_SECRET"`
	RedirectURL  string   `env:"AUTHKIT_GOOGLE_REDIRECT_URL,required"`
	Scopes       []string `env:"AUTHKIT_GOOGLE_SCOPES" envSeparator:"," envDefault:"openid,email,profile"`
}

// LoadOAuthConfig reads OAuthConfig from the environment.
func LoadOAuthConfig() (OAuthConfig, error) {
	var cfg OAuthConfig
	if err := env.Parse(&cfg); err != nil {
		return OAuthConfig{}, fmt.Errorf("google: invalid config: %w", err)
	}
	return cfg, nil
}

// OAuthClient is a SignInClient that runs the authorization code flow with
// PKCE, presenting Google's consent page through the PresentingView.
type OAuthClient struct {
	config      oauth2.Config
	verifier    *oidc.IDTokenVerifier
	userInfoURL string
	httpClient  *http.Client
	logger      *slog.Logger
}

type OAuthOption func(*OAuthClient)

// WithVerifier verifies returned ID tokens and reads the profile from their
// claims instead of calling the userinfo endpoint.
func WithVerifier(v *oidc.IDTokenVerifier) OAuthOption {
	return func(c *OAuthClient) {
		c.verifier = v
	}
}

func WithEndpoint(ep oauth2.Endpoint) OAuthOption {
	return func(c *OAuthClient) {
		c.config.Endpoint = ep
	}
}

func WithUserInfoURL(u string) OAuthOption {
	return func(c *OAuthClient) {
		c.userInfoURL = u
	}
}

// WithHTTPClient sets the client used for token and userinfo requests.
func WithHTTPClient(hc *http.Client) OAuthOption {
	return func(c *OAuthClient) {
		c.httpClient = hc
	}
}

func WithOAuthLogger(logger *slog.Logger) OAuthOption {
	return func(c *OAuthClient) {
		c.logger = logger
	}
}

func NewOAuthClient(cfg OAuthConfig, opts ...OAuthOption) *OAuthClient {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}
	c := &OAuthClient{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     googleoauth.Endpoint,
		},
		userInfoURL: DefaultUserInfoURL,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewOIDCClient discovers Google's OIDC configuration and returns a client
// that verifies ID tokens against it.
func NewOIDCClient(ctx context.Context, cfg OAuthConfig, opts ...OAuthOption) (*OAuthClient, error) {
	provider, err := oidc.NewProvider(ctx, Issuer)
	if err != nil {
		return nil, fmt.Errorf("google: failed to init oidc provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	opts = append([]OAuthOption{WithEndpoint(provider.Endpoint()), WithVerifier(verifier)}, opts...)
	return NewOAuthClient(cfg, opts...), nil
}

type profileClaims struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

func (p profileClaims) profile() *authkit.SocialProfile {
	return &authkit.SocialProfile{
		Email:      p.Email,
		FullName:   p.Name,
		GivenName:  p.GivenName,
		FamilyName: p.FamilyName,
	}
}

// SignIn implements SignInClient.
func (c *OAuthClient) SignIn(ctx context.Context, view authkit.PresentingView) (*Account, error) {
	state, err := generateState()
	if err != nil {
		return nil, err
	}
	codeVerifier := oauth2.GenerateVerifier()
	authURL := c.config.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(codeVerifier))

	redirect, err := view.Present(ctx, authURL)
	if err != nil {
		return nil, err
	}
	if redirect == nil {
		return nil, ErrCanceled
	}
	q := redirect.Query()
	if e := q.Get("error"); e != "" {
		if e == "access_denied" {
			return nil, ErrCanceled
		}
		return nil, fmt.Errorf("google: authorization error: %s", e)
	}
	if q.Get("state") != state {
		return nil, errors.New("google: invalid oauth state")
	}
	code := q.Get("code")
	if code == "" {
		return nil, errors.New("google: redirect carried no authorization code")
	}

	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	token, err := c.config.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("google: code exchange failed: %w", err)
	}
	rawIDToken, _ := token.Extra("id_token").(string)
	c.logger.Debug("google authorization code exchanged", "id_token_present", rawIDToken != "")

	var claims profileClaims
	if c.verifier != nil && rawIDToken != "" {
		idToken, err := c.verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, fmt.Errorf("google: id_token verification failed: %w", err)
		}
		if err := idToken.Claims(&claims); err != nil {
			return nil, fmt.Errorf("google: id_token claims parse failed: %w", err)
		}
	} else {
		claims, err = c.fetchUserInfo(ctx, token)
		if err != nil {
			return nil, err
		}
	}

	return &Account{
		IDToken:     rawIDToken,
		AccessToken: token.AccessToken,
		Profile:     claims.profile(),
	}, nil
}

func (c *OAuthClient) fetchUserInfo(ctx context.Context, token *oauth2.Token) (profileClaims, error) {
	var claims profileClaims
	resp, err := c.config.Client(ctx, token).Get(c.userInfoURL)
	if err != nil {
		return claims, fmt.Errorf("google: failed getting user info: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return claims, fmt.Errorf("google: failed reading user info: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return claims, fmt.Errorf("google: user info returned HTTP %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &claims); err != nil {
		return claims, fmt.Errorf("google: invalid user info: %w", err)
	}
	return claims, nil
}

func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("google: failed to generate state: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

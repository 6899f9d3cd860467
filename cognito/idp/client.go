// Package idp implements cognito.Client against an Amazon Cognito user pool.
//
// Password sign-in uses the USER_PASSWORD_AUTH flow of the app client; web UI
// sign-in runs the hosted UI authorization code flow with PKCE. Tokens are
// kept in memory and refreshed with REFRESH_TOKEN_AUTH when they are close to
// expiry.
package idp

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/panyam/authkit"
	"github.com/panyam/authkit/cognito"
	"golang.org/x/oauth2"
)

// Next steps reported for incomplete sign-up.
const (
	NextStepDone          = "DONE"
	NextStepConfirmSignUp = "CONFIRM_SIGN_UP"
)

const refreshMargin = 5 * time.Minute

// API is the part of the user-pool service client used here.
type API interface {
	InitiateAuth(ctx context.Context, in *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	SignUp(ctx context.Context, in *cip.SignUpInput, optFns ...func(*cip.Options)) (*cip.SignUpOutput, error)
	GetUser(ctx context.Context, in *cip.GetUserInput, optFns ...func(*cip.Options)) (*cip.GetUserOutput, error)
	GlobalSignOut(ctx context.Context, in *cip.GlobalSignOutInput, optFns ...func(*cip.Options)) (*cip.GlobalSignOutOutput, error)
	RevokeToken(ctx context.Context, in *cip.RevokeTokenInput, optFns ...func(*cip.Options)) (*cip.RevokeTokenOutput, error)
	ForgotPassword(ctx context.Context, in *cip.ForgotPasswordInput, optFns ...func(*cip.Options)) (*cip.ForgotPasswordOutput, error)
	GetUserAttributeVerificationCode(ctx context.Context, in *cip.GetUserAttributeVerificationCodeInput, optFns ...func(*cip.Options)) (*cip.GetUserAttributeVerificationCodeOutput, error)
	DeleteUser(ctx context.Context, in *cip.DeleteUserInput, optFns ...func(*cip.Options)) (*cip.DeleteUserOutput, error)
}

var _ API = (*cip.Client)(nil)

type tokens struct {
	idToken      string
	accessToken  string
	refreshToken string
	expiry       time.Time
}

type idClaims struct {
	Username string `json:"cognito:username"`
	jwt.RegisteredClaims
}

// Client holds the tokens of one signed-in user-pool user.
type Client struct {
	api        API
	cfg        Config
	oauth      oauth2.Config
	hub        *cognito.EventHub
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	tokens *tokens
}

var _ cognito.Client = (*Client)(nil)

type Option func(*Client)

// WithHub publishes auth events on hub instead of a private one.
func WithHub(hub *cognito.EventHub) Option {
	return func(c *Client) {
		c.hub = hub
	}
}

// WithHTTPClient sets the client used for hosted UI token requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func New(api API, cfg Config, opts ...Option) *Client {
	c := &Client{
		api: api,
		cfg: cfg,
		oauth: oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.authURL(),
				TokenURL:  cfg.tokenURL(),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.hub == nil {
		c.hub = cognito.NewEventHub()
	}
	return c
}

// NewFromConfig builds the service client for cfg.Region. The public app
// client calls need no AWS credentials, so requests are sent anonymously.
func NewFromConfig(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	api := cip.NewFromConfig(awsCfg, func(o *cip.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return New(api, cfg, opts...), nil
}

// Hub returns the hub auth events are published on.
func (c *Client) Hub() *cognito.EventHub {
	return c.hub
}

func (c *Client) SignIn(ctx context.Context, username, password string) (*cognito.SignInResult, error) {
	out, err := c.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: types.AuthFlowTypeUserPasswordAuth,
		ClientId: aws.String(c.cfg.ClientID),
		AuthParameters: map[string]string{
			"USERNAME": username,
			"PASSWORD": password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("initiate auth: %w", err)
	}
	if out.ChallengeName != "" {
		c.logger.Info("sign in needs a challenge", "challenge", out.ChallengeName)
		return &cognito.SignInResult{NextStep: string(out.ChallengeName)}, nil
	}
	if out.AuthenticationResult == nil {
		return nil, errors.New("initiate auth: no authentication result")
	}
	c.install(nil, fromAuthResult(out.AuthenticationResult, c.now()))
	c.hub.Publish(cognito.HubPayload{EventName: cognito.EventNameSignedIn})
	return &cognito.SignInResult{IsSignedIn: true, NextStep: NextStepDone}, nil
}

func (c *Client) SignUp(ctx context.Context, username, password string, attrs []cognito.Attribute) (*cognito.SignUpResult, error) {
	in := &cip.SignUpInput{
		ClientId: aws.String(c.cfg.ClientID),
		Username: aws.String(username),
		Password: aws.String(password),
	}
	for _, a := range attrs {
		in.UserAttributes = append(in.UserAttributes, types.AttributeType{Name: aws.String(a.Key), Value: aws.String(a.Value)})
	}
	out, err := c.api.SignUp(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}
	res := &cognito.SignUpResult{
		IsSignUpComplete: out.UserConfirmed,
		UserID:           aws.ToString(out.UserSub),
		NextStep:         NextStepDone,
	}
	if !out.UserConfirmed {
		res.NextStep = NextStepConfirmSignUp
	}
	return res, nil
}

// AuthorizeWebUI presents the hosted UI for provider and returns the
// authorization code it redirected back with.
func (c *Client) AuthorizeWebUI(ctx context.Context, provider cognito.WebUIProvider, view authkit.PresentingView) (*cognito.WebUIAuthorization, error) {
	if c.cfg.Domain == "" {
		return nil, errors.New("hosted ui: no domain configured")
	}
	state, err := generateState()
	if err != nil {
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()
	authURL := c.oauth.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("identity_provider", string(provider)),
	)

	redirect, err := view.Present(ctx, authURL)
	if err != nil {
		return nil, err
	}
	if redirect == nil {
		return nil, cognito.ErrCanceled
	}
	q := redirect.Query()
	if e := q.Get("error"); e != "" {
		if e == "access_denied" {
			return nil, cognito.ErrCanceled
		}
		return nil, fmt.Errorf("hosted ui: authorization error: %s %s", e, q.Get("error_description"))
	}
	if q.Get("state") != state {
		return nil, errors.New("hosted ui: invalid oauth state")
	}
	code := q.Get("code")
	if code == "" {
		return nil, errors.New("hosted ui: redirect carried no authorization code")
	}
	return &cognito.WebUIAuthorization{Provider: provider, Code: code, Verifier: verifier}, nil
}

// ExchangeWebUI redeems an authorization code at the token endpoint. The
// current session is left alone.
func (c *Client) ExchangeWebUI(ctx context.Context, authz *cognito.WebUIAuthorization) (*cognito.WebUIGrant, error) {
	if authz == nil || authz.Code == "" {
		return nil, errors.New("hosted ui: no authorization code")
	}
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	tok, err := c.oauth.Exchange(ctx, authz.Code, oauth2.VerifierOption(authz.Verifier))
	if err != nil {
		return nil, fmt.Errorf("hosted ui: code exchange failed: %w", err)
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return nil, errors.New("hosted ui: token response carried no id_token")
	}
	var claims idClaims
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, &claims); err != nil {
		return nil, fmt.Errorf("hosted ui: parse id token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("hosted ui: id token has no subject")
	}
	c.logger.Debug("hosted ui code exchanged", "provider", authz.Provider)
	return &cognito.WebUIGrant{
		UserID:       claims.Subject,
		Username:     claims.Username,
		IDToken:      idToken,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

// SignInWithGrant makes grant the current session.
func (c *Client) SignInWithGrant(ctx context.Context, grant *cognito.WebUIGrant) (*cognito.SignInResult, error) {
	if grant == nil || grant.IDToken == "" {
		return nil, errors.New("hosted ui: empty grant")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.install(nil, &tokens{
		idToken:      grant.IDToken,
		accessToken:  grant.AccessToken,
		refreshToken: grant.RefreshToken,
		expiry:       grant.Expiry,
	})
	c.hub.Publish(cognito.HubPayload{EventName: cognito.EventNameSignedIn})
	return &cognito.SignInResult{IsSignedIn: true, NextStep: NextStepDone}, nil
}

// SignOut drops the local tokens, then signs out globally and revokes the
// refresh token. Server-side failures make the result partial.
func (c *Client) SignOut(ctx context.Context) cognito.SignOutResult {
	if err := ctx.Err(); err != nil {
		return cognito.SignOutResult{Status: cognito.SignOutFailed, Err: err}
	}
	c.mu.Lock()
	t := c.tokens
	c.tokens = nil
	c.mu.Unlock()

	var errs []error
	if t != nil {
		if _, err := c.api.GlobalSignOut(ctx, &cip.GlobalSignOutInput{AccessToken: aws.String(t.accessToken)}); err != nil {
			errs = append(errs, fmt.Errorf("global sign out: %w", err))
		}
		if t.refreshToken != "" {
			_, err := c.api.RevokeToken(ctx, &cip.RevokeTokenInput{
				ClientId: aws.String(c.cfg.ClientID),
				Token:    aws.String(t.refreshToken),
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("revoke token: %w", err))
			}
		}
	}
	c.hub.Publish(cognito.HubPayload{EventName: cognito.EventNameSignedOut})

	if len(errs) > 0 {
		return cognito.SignOutResult{Status: cognito.SignOutPartial, Err: errors.Join(errs...)}
	}
	return cognito.SignOutResult{Status: cognito.SignOutComplete}
}

func (c *Client) FetchUserAttributes(ctx context.Context) ([]cognito.Attribute, error) {
	t, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	out, err := c.api.GetUser(ctx, &cip.GetUserInput{AccessToken: aws.String(t.accessToken)})
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	attrs := make([]cognito.Attribute, 0, len(out.UserAttributes))
	for _, a := range out.UserAttributes {
		attrs = append(attrs, cognito.Attribute{Key: aws.ToString(a.Name), Value: aws.ToString(a.Value)})
	}
	return attrs, nil
}

// GetCurrentUser reads the user from the ID token claims.
func (c *Client) GetCurrentUser(ctx context.Context) (*cognito.CurrentUser, error) {
	t, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	var claims idClaims
	if _, _, err := jwt.NewParser().ParseUnverified(t.idToken, &claims); err != nil {
		return nil, fmt.Errorf("parse id token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("id token has no subject")
	}
	return &cognito.CurrentUser{Username: claims.Username, UserID: claims.Subject}, nil
}

func (c *Client) FetchAuthSession(ctx context.Context) (*cognito.AuthSession, error) {
	t, err := c.session(ctx)
	if errors.Is(err, cognito.ErrNotSignedIn) {
		return &cognito.AuthSession{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &cognito.AuthSession{IsSignedIn: true, IDToken: t.idToken}, nil
}

func (c *Client) ResetPassword(ctx context.Context, username string) error {
	_, err := c.api.ForgotPassword(ctx, &cip.ForgotPasswordInput{
		ClientId: aws.String(c.cfg.ClientID),
		Username: aws.String(username),
	})
	if err != nil {
		return fmt.Errorf("forgot password: %w", err)
	}
	return nil
}

func (c *Client) SendVerificationCode(ctx context.Context, attributeKey string) error {
	t, err := c.session(ctx)
	if err != nil {
		return err
	}
	_, err = c.api.GetUserAttributeVerificationCode(ctx, &cip.GetUserAttributeVerificationCodeInput{
		AccessToken:   aws.String(t.accessToken),
		AttributeName: aws.String(attributeKey),
	})
	if err != nil {
		return fmt.Errorf("get attribute verification code: %w", err)
	}
	return nil
}

func (c *Client) DeleteUser(ctx context.Context) error {
	t, err := c.session(ctx)
	if err != nil {
		return err
	}
	if _, err := c.api.DeleteUser(ctx, &cip.DeleteUserInput{AccessToken: aws.String(t.accessToken)}); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	c.install(nil, nil)
	c.hub.Publish(cognito.HubPayload{EventName: cognito.EventNameUserDeleted})
	return nil
}

// session returns the current tokens, refreshing them when they are about to
// expire. A rejected refresh token ends the session.
func (c *Client) session(ctx context.Context) (tokens, error) {
	c.mu.Lock()
	t := c.tokens
	c.mu.Unlock()
	if t == nil {
		return tokens{}, cognito.ErrNotSignedIn
	}
	if c.now().Add(refreshMargin).Before(t.expiry) {
		return *t, nil
	}
	if t.refreshToken == "" {
		c.expire(t)
		return tokens{}, cognito.ErrNotSignedIn
	}

	out, err := c.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeRefreshTokenAuth,
		ClientId:       aws.String(c.cfg.ClientID),
		AuthParameters: map[string]string{"REFRESH_TOKEN": t.refreshToken},
	})
	if err != nil {
		var na *types.NotAuthorizedException
		if errors.As(err, &na) {
			c.logger.Warn("refresh token rejected", "error", na.ErrorMessage())
			c.expire(t)
			return tokens{}, cognito.ErrNotSignedIn
		}
		return tokens{}, fmt.Errorf("refresh tokens: %w", err)
	}
	if out.AuthenticationResult == nil {
		return tokens{}, errors.New("refresh tokens: no authentication result")
	}
	next := fromAuthResult(out.AuthenticationResult, c.now())
	if next.refreshToken == "" {
		next.refreshToken = t.refreshToken
	}
	if !c.install(t, next) {
		// Signed out or replaced while refreshing.
		return tokens{}, cognito.ErrNotSignedIn
	}
	c.logger.Debug("refreshed user pool tokens", "expiry", next.expiry)
	return *next, nil
}

func (c *Client) expire(t *tokens) {
	if c.install(t, nil) {
		c.hub.Publish(cognito.HubPayload{EventName: cognito.EventNameSessionExpired})
	}
}

// install replaces the tokens when they are still prev; a nil prev replaces
// unconditionally.
func (c *Client) install(prev, next *tokens) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev != nil && c.tokens != prev {
		return false
	}
	c.tokens = next
	return true
}

func fromAuthResult(r *types.AuthenticationResultType, now time.Time) *tokens {
	return &tokens{
		idToken:      aws.ToString(r.IdToken),
		accessToken:  aws.ToString(r.AccessToken),
		refreshToken: aws.ToString(r.RefreshToken),
		expiry:       now.Add(time.Duration(r.ExpiresIn) * time.Second),
	}
}

func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("hosted ui: failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

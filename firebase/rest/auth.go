// Package rest implements firebase.Auth against the Identity Toolkit REST API.
//
// The signed-in account and its tokens are kept in memory only.
package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/panyam/authkit/firebase"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	apikey "google.golang.org/api/googleapi/transport"
	identitytoolkitv2 "google.golang.org/api/identitytoolkit/v2"
	identitytoolkit "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"
)

// Out-of-band request types.
const (
	requestPasswordReset = "PASSWORD_RESET"
	requestVerifyEmail   = "VERIFY_EMAIL"
	requestEmailSignIn   = "EMAIL_SIGNIN"
)

// refreshMargin is how long before expiry a cached ID token is refreshed.
const refreshMargin = 5 * time.Minute

type session struct {
	rec          *firebase.UserRecord
	idToken      string
	refreshToken string
	expiry       time.Time
}

// Auth talks to Identity Toolkit on behalf of a single signed-in account.
type Auth struct {
	relyingParty *identitytoolkit.RelyingpartyService
	accounts     *identitytoolkitv2.AccountsService
	tokens       oauth2.Config
	httpClient   *http.Client
	requestURI   string
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.Mutex
	session *session

	listeners firebase.StateListeners
}

var _ firebase.Auth = (*Auth)(nil)

type Option func(*Auth)

// WithHTTPClient sets the client used for every API call. The API key is
// still attached to each request.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Auth) {
		a.httpClient = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Auth) {
		a.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Auth) {
		a.now = now
	}
}

func New(ctx context.Context, cfg Config, opts ...Option) (*Auth, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("firebase api key is required")
	}
	a := &Auth{
		requestURI: cfg.RequestURI,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.requestURI == "" {
		a.requestURI = "http://localhost"
	}

	var clientOpts []option.ClientOption
	if a.httpClient != nil {
		base := a.httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		keyed := *a.httpClient
		keyed.Transport = &apikey.APIKey{Key: cfg.APIKey, Transport: base}
		clientOpts = append(clientOpts, option.WithHTTPClient(&keyed))
	} else {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}

	v3opts := clientOpts
	if cfg.Endpoint != "" {
		v3opts = append(v3opts[:len(v3opts):len(v3opts)], option.WithEndpoint(cfg.Endpoint))
	}
	v3, err := identitytoolkit.NewService(ctx, v3opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity toolkit client: %w", err)
	}

	v2opts := clientOpts
	if cfg.RevokeEndpoint != "" {
		v2opts = append(v2opts[:len(v2opts):len(v2opts)], option.WithEndpoint(cfg.RevokeEndpoint))
	}
	v2, err := identitytoolkitv2.NewService(ctx, v2opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity toolkit v2 client: %w", err)
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = "https://securetoken.googleapis.com/v1/token"
	}
	a.relyingParty = v3.Relyingparty
	a.accounts = v2.Accounts
	a.tokens = oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL + "?key=" + url.QueryEscape(cfg.APIKey),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return a, nil
}

// backendError converts an Identity Toolkit error into a *firebase.Error.
// Messages look like "WEAK_PASSWORD : Password should be at least 6 characters".
func backendError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("identity toolkit: %w", err)
	}
	code, detail, _ := strings.Cut(gerr.Message, ":")
	code = strings.TrimSpace(code)
	switch code {
	case "FEDERATED_USER_ID_ALREADY_LINKED":
		code = firebase.CodeCredentialInUse
	case "INVALID_ID_TOKEN":
		code = firebase.CodeTokenExpired
	case "":
		code = http.StatusText(gerr.Code)
	}
	return firebase.NewError(code, strings.TrimSpace(detail))
}

func tokenExpiry(idToken string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func toRecord(u *identitytoolkit.UserInfo) *firebase.UserRecord {
	rec := &firebase.UserRecord{
		UID:           u.LocalId,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		EmailVerified: u.EmailVerified,
		IsAnonymous:   u.Email == "" && len(u.ProviderUserInfo) == 0,
	}
	if u.CreatedAt > 0 {
		rec.CreatedAt = time.UnixMilli(u.CreatedAt)
	}
	for _, p := range u.ProviderUserInfo {
		rec.ProviderData = append(rec.ProviderData, firebase.ProviderInfo{
			ProviderID: p.ProviderId,
			UID:        p.RawId,
			Email:      p.Email,
		})
	}
	return rec
}

// grant is the outcome of a call that issues tokens.
type grant struct {
	localID      string
	idToken      string
	refreshToken string
	providerID   string
	isNew        bool
}

func (a *Auth) lookup(ctx context.Context, idToken string) (*firebase.UserRecord, error) {
	resp, err := a.relyingParty.GetAccountInfo(&identitytoolkit.IdentitytoolkitRelyingpartyGetAccountInfoRequest{
		IdToken: idToken,
	}).Context(ctx).Do()
	if err != nil {
		return nil, backendError(err)
	}
	if len(resp.Users) == 0 {
		return nil, firebase.NewError(firebase.CodeUserNotFound, "account lookup returned no users")
	}
	return toRecord(resp.Users[0]), nil
}

func (a *Auth) establish(ctx context.Context, g *grant) (*session, error) {
	rec, err := a.lookup(ctx, g.idToken)
	if err != nil {
		return nil, err
	}
	return &session{
		rec:          rec,
		idToken:      g.idToken,
		refreshToken: g.refreshToken,
		expiry:       tokenExpiry(g.idToken),
	}, nil
}

// install replaces the session and notifies listeners if the signed-in
// account changed.
func (a *Auth) install(s *session) {
	a.mu.Lock()
	prev := a.session
	a.session = s
	a.mu.Unlock()

	var prevUID, nextUID string
	if prev != nil {
		prevUID = prev.rec.UID
	}
	if s != nil {
		nextUID = s.rec.UID
	}
	if prevUID == nextUID {
		return
	}
	if s == nil {
		a.listeners.Notify(nil)
	} else {
		a.listeners.Notify(s.rec)
	}
}

// expire ends the session after its refresh token was rejected, unless it
// has been replaced since s was read.
func (a *Auth) expire(s *session) {
	a.mu.Lock()
	cur := a.session
	stale := cur != nil && cur.rec.UID == s.rec.UID && cur.refreshToken == s.refreshToken
	if stale {
		a.session = nil
	}
	a.mu.Unlock()
	if !stale {
		return
	}
	a.logger.Warn("refresh token rejected, session ended", "uid", s.rec.UID)
	a.listeners.Notify(nil)
}

func (a *Auth) signedIn(ctx context.Context, g *grant) (*firebase.AuthDataResult, error) {
	s, err := a.establish(ctx, g)
	if err != nil {
		return nil, err
	}
	a.install(s)
	return &firebase.AuthDataResult{
		User:               firebase.CopyRecord(s.rec),
		AdditionalUserInfo: &firebase.AdditionalUserInfo{ProviderID: g.providerID, IsNewUser: g.isNew},
	}, nil
}

func assertionBody(cred firebase.Credential) string {
	v := url.Values{}
	v.Set("providerId", cred.ProviderID())
	switch c := cred.(type) {
	case firebase.GoogleCredential:
		v.Set("id_token", c.IDToken)
		if c.AccessToken != "" {
			v.Set("access_token", c.AccessToken)
		}
	case firebase.OAuthCredential:
		v.Set("id_token", c.IDToken)
		if c.RawNonce != "" {
			v.Set("nonce", c.RawNonce)
		}
		if c.AccessToken != "" {
			v.Set("access_token", c.AccessToken)
		}
	}
	return v.Encode()
}

// exchange trades cred for tokens. A non-empty idToken links cred to that
// account instead of signing in.
func (a *Auth) exchange(ctx context.Context, cred firebase.Credential, idToken string) (*grant, error) {
	switch c := cred.(type) {
	case firebase.EmailPasswordCredential:
		if idToken != "" {
			resp, err := a.relyingParty.SetAccountInfo(&identitytoolkit.IdentitytoolkitRelyingpartySetAccountInfoRequest{
				IdToken:           idToken,
				Email:             c.Email,
				Password:          c.Password,
				ReturnSecureToken: true,
			}).Context(ctx).Do()
			if err != nil {
				return nil, backendError(err)
			}
			return &grant{localID: resp.LocalId, idToken: resp.IdToken, refreshToken: resp.RefreshToken, providerID: firebase.ProviderIDPassword}, nil
		}
		resp, err := a.relyingParty.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
			Email:             c.Email,
			Password:          c.Password,
			ReturnSecureToken: true,
		}).Context(ctx).Do()
		if err != nil {
			return nil, backendError(err)
		}
		return &grant{localID: resp.LocalId, idToken: resp.IdToken, refreshToken: resp.RefreshToken, providerID: firebase.ProviderIDPassword}, nil

	case firebase.EmailLinkCredential:
		resp, err := a.relyingParty.EmailLinkSignin(&identitytoolkit.IdentitytoolkitRelyingpartyEmailLinkSigninRequest{
			Email:   c.Email,
			OobCode: firebase.OOBCode(c.Link),
			IdToken: idToken,
		}).Context(ctx).Do()
		if err != nil {
			return nil, backendError(err)
		}
		return &grant{localID: resp.LocalId, idToken: resp.IdToken, refreshToken: resp.RefreshToken, providerID: firebase.ProviderIDPassword, isNew: resp.IsNewUser}, nil

	case firebase.GoogleCredential, firebase.OAuthCredential:
		resp, err := a.relyingParty.VerifyAssertion(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyAssertionRequest{
			PostBody:          assertionBody(cred),
			RequestUri:        a.requestURI,
			IdToken:           idToken,
			ReturnSecureToken: true,
		}).Context(ctx).Do()
		if err != nil {
			return nil, backendError(err)
		}
		return &grant{localID: resp.LocalId, idToken: resp.IdToken, refreshToken: resp.RefreshToken, providerID: cred.ProviderID(), isNew: resp.IsNewUser}, nil
	}
	return nil, firebase.NewError(firebase.CodeOperationNotAllowed, fmt.Sprintf("unsupported credential %T", cred))
}

func (a *Auth) current() (*session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil, firebase.NewError(firebase.CodeNoCurrentUser, "no user is signed in")
	}
	s := *a.session
	return &s, nil
}

func (a *Auth) CurrentUser() *firebase.UserRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil
	}
	return firebase.CopyRecord(a.session.rec)
}

func (a *Auth) AddStateDidChangeListener(fn func(*firebase.UserRecord)) func() {
	return a.listeners.Add(fn)
}

func (a *Auth) SignInAnonymously(ctx context.Context) (*firebase.AuthDataResult, error) {
	resp, err := a.relyingParty.SignupNewUser(&identitytoolkit.IdentitytoolkitRelyingpartySignupNewUserRequest{}).Context(ctx).Do()
	if err != nil {
		return nil, backendError(err)
	}
	return a.signedIn(ctx, &grant{localID: resp.LocalId, idToken: resp.IdToken, refreshToken: resp.RefreshToken, isNew: true})
}

func (a *Auth) SignIn(ctx context.Context, cred firebase.Credential) (*firebase.AuthDataResult, error) {
	g, err := a.exchange(ctx, cred, "")
	if err != nil {
		return nil, err
	}
	return a.signedIn(ctx, g)
}

func (a *Auth) CreateUser(ctx context.Context, email, password string) (*firebase.AuthDataResult, error) {
	resp, err := a.relyingParty.SignupNewUser(&identitytoolkit.IdentitytoolkitRelyingpartySignupNewUserRequest{
		Email:    email,
		Password: password,
	}).Context(ctx).Do()
	if err != nil {
		return nil, backendError(err)
	}
	return a.signedIn(ctx, &grant{
		localID:      resp.LocalId,
		idToken:      resp.IdToken,
		refreshToken: resp.RefreshToken,
		providerID:   firebase.ProviderIDPassword,
		isNew:        true,
	})
}

func (a *Auth) sendOOB(ctx context.Context, req *identitytoolkit.Relyingparty) error {
	if _, err := a.relyingParty.GetOobConfirmationCode(req).Context(ctx).Do(); err != nil {
		return backendError(err)
	}
	return nil
}

func (a *Auth) SendPasswordReset(ctx context.Context, email string) error {
	return a.sendOOB(ctx, &identitytoolkit.Relyingparty{RequestType: requestPasswordReset, Email: email})
}

func (a *Auth) SendSignInLink(ctx context.Context, email string, settings firebase.ActionCodeSettings) error {
	return a.sendOOB(ctx, &identitytoolkit.Relyingparty{
		RequestType:        requestEmailSignIn,
		Email:              email,
		ContinueUrl:        settings.URL,
		CanHandleCodeInApp: settings.HandleCodeInApp,
	})
}

// SignOut forgets the local session. Refresh tokens stay valid on the backend.
func (a *Auth) SignOut(ctx context.Context) error {
	a.install(nil)
	return nil
}

// RevokeToken asks the backend to revoke the Apple token identified by an
// authorization code.
func (a *Auth) RevokeToken(ctx context.Context, authorizationCode string) error {
	idToken, err := a.IDToken(ctx, false)
	if err != nil {
		return err
	}
	_, err = a.accounts.RevokeToken(&identitytoolkitv2.GoogleCloudIdentitytoolkitV2RevokeTokenRequest{
		IdToken:    idToken,
		ProviderId: firebase.ProviderIDApple,
		Token:      authorizationCode,
		TokenType:  "CODE",
	}).Context(ctx).Do()
	if err != nil {
		return backendError(err)
	}
	return nil
}

// IDToken returns the cached ID token, refreshing it through the secure
// token endpoint when forceRefresh is set or it is about to expire.
func (a *Auth) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	s, err := a.current()
	if err != nil {
		return "", err
	}
	if !forceRefresh && s.idToken != "" && a.now().Add(refreshMargin).Before(s.expiry) {
		return s.idToken, nil
	}

	if a.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	}
	tok, err := a.tokens.TokenSource(ctx, &oauth2.Token{RefreshToken: s.refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			if re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
				a.expire(s)
			}
			return "", firebase.NewError(firebase.CodeTokenExpired, re.ErrorCode)
		}
		return "", fmt.Errorf("refresh id token: %w", err)
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		idToken = tok.AccessToken
	}

	a.mu.Lock()
	if a.session != nil && a.session.rec.UID == s.rec.UID {
		a.session.idToken = idToken
		a.session.expiry = tokenExpiry(idToken)
		if tok.RefreshToken != "" {
			a.session.refreshToken = tok.RefreshToken
		}
	}
	a.mu.Unlock()
	a.logger.Debug("refreshed firebase id token", "uid", s.rec.UID)
	return idToken, nil
}

func (a *Auth) SendEmailVerification(ctx context.Context) error {
	idToken, err := a.IDToken(ctx, false)
	if err != nil {
		return err
	}
	return a.sendOOB(ctx, &identitytoolkit.Relyingparty{RequestType: requestVerifyEmail, IdToken: idToken})
}

func (a *Auth) Link(ctx context.Context, cred firebase.Credential) (*firebase.AuthDataResult, error) {
	idToken, err := a.IDToken(ctx, false)
	if err != nil {
		return nil, err
	}
	g, err := a.exchange(ctx, cred, idToken)
	if err != nil {
		return nil, err
	}
	if g.idToken == "" {
		g.idToken = idToken
	}
	if g.refreshToken == "" {
		if s, err := a.current(); err == nil {
			g.refreshToken = s.refreshToken
		}
	}
	g.isNew = false
	return a.signedIn(ctx, g)
}

func (a *Auth) Unlink(ctx context.Context, providerID string) (*firebase.UserRecord, error) {
	idToken, err := a.IDToken(ctx, false)
	if err != nil {
		return nil, err
	}
	_, err = a.relyingParty.SetAccountInfo(&identitytoolkit.IdentitytoolkitRelyingpartySetAccountInfoRequest{
		IdToken:        idToken,
		DeleteProvider: []string{providerID},
	}).Context(ctx).Do()
	if err != nil {
		return nil, backendError(err)
	}
	rec, err := a.lookup(ctx, idToken)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.session != nil && a.session.rec.UID == rec.UID {
		a.session.rec = rec
	}
	a.mu.Unlock()
	return firebase.CopyRecord(rec), nil
}

// Reauthenticate signs in with cred again and requires it to identify the
// current account. The session's tokens are replaced with fresh ones.
func (a *Auth) Reauthenticate(ctx context.Context, cred firebase.Credential) (*firebase.AuthDataResult, error) {
	s, err := a.current()
	if err != nil {
		return nil, err
	}
	g, err := a.exchange(ctx, cred, "")
	if err != nil {
		return nil, err
	}
	if g.localID != s.rec.UID {
		return nil, firebase.NewError(firebase.CodeUserMismatch, "credential belongs to a different user")
	}
	g.isNew = false
	return a.signedIn(ctx, g)
}

func (a *Auth) Delete(ctx context.Context) error {
	idToken, err := a.IDToken(ctx, false)
	if err != nil {
		return err
	}
	_, err = a.relyingParty.DeleteAccount(&identitytoolkit.IdentitytoolkitRelyingpartyDeleteAccountRequest{
		IdToken: idToken,
	}).Context(ctx).Do()
	if err != nil {
		return backendError(err)
	}
	a.install(nil)
	return nil
}

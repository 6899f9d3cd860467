package firebase

import (
	"context"
	"log/slog"
	"sync"

	"github.com/panyam/authkit"
	"github.com/panyam/authkit/apple"
	"github.com/panyam/authkit/google"
)

// Service implements authkit.Authenticating on top of an Auth SDK.
type Service struct {
	auth   Auth
	bridge *authkit.Bridge
	flows  authkit.FlowGate
	logger *slog.Logger

	apple  *apple.Provider
	google *google.Provider
	views  authkit.ViewResolver

	implicitRegistration bool

	removeListener func()
	closeOnce      sync.Once
}

var _ authkit.Authenticating = (*Service)(nil)

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithApple enables Sign in with Apple and Apple token revocation.
func WithApple(p *apple.Provider) Option {
	return func(s *Service) {
		s.apple = p
	}
}

// WithGoogle enables Google sign-in.
func WithGoogle(p *google.Provider) Option {
	return func(s *Service) {
		s.google = p
	}
}

// WithViewResolver sets how a presenting view is found when callers pass nil.
func WithViewResolver(r authkit.ViewResolver) Option {
	return func(s *Service) {
		s.views = r
	}
}

// WithImplicitRegistration makes an email/password sign-in for an unknown
// account create that account instead of failing.
func WithImplicitRegistration() Option {
	return func(s *Service) {
		s.implicitRegistration = true
	}
}

// New creates a Service and starts listening to auth's state changes.
// Call Close to stop listening.
func New(auth Auth, opts ...Option) *Service {
	s := &Service{auth: auth, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.bridge = authkit.NewBridge(s.logger)
	s.bridge.Set(asAuthUser(auth.CurrentUser()))
	s.removeListener = auth.AddStateDidChangeListener(s.onStateChange)
	return s
}

// Close detaches the Service from the SDK. Listeners keep the last snapshot.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		if s.removeListener != nil {
			s.removeListener()
		}
	})
	return nil
}

func (s *Service) onStateChange(rec *UserRecord) {
	if rec == nil {
		s.bridge.Dispatch(context.Background(), authkit.EventSignedOut, nil)
		return
	}
	s.bridge.Set(NewUser(rec))
}

func (s *Service) CurrentUser() authkit.User {
	return s.bridge.Current()
}

func (s *Service) AddUserDidChangeListener(fn func(authkit.User)) func() {
	return s.bridge.Subscribe(fn)
}

func (s *Service) UserIDToken(ctx context.Context) (string, error) {
	if s.auth.CurrentUser() == nil {
		return "", authkit.NewAuthError(authkit.ErrCodeTokenUnavailable, "no signed-in user")
	}
	token, err := s.auth.IDToken(ctx, false)
	if err != nil {
		return "", classify(err, authkit.ErrCodeTokenUnavailable)
	}
	if token == "" {
		return "", authkit.NewAuthError(authkit.ErrCodeTokenUnavailable, "backend returned an empty token")
	}
	return token, nil
}

func (s *Service) SignIn(ctx context.Context, provider authkit.BasicSignInProvider) (*authkit.AuthResult, error) {
	var res *AuthDataResult
	var err error
	switch p := provider.(type) {
	case authkit.Anonymous:
		res, err = s.auth.SignInAnonymously(ctx)
	case authkit.EmailAndPassword:
		res, err = s.auth.SignIn(ctx, EmailPasswordCredential{Email: p.Email, Password: p.Password})
		if err != nil && isUserNotFound(err) && s.implicitRegistration {
			return s.registerAfterUserNotFound(ctx, p.Email, p.Password)
		}
	case authkit.EmailLink:
		res, err = s.auth.SignIn(ctx, EmailLinkCredential{Email: p.Email, Link: p.Link})
	default:
		return nil, authkit.Errorf(authkit.ErrCodeUnsupportedProvider, "unsupported sign-in provider %T", provider)
	}
	if err != nil {
		return nil, s.fail("sign in", classify(err, authkit.ErrCodeExchangeFailed))
	}
	return s.commit(res, nil)
}

// registerAfterUserNotFound creates the account a sign-in could not find.
func (s *Service) registerAfterUserNotFound(ctx context.Context, email, password string) (*authkit.AuthResult, error) {
	s.logger.Info("no account for email, registering", "email", email)
	res, err := s.auth.CreateUser(ctx, email, password)
	if err != nil {
		return nil, s.fail("implicit registration", classify(err, authkit.ErrCodeExchangeFailed))
	}
	return s.commit(res, nil)
}

// SignInOAuth runs the native flow and signs in with its credential. When
// flows overlap, only the most recently started one reaches the backend.
func (s *Service) SignInOAuth(ctx context.Context, provider authkit.OAuthSignInProvider, view authkit.PresentingView) (*authkit.AuthResult, error) {
	view, err := authkit.ResolveView(view, s.views)
	if err != nil {
		return nil, err
	}
	ticket := s.flows.Begin()
	cred, info, err := s.nativeCredential(ctx, provider, view)
	if err != nil {
		return nil, s.fail("oauth sign in", err)
	}

	var result *authkit.AuthResult
	err = ticket.Exchange(func() error {
		res, err := s.auth.SignIn(ctx, cred)
		if err != nil {
			return classify(err, authkit.ErrCodeExchangeFailed)
		}
		result, err = s.commit(res, info)
		return err
	})
	if err != nil {
		return nil, s.fail("oauth sign in", err)
	}
	return result, nil
}

func (s *Service) nativeCredential(ctx context.Context, provider authkit.OAuthSignInProvider, view authkit.PresentingView) (Credential, authkit.ProviderLoginInfo, error) {
	switch provider {
	case authkit.OAuthGoogle:
		if s.google == nil {
			return nil, nil, authkit.NewAuthError(authkit.ErrCodeUnsupportedProvider, "google sign-in is not configured")
		}
		gc, err := s.google.Credential(ctx, view)
		if err != nil {
			return nil, nil, err
		}
		return GoogleCredential{IDToken: gc.IDToken, AccessToken: gc.AccessToken}, authkit.GoogleLoginInfo{Profile: gc.Profile}, nil
	case authkit.OAuthApple:
		if s.apple == nil {
			return nil, nil, authkit.NewAuthError(authkit.ErrCodeUnsupportedProvider, "sign in with apple is not configured")
		}
		ac, auth, err := s.apple.Authorize(ctx, view)
		if err != nil {
			return nil, nil, err
		}
		cred := OAuthCredential{Provider: ProviderIDApple, IDToken: ac.IDToken, RawNonce: ac.Nonce}
		return cred, authkit.AppleLoginInfo{Authorization: auth}, nil
	}
	return nil, nil, authkit.Errorf(authkit.ErrCodeUnsupportedProvider, "unsupported oauth provider %v", provider)
}

// SignOut clears the local session first; a backend failure is still
// reported as sign_out_failed.
func (s *Service) SignOut(ctx context.Context) error {
	s.bridge.Clear()
	if err := s.auth.SignOut(ctx); err != nil {
		return s.fail("sign out", authkit.Errorf(authkit.ErrCodeSignOutFailed, "%v", err))
	}
	s.logger.Info("signed out")
	return nil
}

func (s *Service) CreateUser(ctx context.Context, email, password string) (*authkit.AuthResult, error) {
	res, err := s.auth.CreateUser(ctx, email, password)
	if err != nil {
		return nil, s.fail("create user", classify(err, authkit.ErrCodeRequestFailed))
	}
	return s.commit(res, nil)
}

func (s *Service) ResetPassword(ctx context.Context, email string) error {
	if err := s.auth.SendPasswordReset(ctx, email); err != nil {
		return s.fail("reset password", classify(err, authkit.ErrCodeRequestFailed))
	}
	return nil
}

// SendSignInLink mails a sign-in link for use with authkit.EmailLink.
func (s *Service) SendSignInLink(ctx context.Context, email string, settings ActionCodeSettings) error {
	if err := s.auth.SendSignInLink(ctx, email, settings); err != nil {
		return s.fail("send sign-in link", classify(err, authkit.ErrCodeRequestFailed))
	}
	return nil
}

func (s *Service) SendEmailVerification(ctx context.Context) error {
	if s.auth.CurrentUser() == nil {
		return authkit.ErrNoCurrentUser
	}
	if err := s.auth.SendEmailVerification(ctx); err != nil {
		return s.fail("send email verification", classify(err, authkit.ErrCodeRequestFailed))
	}
	return nil
}

// Unlink accepts canonical provider identifiers as well as backend ones.
// It does not refuse to remove the last provider; see authkit.CanUnlink.
func (s *Service) Unlink(ctx context.Context, providerID string) (authkit.User, error) {
	if s.auth.CurrentUser() == nil {
		return nil, authkit.ErrNoCurrentUser
	}
	rec, err := s.auth.Unlink(ctx, backendProviderID(providerID))
	if err != nil {
		return nil, s.fail("unlink", classify(err, authkit.ErrCodeRequestFailed))
	}
	if rec == nil {
		return nil, authkit.NewAuthError(authkit.ErrCodeRequestFailed, "backend returned no user")
	}
	u := NewUser(rec)
	s.bridge.Set(u)
	return u, nil
}

func (s *Service) Link(ctx context.Context, method authkit.LinkMethod) (*authkit.AuthResult, error) {
	if s.auth.CurrentUser() == nil {
		return nil, authkit.ErrNoCurrentUser
	}
	cred, err := linkCredential(method)
	if err != nil {
		return nil, err
	}
	res, err := s.auth.Link(ctx, cred)
	if err != nil {
		return nil, s.fail("link", classify(err, authkit.ErrCodeExchangeFailed))
	}
	return s.commit(res, nil)
}

// LinkOAuth runs the native flow for provider and links the resulting
// credential to the current user.
func (s *Service) LinkOAuth(ctx context.Context, provider authkit.OAuthSignInProvider, view authkit.PresentingView) (*authkit.AuthResult, error) {
	if s.auth.CurrentUser() == nil {
		return nil, authkit.ErrNoCurrentUser
	}
	view, err := authkit.ResolveView(view, s.views)
	if err != nil {
		return nil, err
	}
	cred, info, err := s.nativeCredential(ctx, provider, view)
	if err != nil {
		return nil, s.fail("oauth link", err)
	}
	res, err := s.auth.Link(ctx, cred)
	if err != nil {
		return nil, s.fail("oauth link", classify(err, authkit.ErrCodeExchangeFailed))
	}
	return s.commit(res, info)
}

func linkCredential(method authkit.LinkMethod) (Credential, error) {
	switch m := method.(type) {
	case authkit.LinkWithEmailPassword:
		return EmailPasswordCredential{Email: m.Email, Password: m.Password}, nil
	case authkit.LinkWithEmailLink:
		return EmailLinkCredential{Email: m.Email, Link: m.Link}, nil
	case authkit.LinkWithGoogle:
		return GoogleCredential{IDToken: m.IDToken, AccessToken: m.AccessToken}, nil
	case authkit.LinkWithApple:
		return OAuthCredential{Provider: ProviderIDApple, IDToken: m.IDToken, RawNonce: m.Nonce}, nil
	}
	return nil, authkit.Errorf(authkit.ErrCodeUnsupportedProvider, "unsupported link method %T", method)
}

// DeleteUser deletes the current account. Accounts with an Apple link have
// their Apple token revoked first, which needs a presenting view from the
// ViewResolver; the account is kept if revocation fails.
func (s *Service) DeleteUser(ctx context.Context) error {
	rec := s.auth.CurrentUser()
	if rec == nil {
		return authkit.ErrNoCurrentUser
	}
	if authkit.IsLinked(NewUser(rec), authkit.ProviderApple) {
		if err := s.RevokeAppleToken(ctx, nil); err != nil {
			return err
		}
	}
	if err := s.auth.Delete(ctx); err != nil {
		return s.fail("delete user", classify(err, authkit.ErrCodeRequestFailed))
	}
	<-s.bridge.Dispatch(ctx, authkit.EventUserDeleted, nil)
	s.logger.Info("deleted user", "uid", rec.UID)
	return nil
}

func (s *Service) Reauthenticate(ctx context.Context, provider authkit.BasicSignInProvider) (*authkit.AuthResult, error) {
	if s.auth.CurrentUser() == nil {
		return nil, authkit.ErrNoCurrentUser
	}
	var cred Credential
	switch p := provider.(type) {
	case authkit.EmailAndPassword:
		cred = EmailPasswordCredential{Email: p.Email, Password: p.Password}
	case authkit.EmailLink:
		cred = EmailLinkCredential{Email: p.Email, Link: p.Link}
	default:
		return nil, authkit.Errorf(authkit.ErrCodeUnsupportedProvider, "cannot reauthenticate with %T", provider)
	}
	res, err := s.auth.Reauthenticate(ctx, cred)
	if err != nil {
		return nil, s.fail("reauthenticate", classify(err, authkit.ErrCodeExchangeFailed))
	}
	return s.commit(res, nil)
}

func (s *Service) ReauthenticateOAuth(ctx context.Context, provider authkit.OAuthSignInProvider, view authkit.PresentingView) (*authkit.AuthResult, error) {
	if s.auth.CurrentUser() == nil {
		return nil, authkit.ErrNoCurrentUser
	}
	view, err := authkit.ResolveView(view, s.views)
	if err != nil {
		return nil, err
	}
	cred, info, err := s.nativeCredential(ctx, provider, view)
	if err != nil {
		return nil, s.fail("oauth reauthenticate", err)
	}
	res, err := s.auth.Reauthenticate(ctx, cred)
	if err != nil {
		return nil, s.fail("oauth reauthenticate", classify(err, authkit.ErrCodeExchangeFailed))
	}
	return s.commit(res, info)
}

// RevokeAppleToken runs a fresh Apple flow and has the backend revoke the
// token its authorization code refers to.
func (s *Service) RevokeAppleToken(ctx context.Context, view authkit.PresentingView) error {
	if s.apple == nil {
		return authkit.NewAuthError(authkit.ErrCodeRevocationFailed, "sign in with apple is not configured")
	}
	view, err := authkit.ResolveView(view, s.views)
	if err != nil {
		return err
	}
	code, err := s.apple.RevocationCode(ctx, view)
	if err != nil {
		if authkit.IsCancelled(err) {
			return s.fail("revoke apple token", err)
		}
		return s.fail("revoke apple token", authkit.Errorf(authkit.ErrCodeRevocationFailed, "%v", err))
	}
	if err := s.auth.RevokeToken(ctx, code); err != nil {
		return s.fail("revoke apple token", classify(err, authkit.ErrCodeRevocationFailed))
	}
	return nil
}

func (s *Service) commit(res *AuthDataResult, info authkit.ProviderLoginInfo) (*authkit.AuthResult, error) {
	if res == nil || res.User == nil || res.User.UID == "" {
		return nil, authkit.NewAuthError(authkit.ErrCodeExchangeFailed, "backend returned no user")
	}
	u := NewUser(res.User)
	s.bridge.Set(u)
	s.logger.Info("auth result committed", "uid", u.UserID(), "anonymous", u.IsAnonymous())
	return &authkit.AuthResult{User: u, AdditionalInfo: info}, nil
}

func (s *Service) fail(op string, err error) error {
	if authkit.IsCancelled(err) {
		s.logger.Debug("auth flow cancelled", "op", op, "reason", err)
	} else {
		s.logger.Error("auth operation failed", "op", op, "error", err)
	}
	return err
}

package cognito

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/panyam/authkit"
	"golang.org/x/sync/errgroup"
)

// Service implements authkit.Authenticating on top of a Client and its Hub.
type Service struct {
	client Client
	bridge *authkit.Bridge
	flows  authkit.FlowGate
	logger *slog.Logger
	views  authkit.ViewResolver

	implicitRegistration bool

	// ctx scopes user fetches started by hub events.
	ctx            context.Context
	cancel         context.CancelFunc
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

func WithViewResolver(r authkit.ViewResolver) Option {
	return func(s *Service) {
		s.views = r
	}
}

// WithImplicitRegistration controls whether an email/password sign-in for an
// unknown user signs that user up. It is enabled by default.
func WithImplicitRegistration(enabled bool) Option {
	return func(s *Service) {
		s.implicitRegistration = enabled
	}
}

// New creates a Service listening on hub and starts loading the current user.
// Call Close to stop listening.
func New(client Client, hub Hub, opts ...Option) *Service {
	s := &Service{
		client:               client,
		logger:               slog.Default(),
		implicitRegistration: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.bridge = authkit.NewBridge(s.logger)
	s.removeListener = hub.Listen(s.onHubEvent)
	s.Refresh(s.ctx)
	return s
}

// Close stops listening to the hub and abandons in-flight fetches.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.removeListener()
		s.cancel()
	})
	return nil
}

// Refresh reloads the current user from the backend. The returned channel
// is closed once the result was committed or superseded.
func (s *Service) Refresh(ctx context.Context) <-chan struct{} {
	return s.bridge.Dispatch(ctx, authkit.EventSignedIn, s.fetchUser)
}

func (s *Service) onHubEvent(p HubPayload) {
	ev, refetch, ok := translate(p.EventName)
	if !ok {
		return
	}
	s.logger.Debug("auth hub event", "event", p.EventName)
	var fetch authkit.UserFetcher
	if refetch {
		fetch = s.fetchUser
	}
	s.bridge.Dispatch(s.ctx, ev, fetch)
}

// fetchUser loads attributes and the pool user concurrently and merges them.
func (s *Service) fetchUser(ctx context.Context) (authkit.User, error) {
	var attrs []Attribute
	var current *CurrentUser
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		attrs, err = s.client.FetchUserAttributes(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		current, err = s.client.GetCurrentUser(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	u := NewUser(attrs, current)
	if u.UserID() == "" {
		return nil, errors.New("cognito: user has no identifier")
	}
	return u, nil
}

func (s *Service) CurrentUser() authkit.User {
	return s.bridge.Current()
}

func (s *Service) AddUserDidChangeListener(fn func(authkit.User)) func() {
	return s.bridge.Subscribe(fn)
}

func (s *Service) UserIDToken(ctx context.Context) (string, error) {
	sess, err := s.client.FetchAuthSession(ctx)
	if err != nil {
		return "", authkit.Errorf(authkit.ErrCodeTokenUnavailable, "%v", err)
	}
	if sess == nil || !sess.IsSignedIn || sess.IDToken == "" {
		return "", authkit.NewAuthError(authkit.ErrCodeTokenUnavailable, "no signed-in session")
	}
	return sess.IDToken, nil
}

func (s *Service) SignIn(ctx context.Context, provider authkit.BasicSignInProvider) (*authkit.AuthResult, error) {
	p, ok := provider.(authkit.EmailAndPassword)
	if !ok {
		return nil, authkit.Errorf(authkit.ErrCodeUnsupportedProvider, "sign-in provider %T is not supported", provider)
	}
	res, err := s.client.SignIn(ctx, p.Email, p.Password)
	if err != nil {
		if isUserNotFound(err) && s.implicitRegistration {
			return s.registerAfterUserNotFound(ctx, p.Email, p.Password)
		}
		return nil, s.fail("sign in", classify(err, authkit.ErrCodeExchangeFailed))
	}
	if err := signedIn(res); err != nil {
		return nil, s.fail("sign in", err)
	}
	return s.commitFetched(ctx)
}

// registerAfterUserNotFound signs up the user a sign-in could not find.
func (s *Service) registerAfterUserNotFound(ctx context.Context, email, password string) (*authkit.AuthResult, error) {
	s.logger.Info("no account for email, registering", "email", email)
	res, err := s.signUpAndSignIn(ctx, email, password, authkit.ErrCodeExchangeFailed)
	if err != nil {
		return nil, s.fail("implicit registration", err)
	}
	return res, nil
}

func (s *Service) signUpAndSignIn(ctx context.Context, email, password string, fallback authkit.ErrorCode) (*authkit.AuthResult, error) {
	up, err := s.client.SignUp(ctx, email, password, []Attribute{{Key: AttributeEmail, Value: email}})
	if err != nil {
		return nil, classify(err, fallback)
	}
	if up == nil || !up.IsSignUpComplete {
		next := ""
		if up != nil {
			next = up.NextStep
		}
		return nil, authkit.Errorf(fallback, "sign-up is not complete (next step %q)", next)
	}
	res, err := s.client.SignIn(ctx, email, password)
	if err != nil {
		return nil, classify(err, authkit.ErrCodeExchangeFailed)
	}
	if err := signedIn(res); err != nil {
		return nil, err
	}
	return s.commitFetched(ctx)
}

func (s *Service) SignInOAuth(ctx context.Context, provider authkit.OAuthSignInProvider, view authkit.PresentingView) (*authkit.AuthResult, error) {
	return s.webUI(ctx, "oauth sign in", provider, view, nil)
}

// ReauthenticateOAuth runs the hosted UI again and requires it to return the
// current user. A grant for anyone else is discarded without being installed.
func (s *Service) ReauthenticateOAuth(ctx context.Context, provider authkit.OAuthSignInProvider, view authkit.PresentingView) (*authkit.AuthResult, error) {
	cur := s.bridge.Current()
	if cur == nil {
		return nil, authkit.ErrNoCurrentUser
	}
	return s.webUI(ctx, "oauth reauthenticate", provider, view, func(g *WebUIGrant) error {
		if g.UserID != cur.UserID() {
			return authkit.NewAuthError(authkit.ErrCodeExchangeFailed, "reauthenticated as a different user")
		}
		return nil
	})
}

// webUI authorizes through the hosted UI, then exchanges and installs the
// grant under the flow's ticket so a superseded flow never touches the
// session.
func (s *Service) webUI(ctx context.Context, op string, provider authkit.OAuthSignInProvider, view authkit.PresentingView, check func(*WebUIGrant) error) (*authkit.AuthResult, error) {
	wp, ok := webUIProvider(provider)
	if !ok {
		return nil, authkit.Errorf(authkit.ErrCodeUnsupportedProvider, "unsupported oauth provider %v", provider)
	}
	view, err := authkit.ResolveView(view, s.views)
	if err != nil {
		return nil, err
	}
	ticket := s.flows.Begin()
	authz, err := s.client.AuthorizeWebUI(ctx, wp, view)
	if err != nil {
		return nil, s.fail(op, classify(err, authkit.ErrCodeExchangeFailed))
	}

	var result *authkit.AuthResult
	err = ticket.Exchange(func() error {
		grant, err := s.client.ExchangeWebUI(ctx, authz)
		if err != nil {
			return classify(err, authkit.ErrCodeExchangeFailed)
		}
		if check != nil {
			if err := check(grant); err != nil {
				return err
			}
		}
		res, err := s.client.SignInWithGrant(ctx, grant)
		if err != nil {
			return classify(err, authkit.ErrCodeExchangeFailed)
		}
		if err := signedIn(res); err != nil {
			return err
		}
		u, err := s.fetchUser(ctx)
		if err != nil {
			return authkit.Errorf(authkit.ErrCodeExchangeFailed, "%v", err)
		}
		s.bridge.Set(u)
		result = &authkit.AuthResult{User: u}
		return nil
	})
	if err != nil {
		return nil, s.fail(op, err)
	}
	return result, nil
}

// SignOut clears the local session first. A partial sign-out is logged and
// treated as success; a failed one is reported as sign_out_failed.
func (s *Service) SignOut(ctx context.Context) error {
	res := s.client.SignOut(ctx)
	s.bridge.Clear()
	switch res.Status {
	case SignOutComplete:
		s.logger.Info("signed out")
		return nil
	case SignOutPartial:
		s.logger.Warn("partial sign out", "error", res.Err)
		return nil
	}
	return s.fail("sign out", authkit.Errorf(authkit.ErrCodeSignOutFailed, "%v", res.Err))
}

func (s *Service) CreateUser(ctx context.Context, email, password string) (*authkit.AuthResult, error) {
	res, err := s.signUpAndSignIn(ctx, email, password, authkit.ErrCodeRequestFailed)
	if err != nil {
		return nil, s.fail("create user", err)
	}
	return res, nil
}

func (s *Service) ResetPassword(ctx context.Context, email string) error {
	if err := s.client.ResetPassword(ctx, email); err != nil {
		return s.fail("reset password", classify(err, authkit.ErrCodeRequestFailed))
	}
	return nil
}

func (s *Service) SendEmailVerification(ctx context.Context) error {
	if s.bridge.Current() == nil {
		return authkit.ErrNoCurrentUser
	}
	if err := s.client.SendVerificationCode(ctx, AttributeEmail); err != nil {
		return s.fail("send email verification", classify(err, authkit.ErrCodeRequestFailed))
	}
	return nil
}

func (s *Service) Unlink(ctx context.Context, providerID string) (authkit.User, error) {
	return nil, authkit.NewAuthError(authkit.ErrCodeNotImplemented, "unlink is not supported by cognito")
}

func (s *Service) Link(ctx context.Context, method authkit.LinkMethod) (*authkit.AuthResult, error) {
	return nil, authkit.NewAuthError(authkit.ErrCodeNotImplemented, "link is not supported by cognito")
}

func (s *Service) DeleteUser(ctx context.Context) error {
	cur := s.bridge.Current()
	if cur == nil {
		return authkit.ErrNoCurrentUser
	}
	if err := s.client.DeleteUser(ctx); err != nil {
		return s.fail("delete user", classify(err, authkit.ErrCodeRequestFailed))
	}
	<-s.bridge.Dispatch(ctx, authkit.EventUserDeleted, nil)
	s.logger.Info("deleted user", "uid", cur.UserID())
	return nil
}

func (s *Service) Reauthenticate(ctx context.Context, provider authkit.BasicSignInProvider) (*authkit.AuthResult, error) {
	if s.bridge.Current() == nil {
		return nil, authkit.ErrNoCurrentUser
	}
	return nil, authkit.NewAuthError(authkit.ErrCodeNotImplemented, "reauthentication is not supported by cognito")
}

func (s *Service) RevokeAppleToken(ctx context.Context, view authkit.PresentingView) error {
	return authkit.NewAuthError(authkit.ErrCodeNotImplemented, "apple token revocation is not supported by cognito")
}

func (s *Service) commitFetched(ctx context.Context) (*authkit.AuthResult, error) {
	u, err := s.fetchUser(ctx)
	if err != nil {
		return nil, authkit.Errorf(authkit.ErrCodeExchangeFailed, "%v", err)
	}
	s.bridge.Set(u)
	s.logger.Info("auth result committed", "uid", u.UserID())
	return &authkit.AuthResult{User: u}, nil
}

func (s *Service) fail(op string, err error) error {
	if authkit.IsCancelled(err) {
		s.logger.Debug("auth flow cancelled", "op", op, "reason", err)
	} else {
		s.logger.Error("auth operation failed", "op", op, "error", err)
	}
	return err
}

func signedIn(res *SignInResult) error {
	if res == nil || !res.IsSignedIn {
		next := ""
		if res != nil {
			next = res.NextStep
		}
		return authkit.Errorf(authkit.ErrCodeExchangeFailed, "sign-in is not complete (next step %q)", next)
	}
	return nil
}

func isUserNotFound(err error) bool {
	var nf *types.UserNotFoundException
	return errors.As(err, &nf)
}

// classify folds a client error into the authkit taxonomy.
func classify(err error, fallback authkit.ErrorCode) error {
	var ae *authkit.AuthError
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled) {
		return authkit.NewAuthError(authkit.ErrCodeProviderCancelled, "sign-in was cancelled")
	}
	if errors.Is(err, ErrNotSignedIn) {
		return authkit.Errorf(authkit.ErrCodeNoCurrentUser, "%v", err)
	}
	var na *types.NotAuthorizedException
	if errors.As(err, &na) {
		return authkit.Errorf(authkit.ErrCodeExchangeFailed, "not authorized: %s", na.ErrorMessage())
	}
	return authkit.NewAuthError(fallback, fmt.Sprint(err))
}

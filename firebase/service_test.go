package firebase_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/panyam/authkit"
	"github.com/panyam/authkit/apple"
	"github.com/panyam/authkit/firebase"
	"github.com/panyam/authkit/firebase/memory"
	"github.com/panyam/authkit/google"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testView struct{}

func (testView) Present(context.Context, string) (*url.URL, error) { return nil, nil }

func idToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("idp-key"))
	require.NoError(t, err)
	return s
}

// appleController signs every request as the same Apple user.
type appleController struct {
	t       *testing.T
	subject string

	mu       sync.Mutex
	calls    int
	fail     error
	lastAuth *authkit.AppleAuthorization
}

func (c *appleController) PerformRequest(ctx context.Context, req apple.Request, view authkit.PresentingView) (*authkit.AppleAuthorization, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.fail != nil {
		return nil, c.fail
	}
	c.lastAuth = &authkit.AppleAuthorization{
		User:              c.subject,
		IdentityToken:     []byte(idToken(c.t, jwt.MapClaims{"sub": c.subject, "nonce": req.Nonce})),
		AuthorizationCode: []byte(fmt.Sprintf("apple-code-%d", c.calls)),
		GivenName:         "Tim",
	}
	return c.lastAuth, nil
}

// googleClient hands each SignIn call the account pushed on its own channel.
type googleClient struct {
	entered chan int

	mu      sync.Mutex
	n       int
	replies []chan *google.Account
}

func newGoogleClient(calls int) *googleClient {
	c := &googleClient{entered: make(chan int, calls)}
	for i := 0; i < calls; i++ {
		c.replies = append(c.replies, make(chan *google.Account, 1))
	}
	return c
}

func (c *googleClient) SignIn(ctx context.Context, view authkit.PresentingView) (*google.Account, error) {
	c.mu.Lock()
	i := c.n
	c.n++
	c.mu.Unlock()
	c.entered <- i
	select {
	case acct := <-c.replies[i]:
		return acct, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type userLog struct {
	mu    sync.Mutex
	users []authkit.User
}

func (l *userLog) record(u authkit.User) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.users = append(l.users, u)
}

func (l *userLog) ids() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.users))
	for i, u := range l.users {
		if u != nil {
			out[i] = u.UserID()
		}
	}
	return out
}

func newService(t *testing.T, opts ...firebase.Option) (*firebase.Service, *memory.Auth) {
	t.Helper()
	auth := memory.New(memory.WithMailer(&memory.ConsoleMailer{}))
	s := firebase.New(auth, opts...)
	t.Cleanup(func() { s.Close() })
	return s, auth
}

func TestSignIn_ImplicitRegistration(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, firebase.WithImplicitRegistration())

	res, err := s.SignIn(ctx, authkit.EmailAndPassword{Email: "a@b.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", res.User.Email())
	assert.Equal(t, res.User.UserID(), s.CurrentUser().UserID())
	assert.True(t, authkit.IsLinked(res.User, authkit.ProviderEmail))
}

func TestSignIn_UnknownUserWithoutImplicitRegistration(t *testing.T) {
	s, auth := newService(t)

	_, err := s.SignIn(context.Background(), authkit.EmailAndPassword{Email: "a@b.com", Password: "secret1"})
	assert.True(t, errors.Is(err, authkit.ErrExchangeFailed))
	assert.Nil(t, s.CurrentUser())
	assert.Zero(t, auth.AccountCount())
}

func TestSignIn_ImplicitRegistrationFailure(t *testing.T) {
	s, _ := newService(t, firebase.WithImplicitRegistration())

	_, err := s.SignIn(context.Background(), authkit.EmailAndPassword{Email: "a@b.com", Password: "123"})
	assert.Equal(t, authkit.ErrCodeExchangeFailed, authkit.CodeOf(err))
	assert.Nil(t, s.CurrentUser())
}

func TestSignInOAuth_Apple(t *testing.T) {
	ctx := context.Background()
	ctrl := &appleController{t: t, subject: "apple-001"}
	s, _ := newService(t, firebase.WithApple(apple.NewProvider(ctrl)))

	res, err := s.SignInOAuth(ctx, authkit.OAuthApple, testView{})
	require.NoError(t, err)

	info, ok := res.AdditionalInfo.(authkit.AppleLoginInfo)
	require.True(t, ok)
	assert.Same(t, ctrl.lastAuth, info.Authorization)
	assert.True(t, authkit.IsLinked(res.User, authkit.ProviderApple))
	assert.False(t, authkit.IsLinked(res.User, authkit.ProviderGoogle))
}

func TestSignInOAuth_LatestWins(t *testing.T) {
	ctx := context.Background()
	client := newGoogleClient(2)
	s, _ := newService(t, firebase.WithGoogle(google.NewProvider(client)))

	type outcome struct {
		res *authkit.AuthResult
		err error
	}
	first := make(chan outcome, 1)
	second := make(chan outcome, 1)

	go func() {
		res, err := s.SignInOAuth(ctx, authkit.OAuthGoogle, testView{})
		first <- outcome{res, err}
	}()
	require.Equal(t, 0, <-client.entered)

	go func() {
		res, err := s.SignInOAuth(ctx, authkit.OAuthGoogle, testView{})
		second <- outcome{res, err}
	}()
	require.Equal(t, 1, <-client.entered)

	client.replies[1] <- &google.Account{IDToken: idToken(t, jwt.MapClaims{"sub": "fast"})}
	fast := <-second
	require.NoError(t, fast.err)

	client.replies[0] <- &google.Account{IDToken: idToken(t, jwt.MapClaims{"sub": "slow"})}
	slow := <-first
	assert.True(t, authkit.IsCancelled(slow.err))

	assert.Equal(t, fast.res.User.UserID(), s.CurrentUser().UserID())
}

func TestSignInOAuth_GoogleProfile(t *testing.T) {
	client := newGoogleClient(1)
	s, _ := newService(t, firebase.WithGoogle(google.NewProvider(client)))

	profile := &authkit.SocialProfile{Email: "grace@example.com", FullName: "Grace Hopper"}
	client.replies[0] <- &google.Account{
		IDToken: idToken(t, jwt.MapClaims{"sub": "g-1", "email": "grace@example.com", "name": "Grace Hopper"}),
		Profile: profile,
	}
	res, err := s.SignInOAuth(context.Background(), authkit.OAuthGoogle, testView{})
	require.NoError(t, err)

	info, ok := res.AdditionalInfo.(authkit.GoogleLoginInfo)
	require.True(t, ok)
	assert.Same(t, profile, info.Profile)
	assert.Equal(t, "Grace", res.User.GivenName())
	assert.Equal(t, "Hopper", res.User.FamilyName())
}

func TestSignInOAuth_RejectedCredential(t *testing.T) {
	client := newGoogleClient(1)
	s, _ := newService(t, firebase.WithGoogle(google.NewProvider(client)))

	client.replies[0] <- &google.Account{IDToken: idToken(t, jwt.MapClaims{"email": "grace@example.com"})}
	_, err := s.SignInOAuth(context.Background(), authkit.OAuthGoogle, testView{})
	assert.Equal(t, authkit.ErrCodeExchangeFailed, authkit.CodeOf(err))
	assert.Nil(t, s.CurrentUser())
}

func TestSignInOAuth_Unavailable(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	_, err := s.SignInOAuth(ctx, authkit.OAuthApple, testView{})
	assert.Equal(t, authkit.ErrCodeUnsupportedProvider, authkit.CodeOf(err))

	_, err = s.SignInOAuth(ctx, authkit.OAuthGoogle, nil)
	assert.Equal(t, authkit.ErrCodePresentingViewUnavailable, authkit.CodeOf(err))
}

func TestUnlink_LastProviderIsNotGuarded(t *testing.T) {
	ctx := context.Background()
	client := newGoogleClient(1)
	s, _ := newService(t, firebase.WithGoogle(google.NewProvider(client)))

	client.replies[0] <- &google.Account{IDToken: idToken(t, jwt.MapClaims{"sub": "g-1"})}
	res, err := s.SignInOAuth(ctx, authkit.OAuthGoogle, testView{})
	require.NoError(t, err)
	assert.False(t, authkit.CanUnlink(res.User.AuthProviderLinks()))

	u, err := s.Unlink(ctx, authkit.ProviderGoogle.Identifier())
	require.NoError(t, err)
	assert.Empty(t, u.AuthProviderLinks())
	assert.Empty(t, s.CurrentUser().AuthProviderLinks())
}

func TestLinkAnonymousAccount(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	anon, err := s.SignIn(ctx, authkit.Anonymous{})
	require.NoError(t, err)
	assert.True(t, anon.User.IsAnonymous())

	res, err := s.Link(ctx, authkit.LinkWithEmailPassword{Email: "ada@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, anon.User.UserID(), res.User.UserID())
	assert.False(t, s.CurrentUser().IsAnonymous())
	assert.True(t, authkit.IsLinked(s.CurrentUser(), authkit.ProviderEmail))
}

func TestSignOut_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	var log userLog
	remove := s.AddUserDidChangeListener(log.record)
	defer remove()

	res, err := s.SignIn(ctx, authkit.Anonymous{})
	require.NoError(t, err)

	require.NoError(t, s.SignOut(ctx))
	require.NoError(t, s.SignOut(ctx))
	assert.Nil(t, s.CurrentUser())
	assert.Equal(t, []string{"", res.User.UserID(), ""}, log.ids())
}

// failingSignOut fails every backend sign-out and records whether the
// adapter had already cleared its user when the backend was called.
type failingSignOut struct {
	*memory.Auth
	svc        **firebase.Service
	clearedYet *bool
}

func (f failingSignOut) SignOut(context.Context) error {
	if f.svc != nil && *f.svc != nil {
		*f.clearedYet = (*f.svc).CurrentUser() == nil
	}
	return errors.New("network unreachable")
}

func TestSignOut_BackendFailureStillClears(t *testing.T) {
	ctx := context.Background()
	var s *firebase.Service
	var clearedFirst bool
	auth := failingSignOut{Auth: memory.New(), svc: &s, clearedYet: &clearedFirst}
	s = firebase.New(auth)
	defer s.Close()

	_, err := s.SignIn(ctx, authkit.Anonymous{})
	require.NoError(t, err)

	err = s.SignOut(ctx)
	assert.Equal(t, authkit.ErrCodeSignOutFailed, authkit.CodeOf(err))
	assert.Nil(t, s.CurrentUser())
	assert.True(t, clearedFirst)
}

func TestUserIDToken(t *testing.T) {
	ctx := context.Background()
	s, auth := newService(t)

	_, err := s.UserIDToken(ctx)
	assert.True(t, errors.Is(err, authkit.ErrTokenUnavailable))

	res, err := s.CreateUser(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	token, err := s.UserIDToken(ctx)
	require.NoError(t, err)
	uid, err := auth.VerifyIDToken(token)
	require.NoError(t, err)
	assert.Equal(t, res.User.UserID(), uid)
}

func TestOperationsRequireUser(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	assert.True(t, errors.Is(s.SendEmailVerification(ctx), authkit.ErrNoCurrentUser))
	assert.True(t, errors.Is(s.DeleteUser(ctx), authkit.ErrNoCurrentUser))
	_, err := s.Unlink(ctx, "google")
	assert.True(t, errors.Is(err, authkit.ErrNoCurrentUser))
	_, err = s.Link(ctx, authkit.LinkWithEmailPassword{Email: "a@b.com", Password: "secret1"})
	assert.True(t, errors.Is(err, authkit.ErrNoCurrentUser))
	_, err = s.Reauthenticate(ctx, authkit.EmailAndPassword{Email: "a@b.com", Password: "secret1"})
	assert.True(t, errors.Is(err, authkit.ErrNoCurrentUser))
}

func TestReauthenticate(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	_, err := s.CreateUser(ctx, "ada@example.com", "password123")
	require.NoError(t, err)

	_, err = s.Reauthenticate(ctx, authkit.Anonymous{})
	assert.Equal(t, authkit.ErrCodeUnsupportedProvider, authkit.CodeOf(err))

	_, err = s.Reauthenticate(ctx, authkit.EmailAndPassword{Email: "ada@example.com", Password: "wrong-one"})
	assert.Equal(t, authkit.ErrCodeExchangeFailed, authkit.CodeOf(err))

	res, err := s.Reauthenticate(ctx, authkit.EmailAndPassword{Email: "ada@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", res.User.Email())
}

func TestDeleteUser_RevokesAppleToken(t *testing.T) {
	ctx := context.Background()
	ctrl := &appleController{t: t, subject: "apple-001"}
	s, auth := newService(t,
		firebase.WithApple(apple.NewProvider(ctrl)),
		firebase.WithViewResolver(func() authkit.PresentingView { return testView{} }),
	)

	_, err := s.SignInOAuth(ctx, authkit.OAuthApple, nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteUser(ctx))
	assert.Equal(t, []string{"apple-code-2"}, auth.RevokedCodes())
	assert.Nil(t, s.CurrentUser())
	assert.Zero(t, auth.AccountCount())
}

func TestDeleteUser_KeepsAccountWhenRevocationFails(t *testing.T) {
	ctx := context.Background()
	ctrl := &appleController{t: t, subject: "apple-001"}
	s, auth := newService(t, firebase.WithApple(apple.NewProvider(ctrl)))

	_, err := s.SignInOAuth(ctx, authkit.OAuthApple, testView{})
	require.NoError(t, err)

	// no view resolver
	err = s.DeleteUser(ctx)
	assert.Equal(t, authkit.ErrCodePresentingViewUnavailable, authkit.CodeOf(err))

	ctrl.mu.Lock()
	ctrl.fail = apple.ErrCanceled
	ctrl.mu.Unlock()
	err = s.RevokeAppleToken(ctx, testView{})
	assert.True(t, authkit.IsCancelled(err))

	ctrl.mu.Lock()
	ctrl.fail = errors.New("keychain locked")
	ctrl.mu.Unlock()
	err = s.RevokeAppleToken(ctx, testView{})
	assert.Equal(t, authkit.ErrCodeRevocationFailed, authkit.CodeOf(err))

	assert.NotNil(t, s.CurrentUser())
	assert.Equal(t, 1, auth.AccountCount())
	assert.Empty(t, auth.RevokedCodes())
}

func TestDeleteUser_WithoutApple(t *testing.T) {
	ctx := context.Background()
	s, auth := newService(t)

	_, err := s.CreateUser(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	require.NoError(t, s.DeleteUser(ctx))
	assert.Nil(t, s.CurrentUser())
	assert.Zero(t, auth.AccountCount())
}

func TestNewReplaysExistingUser(t *testing.T) {
	ctx := context.Background()
	auth := memory.New()
	res, err := auth.SignInAnonymously(ctx)
	require.NoError(t, err)

	s := firebase.New(auth)
	defer s.Close()
	require.NotNil(t, s.CurrentUser())
	assert.Equal(t, res.User.UID, s.CurrentUser().UserID())

	require.NoError(t, s.Close())
	require.NoError(t, auth.SignOut(ctx))
	assert.NotNil(t, s.CurrentUser(), "a closed service keeps its last snapshot")
}

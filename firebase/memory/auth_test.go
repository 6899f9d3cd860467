package memory

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/panyam/authkit/apple"
	"github.com/panyam/authkit/firebase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	kind string
	to   string
	link string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *recordingMailer) record(kind, to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{kind, to, link})
	return nil
}

func (m *recordingMailer) SendVerificationEmail(to, link string) error {
	return m.record("verify", to, link)
}

func (m *recordingMailer) SendPasswordResetEmail(to, link string) error {
	return m.record("reset", to, link)
}

func (m *recordingMailer) SendSignInLinkEmail(to, link string) error {
	return m.record("signin", to, link)
}

func (m *recordingMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

func oobCodeOf(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	code := u.Query().Get("oobCode")
	require.NotEmpty(t, code)
	return code
}

func federatedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("idp-key"))
	require.NoError(t, err)
	return s
}

func newTestAuth(t *testing.T) (*Auth, *recordingMailer) {
	t.Helper()
	m := &recordingMailer{}
	return New(WithMailer(m), WithSigningKey([]byte("test-signing-key"))), m
}

func TestCreateUserAndSignIn(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuth(t)

	res, err := a.CreateUser(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	assert.True(t, res.AdditionalUserInfo.IsNewUser)
	assert.Len(t, res.User.UID, 28)
	assert.Equal(t, []firebase.ProviderInfo{{ProviderID: firebase.ProviderIDPassword, UID: "ada@example.com", Email: "ada@example.com"}}, res.User.ProviderData)

	_, err = a.CreateUser(ctx, "ADA@example.com", "password123")
	assert.Equal(t, firebase.CodeEmailExists, firebase.ErrorCode(err))

	require.NoError(t, a.SignOut(ctx))
	assert.Nil(t, a.CurrentUser())

	_, err = a.SignIn(ctx, firebase.EmailPasswordCredential{Email: "ada@example.com", Password: "wrong-pass"})
	assert.Equal(t, firebase.CodeInvalidPassword, firebase.ErrorCode(err))

	_, err = a.SignIn(ctx, firebase.EmailPasswordCredential{Email: "nobody@example.com", Password: "password123"})
	assert.Equal(t, firebase.CodeEmailNotFound, firebase.ErrorCode(err))

	again, err := a.SignIn(ctx, firebase.EmailPasswordCredential{Email: "ada@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, res.User.UID, again.User.UID)
	assert.False(t, again.AdditionalUserInfo.IsNewUser)
	assert.Equal(t, res.User.UID, a.CurrentUser().UID)
}

func TestCreateUser_Validation(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuth(t)

	_, err := a.CreateUser(ctx, "not-an-email", "password123")
	assert.Equal(t, firebase.CodeInvalidEmail, firebase.ErrorCode(err))

	_, err = a.CreateUser(ctx, "ada@example.com", "short")
	assert.Equal(t, firebase.CodeWeakPassword, firebase.ErrorCode(err))
	assert.Zero(t, a.AccountCount())
}

func TestListenersSeeTransitions(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuth(t)

	var seen []string
	remove := a.AddStateDidChangeListener(func(rec *firebase.UserRecord) {
		if rec == nil {
			seen = append(seen, "")
			return
		}
		seen = append(seen, rec.UID)
	})

	res, err := a.SignInAnonymously(ctx)
	require.NoError(t, err)
	assert.True(t, res.User.IsAnonymous)

	require.NoError(t, a.SignOut(ctx))
	require.NoError(t, a.SignOut(ctx))
	assert.Equal(t, []string{res.User.UID, ""}, seen)

	remove()
	_, err = a.SignInAnonymously(ctx)
	require.NoError(t, err)
	assert.Len(t, seen, 2)
}

func TestFederatedSignIn(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuth(t)

	token := federatedToken(t, jwt.MapClaims{"sub": "g-123", "email": "grace@example.com", "name": "Grace Hopper"})
	res, err := a.SignIn(ctx, firebase.GoogleCredential{IDToken: token})
	require.NoError(t, err)
	assert.True(t, res.AdditionalUserInfo.IsNewUser)
	assert.Equal(t, "Grace Hopper", res.User.DisplayName)
	assert.Equal(t, firebase.ProviderIDGoogle, res.User.ProviderData[0].ProviderID)

	again, err := a.SignIn(ctx, firebase.GoogleCredential{IDToken: token})
	require.NoError(t, err)
	assert.Equal(t, res.User.UID, again.User.UID)
	assert.False(t, again.AdditionalUserInfo.IsNewUser)

	_, err = a.SignIn(ctx, firebase.GoogleCredential{IDToken: "garbage"})
	assert.Equal(t, firebase.CodeInvalidIDPResponse, firebase.ErrorCode(err))
}

func TestAppleSignInChecksNonce(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuth(t)

	raw := "raw-nonce"
	token := federatedToken(t, jwt.MapClaims{"sub": "a-1", "nonce": apple.SHA256(raw)})

	_, err := a.SignIn(ctx, firebase.OAuthCredential{Provider: firebase.ProviderIDApple, IDToken: token, RawNonce: "other"})
	assert.Equal(t, firebase.CodeInvalidIDPResponse, firebase.ErrorCode(err))

	res, err := a.SignIn(ctx, firebase.OAuthCredential{Provider: firebase.ProviderIDApple, IDToken: token, RawNonce: raw})
	require.NoError(t, err)
	assert.Equal(t, firebase.ProviderIDApple, res.User.ProviderData[0].ProviderID)
}

func TestEmailLinkSignIn(t *testing.T) {
	ctx := context.Background()
	a, m := newTestAuth(t)
	settings := firebase.ActionCodeSettings{URL: "https://app.example.com/finish", HandleCodeInApp: true}

	err := a.SendSignInLink(ctx, "lin@example.com", firebase.ActionCodeSettings{URL: settings.URL})
	assert.Equal(t, firebase.CodeOperationNotAllowed, firebase.ErrorCode(err))

	require.NoError(t, a.SendSignInLink(ctx, "lin@example.com", settings))
	mail := m.last(t)
	assert.Equal(t, "signin", mail.kind)
	assert.True(t, IsSignInWithEmailLink(mail.link))

	_, err = a.SignIn(ctx, firebase.EmailLinkCredential{Email: "other@example.com", Link: mail.link})
	assert.Equal(t, firebase.CodeInvalidOOBCode, firebase.ErrorCode(err))

	// a failed attempt consumes the code
	_, err = a.SignIn(ctx, firebase.EmailLinkCredential{Email: "lin@example.com", Link: mail.link})
	assert.Equal(t, firebase.CodeInvalidOOBCode, firebase.ErrorCode(err))

	require.NoError(t, a.SendSignInLink(ctx, "lin@example.com", settings))
	res, err := a.SignIn(ctx, firebase.EmailLinkCredential{Email: "lin@example.com", Link: m.last(t).link})
	require.NoError(t, err)
	assert.True(t, res.User.EmailVerified)
	assert.True(t, res.AdditionalUserInfo.IsNewUser)
}

func TestEmailLinkExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &recordingMailer{}
	a := New(WithMailer(m), WithClock(func() time.Time { return now }))

	require.NoError(t, a.SendSignInLink(ctx, "lin@example.com", firebase.ActionCodeSettings{HandleCodeInApp: true}))
	now = now.Add(CodeExpirySignInLink + time.Minute)

	_, err := a.SignIn(ctx, firebase.EmailLinkCredential{Email: "lin@example.com", Link: m.last(t).link})
	assert.Equal(t, firebase.CodeInvalidOOBCode, firebase.ErrorCode(err))
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	a, m := newTestAuth(t)

	_, err := a.CreateUser(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	require.NoError(t, a.SignOut(ctx))

	assert.Equal(t, firebase.CodeEmailNotFound, firebase.ErrorCode(a.SendPasswordReset(ctx, "nobody@example.com")))

	require.NoError(t, a.SendPasswordReset(ctx, "ada@example.com"))
	code := oobCodeOf(t, m.last(t).link)

	assert.Equal(t, firebase.CodeWeakPassword, firebase.ErrorCode(a.ConfirmPasswordReset(ctx, code, "x")))
	require.NoError(t, a.ConfirmPasswordReset(ctx, code, "new-password"))
	assert.Equal(t, firebase.CodeInvalidOOBCode, firebase.ErrorCode(a.ConfirmPasswordReset(ctx, code, "new-password")))

	_, err = a.SignIn(ctx, firebase.EmailPasswordCredential{Email: "ada@example.com", Password: "new-password"})
	require.NoError(t, err)
}

func TestEmailVerification(t *testing.T) {
	ctx := context.Background()
	a, m := newTestAuth(t)

	assert.Equal(t, firebase.CodeNoCurrentUser, firebase.ErrorCode(a.SendEmailVerification(ctx)))

	_, err := a.CreateUser(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	require.NoError(t, a.SendEmailVerification(ctx))

	mail := m.last(t)
	assert.Equal(t, "verify", mail.kind)
	require.NoError(t, a.ConfirmEmailVerification(ctx, oobCodeOf(t, mail.link)))
	assert.True(t, a.CurrentUser().EmailVerified)
}

func TestIDTokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuth(t)

	_, err := a.IDToken(ctx, false)
	assert.Equal(t, firebase.CodeNoCurrentUser, firebase.ErrorCode(err))

	res, err := a.CreateUser(ctx, "ada@example.com", "password123")
	require.NoError(t, err)

	token, err := a.IDToken(ctx, true)
	require.NoError(t, err)
	uid, err := a.VerifyIDToken(token)
	require.NoError(t, err)
	assert.Equal(t, res.User.UID, uid)

	other := New(WithSigningKey([]byte("another-key")))
	_, err = other.VerifyIDToken(token)
	assert.Error(t, err)
}

func TestLinkAndUnlink(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuth(t)

	anon, err := a.SignInAnonymously(ctx)
	require.NoError(t, err)

	linked, err := a.Link(ctx, firebase.EmailPasswordCredential{Email: "ada@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, anon.User.UID, linked.User.UID)
	assert.False(t, linked.User.IsAnonymous)
	assert.Equal(t, "ada@example.com", linked.User.Email)

	_, err = a.Link(ctx, firebase.EmailPasswordCredential{Email: "ada@example.com", Password: "password123"})
	assert.Equal(t, firebase.CodeProviderLinked, firebase.ErrorCode(err))

	token := federatedToken(t, jwt.MapClaims{"sub": "g-1"})
	linked, err = a.Link(ctx, firebase.GoogleCredential{IDToken: token})
	require.NoError(t, err)
	assert.Len(t, linked.User.ProviderData, 2)

	rec, err := a.Unlink(ctx, firebase.ProviderIDGoogle)
	require.NoError(t, err)
	assert.Len(t, rec.ProviderData, 1)

	_, err = a.Unlink(ctx, firebase.ProviderIDGoogle)
	assert.Equal(t, firebase.CodeNoSuchProvider, firebase.ErrorCode(err))

	// the Google identity is free again
	require.NoError(t, a.SignOut(ctx))
	res, err := a.SignIn(ctx, firebase.GoogleCredential{IDToken: token})
	require.NoError(t, err)
	assert.NotEqual(t, anon.User.UID, res.User.UID)
}

func TestLink_CredentialInUse(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuth(t)

	token := federatedToken(t, jwt.MapClaims{"sub": "g-1"})
	_, err := a.SignIn(ctx, firebase.GoogleCredential{IDToken: token})
	require.NoError(t, err)

	_, err = a.CreateUser(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	_, err = a.Link(ctx, firebase.GoogleCredential{IDToken: token})
	assert.Equal(t, firebase.CodeCredentialInUse, firebase.ErrorCode(err))
}

func TestReauthenticate(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuth(t)

	_, err := a.CreateUser(ctx, "bob@example.com", "password123")
	require.NoError(t, err)
	ada, err := a.CreateUser(ctx, "ada@example.com", "password123")
	require.NoError(t, err)

	res, err := a.Reauthenticate(ctx, firebase.EmailPasswordCredential{Email: "ada@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, ada.User.UID, res.User.UID)

	_, err = a.Reauthenticate(ctx, firebase.EmailPasswordCredential{Email: "ada@example.com", Password: "nope-nope"})
	assert.Equal(t, firebase.CodeInvalidPassword, firebase.ErrorCode(err))

	_, err = a.Reauthenticate(ctx, firebase.EmailPasswordCredential{Email: "bob@example.com", Password: "password123"})
	assert.Equal(t, firebase.CodeUserMismatch, firebase.ErrorCode(err))
	assert.Equal(t, ada.User.UID, a.CurrentUser().UID)
}

func TestRevokeTokenAndDelete(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAuth(t)

	assert.Equal(t, firebase.CodeNoCurrentUser, firebase.ErrorCode(a.RevokeToken(ctx, "code")))

	_, err := a.CreateUser(ctx, "ada@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, firebase.CodeInvalidCredential, firebase.ErrorCode(a.RevokeToken(ctx, "")))
	require.NoError(t, a.RevokeToken(ctx, "code"))
	assert.Equal(t, []string{"code"}, a.RevokedCodes())

	var cleared bool
	a.AddStateDidChangeListener(func(rec *firebase.UserRecord) { cleared = rec == nil })
	require.NoError(t, a.Delete(ctx))
	assert.True(t, cleared)
	assert.Nil(t, a.CurrentUser())
	assert.Zero(t, a.AccountCount())

	_, err = a.SignIn(ctx, firebase.EmailPasswordCredential{Email: "ada@example.com", Password: "password123"})
	assert.Equal(t, firebase.CodeEmailNotFound, firebase.ErrorCode(err))
}

// Package cognito adapts a Cognito-style client SDK to the
// authkit.Authenticating contract.
//
// The SDK announces state changes on a hub by event name only, so every
// sign-in style event is followed by a fetch of the user's attributes.
package cognito

import (
	"context"
	"errors"
	"time"

	"github.com/panyam/authkit"
)

var (
	// ErrCanceled is returned by AuthorizeWebUI when the user closed the
	// hosted UI.
	ErrCanceled = errors.New("cognito: sign-in canceled")

	// ErrNotSignedIn is returned by operations that need a signed-in user.
	ErrNotSignedIn = errors.New("cognito: no signed-in user")
)

// Standard and custom user attribute keys.
const (
	AttributeEmail          = "email"
	AttributeName           = "name"
	AttributeGivenName      = "given_name"
	AttributeFamilyName     = "family_name"
	AttributePersistenceUID = "custom:persistenceUID"
	AttributeCreatedAt      = "custom:createdAt"
)

type Attribute struct {
	Key   string
	Value string
}

type SignInResult struct {
	IsSignedIn bool
	NextStep   string
}

type SignUpResult struct {
	IsSignUpComplete bool
	UserID           string
	NextStep         string
}

// CurrentUser identifies the signed-in user-pool user.
type CurrentUser struct {
	Username string
	UserID   string
}

type AuthSession struct {
	IsSignedIn bool
	IDToken    string
}

type SignOutStatus int

const (
	SignOutComplete SignOutStatus = iota
	// SignOutPartial means local state was cleared but a server-side step
	// (global sign-out or token revocation) failed.
	SignOutPartial
	SignOutFailed
)

func (s SignOutStatus) String() string {
	switch s {
	case SignOutComplete:
		return "complete"
	case SignOutPartial:
		return "partial"
	case SignOutFailed:
		return "failed"
	}
	return "unknown"
}

type SignOutResult struct {
	Status SignOutStatus
	Err    error
}

// WebUIProvider names an identity provider of the hosted UI.
type WebUIProvider string

const (
	WebUIGoogle WebUIProvider = "Google"
	WebUIApple  WebUIProvider = "SignInWithApple"
)

func webUIProvider(p authkit.OAuthSignInProvider) (WebUIProvider, bool) {
	switch p {
	case authkit.OAuthGoogle:
		return WebUIGoogle, true
	case authkit.OAuthApple:
		return WebUIApple, true
	}
	return "", false
}

// WebUIAuthorization is the authorization code the hosted UI redirected
// back with.
type WebUIAuthorization struct {
	Provider WebUIProvider
	Code     string
	Verifier string
}

// WebUIGrant holds the tokens an authorization code was exchanged for. They
// do not affect the session until passed to SignInWithGrant.
type WebUIGrant struct {
	UserID       string
	Username     string
	IDToken      string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Client is the Cognito SDK boundary. Implementations publish the matching
// hub events for sign-in, sign-out and deletion.
type Client interface {
	SignIn(ctx context.Context, username, password string) (*SignInResult, error)
	SignUp(ctx context.Context, username, password string, attrs []Attribute) (*SignUpResult, error)
	AuthorizeWebUI(ctx context.Context, provider WebUIProvider, view authkit.PresentingView) (*WebUIAuthorization, error)
	ExchangeWebUI(ctx context.Context, authz *WebUIAuthorization) (*WebUIGrant, error)
	SignInWithGrant(ctx context.Context, grant *WebUIGrant) (*SignInResult, error)
	SignOut(ctx context.Context) SignOutResult

	FetchUserAttributes(ctx context.Context) ([]Attribute, error)
	GetCurrentUser(ctx context.Context) (*CurrentUser, error)
	FetchAuthSession(ctx context.Context) (*AuthSession, error)

	ResetPassword(ctx context.Context, username string) error
	SendVerificationCode(ctx context.Context, attributeKey string) error
	DeleteUser(ctx context.Context) error
}

// Package firebase adapts a Firebase-style authentication SDK to the
// authkit.Authenticating contract.
//
// The SDK reports state changes through a delegate listener that receives the
// new user directly, so the adapter commits users to its bridge as they arrive.
// Concrete SDK implementations live in the rest and memory sub-packages.
package firebase

import (
	"context"
	"time"
)

// Provider identifiers as the backend spells them.
const (
	ProviderIDPassword = "password"
	ProviderIDGoogle   = "google.com"
	ProviderIDApple    = "apple.com"
)

// ProviderInfo is one identity provider attached to an account.
type ProviderInfo struct {
	ProviderID string
	UID        string
	Email      string
}

// UserRecord is the backend's view of an account.
type UserRecord struct {
	UID           string
	Email         string
	DisplayName   string
	EmailVerified bool
	IsAnonymous   bool
	CreatedAt     time.Time
	ProviderData  []ProviderInfo
}

// AdditionalUserInfo is returned alongside a sign-in result.
type AdditionalUserInfo struct {
	ProviderID string
	IsNewUser  bool
	Profile    map[string]any
}

// AuthDataResult is the outcome of a sign-in, link or reauthentication.
type AuthDataResult struct {
	User               *UserRecord
	AdditionalUserInfo *AdditionalUserInfo
}

// Credential is something the backend can verify for an account.
type Credential interface {
	ProviderID() string
}

type EmailPasswordCredential struct {
	Email    string
	Password string
}

type EmailLinkCredential struct {
	Email string
	Link  string
}

type GoogleCredential struct {
	IDToken     string
	AccessToken string
}

// OAuthCredential is a generic OIDC credential, used for Apple.
type OAuthCredential struct {
	Provider    string
	IDToken     string
	RawNonce    string
	AccessToken string
}

func (EmailPasswordCredential) ProviderID() string { return ProviderIDPassword }
func (EmailLinkCredential) ProviderID() string     { return ProviderIDPassword }
func (GoogleCredential) ProviderID() string        { return ProviderIDGoogle }
func (c OAuthCredential) ProviderID() string       { return c.Provider }

// ActionCodeSettings controls the link mailed for email-link sign-in.
type ActionCodeSettings struct {
	URL               string
	HandleCodeInApp   bool
	BundleID          string
	DynamicLinkDomain string
}

// Auth is the Firebase SDK boundary.
//
// Operations on the signed-in account fail with an *Error whose code is
// CodeNoCurrentUser when nobody is signed in. Listeners registered with
// AddStateDidChangeListener must be invoked outside any SDK lock.
type Auth interface {
	CurrentUser() *UserRecord
	AddStateDidChangeListener(fn func(*UserRecord)) (remove func())

	SignInAnonymously(ctx context.Context) (*AuthDataResult, error)
	SignIn(ctx context.Context, cred Credential) (*AuthDataResult, error)
	CreateUser(ctx context.Context, email, password string) (*AuthDataResult, error)
	SendPasswordReset(ctx context.Context, email string) error
	SendSignInLink(ctx context.Context, email string, settings ActionCodeSettings) error
	SignOut(ctx context.Context) error
	RevokeToken(ctx context.Context, authorizationCode string) error

	IDToken(ctx context.Context, forceRefresh bool) (string, error)
	SendEmailVerification(ctx context.Context) error
	Link(ctx context.Context, cred Credential) (*AuthDataResult, error)
	Unlink(ctx context.Context, providerID string) (*UserRecord, error)
	Reauthenticate(ctx context.Context, cred Credential) (*AuthDataResult, error)
	Delete(ctx context.Context) error
}

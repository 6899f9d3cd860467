package authkit

import (
	"context"
	"net/url"
	"time"
)

// User is the provider-agnostic view of an authenticated account.
// Each backend adapter supplies its own implementation.
// Optional string fields are empty when the backend does not know them and
// CreationDate is the zero time when unknown.
type User interface {
	UserID() string
	Email() string
	IsAnonymous() bool
	DisplayName() string
	GivenName() string
	FamilyName() string
	CreationDate() time.Time
	AuthProviderLinks() []AuthProviderLink
}

// AuthProvider identifies a first-class identity provider.
type AuthProvider int

const (
	ProviderApple AuthProvider = iota
	ProviderEmail
	ProviderGoogle
)

// AllProviders returns every AuthProvider in declaration order.
func AllProviders() []AuthProvider {
	return []AuthProvider{ProviderApple, ProviderEmail, ProviderGoogle}
}

// Identifier returns the canonical string identifier of the provider.
func (p AuthProvider) Identifier() string {
	switch p {
	case ProviderApple:
		return "apple.com"
	case ProviderEmail:
		return "email"
	case ProviderGoogle:
		return "google"
	}
	return ""
}

func (p AuthProvider) String() string {
	return p.Identifier()
}

// ParseAuthProvider maps a canonical identifier back to its provider.
func ParseAuthProvider(id string) (AuthProvider, bool) {
	for _, p := range AllProviders() {
		if p.Identifier() == id {
			return p, true
		}
	}
	return 0, false
}

// AuthProviderLink describes whether a user has a given provider attached.
type AuthProviderLink struct {
	Email    string
	IsLinked bool
	Provider AuthProvider
}

// BasicSignInProvider is one of Anonymous, EmailAndPassword or EmailLink.
type BasicSignInProvider interface {
	basicSignIn()
}

type Anonymous struct{}

type EmailAndPassword struct {
	Email    string
	Password string
}

// EmailLink signs in with a link previously mailed to Email.
type EmailLink struct {
	Email string
	Link  string
}

func (Anonymous) basicSignIn()        {}
func (EmailAndPassword) basicSignIn() {}
func (EmailLink) basicSignIn()        {}

// OAuthSignInProvider selects a native interactive provider.
type OAuthSignInProvider int

const (
	OAuthGoogle OAuthSignInProvider = iota
	OAuthApple
)

func (p OAuthSignInProvider) String() string {
	switch p {
	case OAuthGoogle:
		return "google"
	case OAuthApple:
		return "apple"
	}
	return "unknown"
}

// AuthProvider returns the identity provider the OAuth flow attaches.
func (p OAuthSignInProvider) AuthProvider() AuthProvider {
	if p == OAuthApple {
		return ProviderApple
	}
	return ProviderGoogle
}

// LinkMethod is a credential to attach to the current user.
type LinkMethod interface {
	linkMethod()
}

type LinkWithEmailPassword struct {
	Email    string
	Password string
}

type LinkWithEmailLink struct {
	Email string
	Link  string
}

// LinkWithGoogle carries tokens obtained from a completed Google flow.
type LinkWithGoogle struct {
	IDToken     string
	AccessToken string
}

// LinkWithApple carries an Apple identity token and the raw nonce it was issued for.
type LinkWithApple struct {
	IDToken string
	Nonce   string
}

func (LinkWithEmailPassword) linkMethod() {}
func (LinkWithEmailLink) linkMethod()     {}
func (LinkWithGoogle) linkMethod()        {}
func (LinkWithApple) linkMethod()         {}

// AuthResult is returned by sign-in, link and reauthentication calls.
// AdditionalInfo is nil unless a native provider produced extra data.
type AuthResult struct {
	User           User
	AdditionalInfo ProviderLoginInfo
}

// ProviderLoginInfo is one of AppleLoginInfo or GoogleLoginInfo.
type ProviderLoginInfo interface {
	providerLoginInfo()
}

// AppleLoginInfo exposes the native Apple authorization, which carries the
// user's name and email only on the first authorization.
type AppleLoginInfo struct {
	Authorization *AppleAuthorization
}

type GoogleLoginInfo struct {
	Profile *SocialProfile
}

func (AppleLoginInfo) providerLoginInfo()  {}
func (GoogleLoginInfo) providerLoginInfo() {}

// AppleAuthorization is the handle returned by a completed Apple flow.
// Native holds the platform object, if any, and is never interpreted here.
type AppleAuthorization struct {
	User              string
	IdentityToken     []byte
	AuthorizationCode []byte
	Email             string
	GivenName         string
	FamilyName        string
	Native            any
}

// SocialProfile is the profile a social provider reports alongside its tokens.
type SocialProfile struct {
	Email      string
	FullName   string
	GivenName  string
	FamilyName string
}

// PresentingView anchors an interactive provider flow. Present shows the
// consent page at authURL and returns the URL the provider redirected back to.
type PresentingView interface {
	Present(ctx context.Context, authURL string) (*url.URL, error)
}

// ViewResolver locates a presenting view when the caller does not pass one.
type ViewResolver func() PresentingView

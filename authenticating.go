package authkit

import "context"

// Authenticating is the provider-agnostic capability contract every backend
// adapter implements. Failures are reported as *AuthError values.
//
// Adapters that do not support an operation return ErrNotImplemented rather
// than silently succeeding; use IsNotImplemented to detect the gap.
type Authenticating interface {
	// CurrentUser returns the current session snapshot, nil when signed out.
	CurrentUser() User

	// UserIDToken returns a fresh backend ID token for the current user.
	UserIDToken(ctx context.Context) (string, error)

	// AddUserDidChangeListener registers fn and immediately invokes it with
	// the current snapshot. Later transitions are delivered in order.
	// Calling the returned func unregisters fn.
	AddUserDidChangeListener(fn func(User)) (remove func())

	SignIn(ctx context.Context, provider BasicSignInProvider) (*AuthResult, error)

	// SignInOAuth runs the native provider flow anchored on view and exchanges
	// the resulting credential with the backend. A nil view is resolved by the
	// adapter's ViewResolver.
	SignInOAuth(ctx context.Context, provider OAuthSignInProvider, view PresentingView) (*AuthResult, error)

	// SignOut clears the local session even when the backend reports failure.
	SignOut(ctx context.Context) error

	CreateUser(ctx context.Context, email, password string) (*AuthResult, error)
	ResetPassword(ctx context.Context, email string) error
	SendEmailVerification(ctx context.Context) error

	// Unlink detaches the provider with the given identifier and returns the
	// updated user.
	Unlink(ctx context.Context, providerID string) (User, error)
	Link(ctx context.Context, method LinkMethod) (*AuthResult, error)

	DeleteUser(ctx context.Context) error

	Reauthenticate(ctx context.Context, provider BasicSignInProvider) (*AuthResult, error)
	ReauthenticateOAuth(ctx context.Context, provider OAuthSignInProvider, view PresentingView) (*AuthResult, error)

	RevokeAppleToken(ctx context.Context, view PresentingView) error
}

// Watch streams the user-state of a into a channel, starting with the current
// snapshot. The channel is closed once ctx is done.
func Watch(ctx context.Context, a Authenticating) <-chan User {
	out := make(chan User)
	q := newUserQueue()
	remove := a.AddUserDidChangeListener(q.push)
	go func() {
		defer close(out)
		defer remove()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.ready:
			}
			for _, u := range q.drain() {
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// ResolveView returns view, falling back to resolve when view is nil.
func ResolveView(view PresentingView, resolve ViewResolver) (PresentingView, error) {
	if view != nil {
		return view, nil
	}
	if resolve != nil {
		if v := resolve(); v != nil {
			return v, nil
		}
	}
	return nil, ErrPresentingViewUnavailable
}

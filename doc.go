// Package authkit provides a provider-agnostic client authentication layer.
//
// Applications talk to a single contract, Authenticating, to sign users in and
// out, attach and detach identity providers, and observe the current user.
// Credential verification is delegated to an interchangeable backend adapter
// and, for interactive sign-in, to a native provider flow.
//
// # Architecture
//
// Identity model: User, AuthProvider, AuthProviderLink and the sign-in and
// link variants. Backends supply their own User implementations.
//
// Native providers: the apple and google packages run one interactive flow
// each and turn its outcome into a backend credential.
//
// Backend adapters: firebase.Service wraps a delegate-style SDK that hands the
// user to a state listener; cognito.Service wraps an SDK that broadcasts named
// hub events and requires the user to be fetched afterwards.
//
// Change notification: every adapter owns a Bridge, the only writer of its
// Session. The Bridge sequences backend events and local results so that
// listeners see every transition in order and a late fetch never overwrites
// a newer state.
//
// # Basic Usage
//
//	auth := memory.New()
//	svc := firebase.New(auth,
//	    firebase.WithApple(apple.NewProvider(controller)),
//	    firebase.WithGoogle(google.NewProvider(client)),
//	)
//	defer svc.Close()
//
//	remove := svc.AddUserDidChangeListener(func(u authkit.User) {
//	    // nil means signed out
//	})
//	defer remove()
//
//	res, err := svc.SignIn(ctx, authkit.EmailAndPassword{Email: email, Password: pw})
//	if authkit.IsCancelled(err) {
//	    return
//	}
//
// # Errors
//
// Every operation fails with an *AuthError. Compare with errors.Is against
// the Err* sentinels or switch on CodeOf(err). Backend error types never
// cross the contract.
//
// # Outgoing calls
//
// The transport and grpc packages attach the current user's ID token to HTTP
// requests and gRPC calls.
package authkit

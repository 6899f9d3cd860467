// Package grpc attaches the signed-in user of an authkit adapter to outgoing
// gRPC calls, as a bearer ID token plus a user ID metadata entry.
package grpc

import (
	"context"
	"errors"

	"github.com/panyam/authkit"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Default metadata keys.
const (
	// DefaultMetadataKeyUserID carries the authenticated user ID.
	DefaultMetadataKeyUserID = "x-user-id"

	// DefaultMetadataKeyAuthorization carries "Bearer <id token>".
	DefaultMetadataKeyAuthorization = "authorization"
)

// Identity is the part of authkit.Authenticating needed to authenticate calls.
type Identity interface {
	CurrentUser() authkit.User
	UserIDToken(ctx context.Context) (string, error)
}

var _ Identity = (authkit.Authenticating)(nil)

// Config holds the metadata key configuration.
type Config struct {
	// MetadataKeyUserID defaults to "x-user-id".
	MetadataKeyUserID string

	// MetadataKeyAuthorization defaults to "authorization".
	MetadataKeyAuthorization string

	// RequireUser fails calls with codes.Unauthenticated when nobody is
	// signed in. Otherwise such calls go out without credentials.
	RequireUser bool

	// PublicMethods are full method names ("/package.Service/Method") that
	// are always sent without credentials.
	PublicMethods map[string]bool

	// AllowInsecure lets per-RPC credentials travel over plaintext
	// connections. Only for local development and tests.
	AllowInsecure bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyUserID:        DefaultMetadataKeyUserID,
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		PublicMethods:            make(map[string]bool),
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyUserID == "" {
		c.MetadataKeyUserID = DefaultMetadataKeyUserID
	}
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
}

func (c *Config) orDefault() *Config {
	if c == nil {
		return DefaultConfig()
	}
	c.EnsureDefaults()
	return c
}

// requestMetadata resolves the credentials of the current user. It returns
// nil when nobody is signed in and the config does not require a user.
func requestMetadata(ctx context.Context, id Identity, config *Config) (map[string]string, error) {
	token, err := id.UserIDToken(ctx)
	if err != nil {
		if errors.Is(err, authkit.ErrTokenUnavailable) || errors.Is(err, authkit.ErrNoCurrentUser) {
			if config.RequireUser {
				return nil, status.Error(codes.Unauthenticated, "no signed-in user")
			}
			return nil, nil
		}
		return nil, status.Errorf(codes.Unauthenticated, "id token: %v", err)
	}

	md := map[string]string{config.MetadataKeyAuthorization: "Bearer " + token}
	if u := id.CurrentUser(); u != nil {
		md[config.MetadataKeyUserID] = u.UserID()
	}
	return md, nil
}

// UserIDToOutgoingContext adds the user ID to outgoing gRPC context metadata.
func UserIDToOutgoingContext(ctx context.Context, userID string) context.Context {
	return UserIDToOutgoingContextWithKey(ctx, userID, DefaultMetadataKeyUserID)
}

// UserIDToOutgoingContextWithKey adds the user ID to outgoing gRPC context metadata with a custom key.
func UserIDToOutgoingContextWithKey(ctx context.Context, userID string, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, key, userID)
}

// UserIDFromContext reads the user ID a client attached, on the receiving
// side of a call. It returns "" when absent.
func UserIDFromContext(ctx context.Context) string {
	return UserIDFromContextWithConfig(ctx, nil)
}

func UserIDFromContextWithConfig(ctx context.Context, config *Config) string {
	config = config.orDefault()
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(config.MetadataKeyUserID); len(values) > 0 {
		return values[0]
	}
	return ""
}

package grpc

import (
	"context"

	"github.com/panyam/authkit/transport"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/oauth"
)

// PerRPCCredentials implements credentials.PerRPCCredentials for the current
// user of an adapter. Use it with grpc.WithPerRPCCredentials.
type PerRPCCredentials struct {
	id     Identity
	config *Config
}

var _ credentials.PerRPCCredentials = (*PerRPCCredentials)(nil)

func NewPerRPCCredentials(id Identity, config *Config) *PerRPCCredentials {
	return &PerRPCCredentials{id: id, config: config.orDefault()}
}

func (c *PerRPCCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	if ri, ok := credentials.RequestInfoFromContext(ctx); ok && c.config.PublicMethods[ri.Method] {
		return nil, nil
	}
	return requestMetadata(ctx, c.id, c.config)
}

func (c *PerRPCCredentials) RequireTransportSecurity() bool {
	return !c.config.AllowInsecure
}

// NewOAuthCredentials sends only the bearer ID token, through grpc's oauth
// credentials. Tokens are cached until their exp claim.
func NewOAuthCredentials(ctx context.Context, src transport.IDTokenSource) credentials.PerRPCCredentials {
	return oauth.TokenSource{TokenSource: transport.TokenSource(ctx, src)}
}

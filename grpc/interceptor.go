package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// NewPublicMethodsConfig creates a config that requires a user except for
// the given methods.
func NewPublicMethodsConfig(publicMethods ...string) *Config {
	config := DefaultConfig()
	config.RequireUser = true
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// UnaryClientInterceptor attaches the current user's credentials to unary
// calls. It suits connections where per-RPC credentials cannot be used, such
// as plaintext connections to a local sidecar.
func UnaryClientInterceptor(id Identity, config *Config) grpc.UnaryClientInterceptor {
	config = config.orDefault()
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx, err := outgoing(ctx, method, id, config)
		if err != nil {
			return err
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor attaches the current user's credentials when a
// stream is opened.
func StreamClientInterceptor(id Identity, config *Config) grpc.StreamClientInterceptor {
	config = config.orDefault()
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		ctx, err := outgoing(ctx, method, id, config)
		if err != nil {
			return nil, err
		}
		return streamer(ctx, desc, cc, method, opts...)
	}
}

func outgoing(ctx context.Context, method string, id Identity, config *Config) (context.Context, error) {
	if config.PublicMethods[method] {
		return ctx, nil
	}
	md, err := requestMetadata(ctx, id, config)
	if err != nil {
		return nil, err
	}
	for k, v := range md {
		ctx = metadata.AppendToOutgoingContext(ctx, k, v)
	}
	return ctx, nil
}

package transport

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// TokenSource adapts src to an oauth2.TokenSource so ID tokens can feed
// oauth2.NewClient and gRPC oauth credentials. Tokens are reused until the
// expiry read from their exp claim.
func TokenSource(ctx context.Context, src IDTokenSource) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &idTokenSource{ctx: ctx, src: src})
}

type idTokenSource struct {
	ctx context.Context
	src IDTokenSource
}

func (s *idTokenSource) Token() (*oauth2.Token, error) {
	raw, err := s.src.UserIDToken(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: raw,
		TokenType:   "Bearer",
		Expiry:      expiryOf(raw),
	}, nil
}

// expiryOf reads the exp claim without verifying the token. Tokens that are
// not JWTs, or carry no exp, expire immediately and are never reused.
func expiryOf(raw string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Now()
	}
	return claims.ExpiresAt.Time
}

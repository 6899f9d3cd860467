package idp

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config locates a user-pool app client and its hosted UI.
type Config struct {
	Region   string `env:"AUTHKIT_COGNITO_REGION,required"`
	ClientID string `env:"AUTHKIT_COGNITO_CLIENT_ID,required"`

	// Domain is the hosted UI base URL, e.g.
	// https://example.auth.us-east-1.amazoncognito.com. Web UI sign-in is
	// unavailable without it.
	Domain      string   `env:"AUTHKIT_COGNITO_DOMAIN"`
	RedirectURL string   `env:"AUTHKIT_COGNITO_REDIRECT_URL" envDefault:"myapp://callback"`
	Scopes      []string `env:"AUTHKIT_COGNITO_SCOPES" envSeparator:"," envDefault:"openid,email,profile"`

	// Endpoint overrides the user-pool API endpoint (local emulators).
	Endpoint string `env:"AUTHKIT_COGNITO_ENDPOINT"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse cognito env: %w", err)
	}
	return cfg, nil
}

func (c Config) authURL() string {
	return strings.TrimSuffix(c.Domain, "/") + "/oauth2/authorize"
}

func (c Config) tokenURL() string {
	return strings.TrimSuffix(c.Domain, "/") + "/oauth2/token"
}

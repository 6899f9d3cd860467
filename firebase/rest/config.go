package rest

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config locates the Identity Toolkit API for a Firebase project.
type Config struct {
	APIKey string `env:"AUTHKIT_FIREBASE_API_KEY,required"`

	// Endpoint overrides the v3 relying-party base URL.
	Endpoint string `env:"AUTHKIT_FIREBASE_ENDPOINT"`

	// RevokeEndpoint overrides the v2 base URL used for token revocation.
	RevokeEndpoint string `env:"AUTHKIT_FIREBASE_REVOKE_ENDPOINT"`

	// TokenURL is the secure token endpoint used to refresh ID tokens.
	TokenURL string `env:"AUTHKIT_FIREBASE_TOKEN_URL" envDefault:"https://securetoken.googleapis.com/v1/token"`

	// RequestURI is sent as the continue URI of federated sign-ins.
	RequestURI string `env:"AUTHKIT_FIREBASE_REQUEST_URI" envDefault:"http://localhost"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse firebase env: %w", err)
	}
	return cfg, nil
}

package apple

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// NonceCharset is the alphabet random nonces are drawn from.
const NonceCharset = "0123456789ABCDEFGHIJKLMNOPQRSTUVXYZabcdefghijklmnopqrstuvwxyz-._"

// DefaultNonceLength is the nonce length used for sign-in requests.
const DefaultNonceLength = 32

var ErrInvalidNonceLength = errors.New("apple: nonce length must be positive")

// NonceGenerator draws nonces from Rand, or crypto/rand when Rand is nil.
type NonceGenerator struct {
	Rand io.Reader
}

// Nonce returns a string of length symbols from NonceCharset. Random bytes
// outside the charset range are discarded rather than folded back in, so
// every symbol is equally likely.
func (g NonceGenerator) Nonce(length int) (string, error) {
	if length <= 0 {
		return "", ErrInvalidNonceLength
	}
	src := g.Rand
	if src == nil {
		src = rand.Reader
	}

	out := make([]byte, 0, length)
	buf := make([]byte, 16)
	for len(out) < length {
		if _, err := io.ReadFull(src, buf); err != nil {
			return "", fmt.Errorf("apple: failed to generate nonce: %w", err)
		}
		for _, b := range buf {
			if len(out) == length {
				break
			}
			if int(b) < len(NonceCharset) {
				out = append(out, NonceCharset[b])
			}
		}
	}
	return string(out), nil
}

// RandomNonce returns a nonce from crypto/rand.
func RandomNonce(length int) (string, error) {
	return NonceGenerator{}.Nonce(length)
}

// SHA256 returns the lower-case hex SHA-256 digest of input.
func SHA256(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

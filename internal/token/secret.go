package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SecretPrefix marks API token plaintexts so they are recognizable in logs
// and configuration without being guessable.
const SecretPrefix = "ta_"

// NewSecret mints a fresh plaintext token secret. The plaintext is returned
// to the caller exactly once; only Hash(plaintext) is stored.
func NewSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token secret: %w", err)
	}
	return SecretPrefix + hex.EncodeToString(buf), nil
}

func Hash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// IsSecret reports whether a credential looks like an API token plaintext
// rather than some other bearer value.
func IsSecret(s string) bool {
	return strings.HasPrefix(s, SecretPrefix)
}

// Package keys issues API keys and resolves presented secrets to stored
// credentials.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	secretBytes   = 32
	displayLength = 12
)

// Hash is the one-way digest stored in place of the secret.
func Hash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix is the non-secret leading part shown in listings.
func DisplayPrefix(secret string) string {
	if len(secret) <= displayLength {
		return secret
	}
	return secret[:displayLength] + "..."
}

// Generate returns a new raw secret with its hash and display prefix. The
// raw secret must be handed to the caller once and then discarded.
func Generate(prefix string) (secret, hash, display string, err error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", fmt.Errorf("keys: generate secret: %w", err)
	}
	secret = prefix + hex.EncodeToString(b)
	return secret, Hash(secret), DisplayPrefix(secret), nil
}

// WellFormed checks the shape of a presented secret. An empty prefix accepts
// any non-blank secret.
func WellFormed(secret, prefix string) bool {
	if strings.TrimSpace(secret) != secret || secret == "" {
		return false
	}
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(secret, prefix) {
		return false
	}
	rest := secret[len(prefix):]
	if len(rest) != secretBytes*2 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}

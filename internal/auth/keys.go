// Package auth checks operator credentials.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashKey returns a SHA-256 hash of the key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// TokenVerifier compares presented bearer tokens against a configured admin token.
// Only the hash of the token is kept in memory.
type TokenVerifier struct {
	hash string
}

// NewTokenVerifier returns a verifier for token. An empty token yields a
// verifier that rejects everything.
func NewTokenVerifier(token string) *TokenVerifier {
	if strings.TrimSpace(token) == "" {
		return &TokenVerifier{}
	}
	return &TokenVerifier{hash: HashKey(token)}
}

// Enabled reports whether a token is configured.
func (v *TokenVerifier) Enabled() bool {
	return v != nil && v.hash != ""
}

// Verify reports whether presented matches the configured token, in constant time.
func (v *TokenVerifier) Verify(presented string) bool {
	if !v.Enabled() || strings.TrimSpace(presented) == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashKey(presented)), []byte(v.hash)) == 1
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
func BearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

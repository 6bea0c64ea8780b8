// Package auth implements bearer token generation and verification for
// the HTTP API. Tokens are random secrets; only their bcrypt hash is ever
// stored in configuration.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// TokenPrefix marks API tokens so they are recognizable in logs and
	// configs without exposing the secret.
	TokenPrefix = "rlens_sk_" // #nosec G101 -- prefix pattern, not a credential

	// TokenLength is the random secret size in bytes before hex encoding.
	TokenLength = 32

	bcryptCost = 12
)

// GenerateToken creates a new API token. The raw token is shown to the
// operator exactly once; persist only its hash.
func GenerateToken() (string, error) {
	bytes := make([]byte, TokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return TokenPrefix + hex.EncodeToString(bytes), nil
}

// HashToken returns the bcrypt hash of a token for storage.
func HashToken(token string) (string, error) {
	secret := strings.TrimPrefix(token, TokenPrefix)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}

// VerifyToken reports whether a presented token matches a stored hash.
func VerifyToken(token, hash string) bool {
	secret := strings.TrimPrefix(token, TokenPrefix)
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// IsValidTokenFormat checks the shape of a token without verifying it.
func IsValidTokenFormat(token string) bool {
	if !strings.HasPrefix(token, TokenPrefix) {
		return false
	}
	secret := strings.TrimPrefix(token, TokenPrefix)
	if len(secret) != TokenLength*2 {
		return false
	}
	_, err := hex.DecodeString(secret)
	return err == nil
}

// MaskToken renders a token for display with the secret elided.
func MaskToken(token string) string {
	const visible = 8
	if len(token) < len(TokenPrefix)+visible {
		return "****"
	}
	return token[:len(TokenPrefix)+visible] + "****...****"
}

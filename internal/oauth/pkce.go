// Package oauth implements the OAuth 2.0 authorization-code flow with PKCE
// used to obtain provider credentials: verifier/challenge generation,
// authorization URL construction, the local callback listener, and the
// code-for-token exchange.
package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// PKCECodes holds a verifier/challenge pair scoped to one authentication
// attempt. A pair must never be reused across attempts.
type PKCECodes struct {
	CodeVerifier  string
	CodeChallenge string
}

// GeneratePKCECodes generates a PKCE code verifier and challenge pair
// following RFC 7636 for the S256 challenge method.
func GeneratePKCECodes() (*PKCECodes, error) {
	verifier, err := generateCodeVerifier()
	if err != nil {
		return nil, WrapAuthError(ErrEntropyFailure, err)
	}
	return &PKCECodes{
		CodeVerifier:  verifier,
		CodeChallenge: generateCodeChallenge(verifier),
	}, nil
}

// generateCodeVerifier creates a cryptographically random URL-safe string.
// 48 random bytes encode to 64 base64 characters, well above the 43
// character RFC minimum.
func generateCodeVerifier() (string, error) {
	bytes := make([]byte, 48)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(bytes), nil
}

// generateCodeChallenge hashes the verifier with SHA256 and encodes it
// using URL-safe base64 without padding.
func generateCodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}

// GenerateState generates a cryptographically secure random state parameter
// for CSRF binding between the authorization URL and the callback.
func GenerateState() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", WrapAuthError(ErrEntropyFailure, err)
	}
	return hex.EncodeToString(bytes), nil
}

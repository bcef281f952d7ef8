// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package oidc

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// codeVerifierBytes is the number of random bytes in a code verifier.
	// 32 bytes base64url-encode to 43 characters, the RFC 7636 minimum.
	codeVerifierBytes = 32

	// stateBytes is the number of random bytes in an anti-CSRF state token.
	// 16 bytes gives 128 bits of entropy.
	stateBytes = 16
)

// GenerateState returns a random URL-safe token used to bind the
// authorization callback to this login attempt.
func GenerateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateCodeVerifier returns a random PKCE code verifier: 32 random
// bytes, base64url-encoded without padding.
func GenerateCodeVerifier() (string, error) {
	b := make([]byte, codeVerifierBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateCodeChallenge derives the S256 code challenge for a verifier:
// SHA-256 over the verifier's UTF-8 bytes, base64url-encoded without
// padding. Deterministic for a given verifier.
func GenerateCodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package oidc

// AuthError represents a terminal authentication failure. It surfaces to
// the callback flow as a user-visible error with a manual reset action.
// Use errors.Is with the sentinel values below to classify failures.
type AuthError struct {
	Reason string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return "auth error: " + e.Reason
}

// Is implements errors.Is support. Two AuthErrors match when their
// reasons are equal.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// Sentinel auth errors for the failure modes of the callback protocol.
var (
	// ErrInvalidState indicates the callback state did not match the value
	// recorded at login time.
	ErrInvalidState = &AuthError{Reason: "invalid state"}

	// ErrMissingVerifier indicates no pending login attempt holds a PKCE
	// verifier (e.g. a replayed callback after storage was cleared).
	ErrMissingVerifier = &AuthError{Reason: "missing verifier"}

	// ErrNoAuthCode indicates the redirect carried no authorization code.
	ErrNoAuthCode = &AuthError{Reason: "no authorization code"}
)

// newAuthError builds an AuthError with a formatted reason.
func newAuthError(reason string) *AuthError {
	return &AuthError{Reason: reason}
}

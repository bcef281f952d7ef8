// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package oidc

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/jeranaias/openchat-tui/internal/util"
)

// =============================================================================
// SESSION
// =============================================================================

// UserProfile holds the identity claims returned by the /userinfo
// endpoint.
type UserProfile struct {
	Subject           string `json:"sub"`
	Name              string `json:"name,omitempty"`
	Email             string `json:"email,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	LoginUserName     string `json:"login_user_name,omitempty"`
	GivenName         string `json:"given_name,omitempty"`
	FamilyName        string `json:"family_name,omitempty"`
}

// DisplayName returns the best available human-readable name.
func (u *UserProfile) DisplayName() string {
	switch {
	case u == nil:
		return ""
	case u.Name != "":
		return u.Name
	case u.PreferredUsername != "":
		return u.PreferredUsername
	case u.GivenName != "" && u.FamilyName != "":
		return u.GivenName + " " + u.FamilyName
	case u.Email != "":
		return u.Email
	default:
		return u.Subject
	}
}

// Session is the authenticated identity: tokens plus the user profile.
// It is owned exclusively by the Authenticator; everything else sees
// read-only snapshots.
type Session struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	IDToken      string       `json:"id_token,omitempty"`
	User         *UserProfile `json:"user,omitempty"`
}

// IsAuthenticated holds iff both the access token and the user profile
// are present and non-empty.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.AccessToken != "" && s.User != nil && s.User.Subject != ""
}

// =============================================================================
// TOKEN STORE
// =============================================================================

// TokenStore is the durable backing for the Session. It has no logic
// beyond load/save/clear.
type TokenStore interface {
	// Load returns the persisted session, or nil if none is stored.
	Load() (*Session, error)

	// Save persists the session.
	Save(*Session) error

	// Clear removes all persisted session data.
	Clear() error
}

// FileTokenStore persists the session as a JSON file with owner-only
// permissions, written atomically.
type FileTokenStore struct {
	path string
}

// NewFileTokenStore creates a token store backed by the given file path.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Load implements TokenStore.
func (s *FileTokenStore) Load() (*Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	return &sess, nil
}

// Save implements TokenStore.
func (s *FileTokenStore) Save(sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	// Tokens are credentials: owner read/write only.
	return util.AtomicWriteFile(s.path, data, 0600)
}

// Clear implements TokenStore.
func (s *FileTokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// MemoryTokenStore is an in-memory TokenStore for tests and ephemeral
// runs.
type MemoryTokenStore struct {
	mu   sync.Mutex
	sess *Session
}

// NewMemoryTokenStore creates an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

// Load implements TokenStore.
func (s *MemoryTokenStore) Load() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil, nil
	}
	copied := *s.sess
	return &copied, nil
}

// Save implements TokenStore.
func (s *MemoryTokenStore) Save(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sess
	s.sess = &copied
	return nil
}

// Clear implements TokenStore.
func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = nil
	return nil
}

// =============================================================================
// EPHEMERAL STORE
// =============================================================================

// PendingAuthRequest is the short-lived record of a login attempt: the
// PKCE verifier and the anti-CSRF state. Single-use; removed after a
// successful code exchange.
type PendingAuthRequest struct {
	Verifier string
	State    string
}

// EphemeralStore holds short-lived auth state scoped to the process: the
// pending login attempt and the per-code replay guards used by the
// callback handler.
type EphemeralStore struct {
	mu        sync.Mutex
	pending   *PendingAuthRequest
	seenCodes map[string]bool
}

// NewEphemeralStore creates an empty ephemeral store.
func NewEphemeralStore() *EphemeralStore {
	return &EphemeralStore{seenCodes: make(map[string]bool)}
}

// SetPending records the login attempt, replacing any previous one.
func (e *EphemeralStore) SetPending(req PendingAuthRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = &req
}

// Pending returns the current login attempt, or nil if none is stored.
func (e *EphemeralStore) Pending() *PendingAuthRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return nil
	}
	copied := *e.pending
	return &copied
}

// ClearPending removes the pending login attempt.
func (e *EphemeralStore) ClearPending() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
}

// MarkCodeSeen records that an authorization code has been submitted and
// reports whether it had been seen before. The first caller for a given
// code gets false; every later caller gets true.
func (e *EphemeralStore) MarkCodeSeen(code string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := e.seenCodes[code]
	e.seenCodes[code] = true
	return seen
}

// Clear removes all ephemeral state: the pending request and every
// replay guard.
func (e *EphemeralStore) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
	e.seenCodes = make(map[string]bool)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package oidc

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTokenStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewFileTokenStore(path)

	// Empty store loads as nil session, not an error.
	sess, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, sess)

	want := &Session{
		AccessToken:  "at-123",
		RefreshToken: "rt-456",
		IDToken:      "id-789",
		User: &UserProfile{
			Subject:           "user-1",
			Name:              "Ada Lovelace",
			Email:             "ada@example.com",
			PreferredUsername: "ada",
		},
	}
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	require.NoError(t, store.Clear())
	sess, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, sess)

	// Clearing an already-empty store is not an error.
	require.NoError(t, store.Clear())
}

func TestMemoryTokenStoreIsolation(t *testing.T) {
	store := NewMemoryTokenStore()
	orig := &Session{AccessToken: "at", User: &UserProfile{Subject: "u"}}
	require.NoError(t, store.Save(orig))

	// Mutating the saved value must not reach the store.
	orig.AccessToken = "mutated"

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "at", got.AccessToken)
}

func TestSessionIsAuthenticated(t *testing.T) {
	var nilSess *Session
	assert.False(t, nilSess.IsAuthenticated())
	assert.False(t, (&Session{}).IsAuthenticated())
	assert.False(t, (&Session{AccessToken: "at"}).IsAuthenticated())
	assert.False(t, (&Session{AccessToken: "at", User: &UserProfile{}}).IsAuthenticated())
	assert.False(t, (&Session{User: &UserProfile{Subject: "u"}}).IsAuthenticated())
	assert.True(t, (&Session{AccessToken: "at", User: &UserProfile{Subject: "u"}}).IsAuthenticated())
}

func TestUserProfileDisplayName(t *testing.T) {
	assert.Equal(t, "", (*UserProfile)(nil).DisplayName())
	assert.Equal(t, "Ada", (&UserProfile{Subject: "u", Name: "Ada"}).DisplayName())
	assert.Equal(t, "ada", (&UserProfile{Subject: "u", PreferredUsername: "ada"}).DisplayName())
	assert.Equal(t, "Ada Lovelace", (&UserProfile{Subject: "u", GivenName: "Ada", FamilyName: "Lovelace"}).DisplayName())
	assert.Equal(t, "ada@example.com", (&UserProfile{Subject: "u", Email: "ada@example.com"}).DisplayName())
	assert.Equal(t, "u", (&UserProfile{Subject: "u"}).DisplayName())
}

func TestEphemeralStorePending(t *testing.T) {
	eph := NewEphemeralStore()
	assert.Nil(t, eph.Pending())

	eph.SetPending(PendingAuthRequest{Verifier: "v1", State: "s1"})
	got := eph.Pending()
	require.NotNil(t, got)
	assert.Equal(t, "v1", got.Verifier)

	// A new attempt replaces the old one.
	eph.SetPending(PendingAuthRequest{Verifier: "v2", State: "s2"})
	assert.Equal(t, "s2", eph.Pending().State)

	eph.ClearPending()
	assert.Nil(t, eph.Pending())
}

func TestEphemeralStoreReplayGuard(t *testing.T) {
	eph := NewEphemeralStore()

	assert.False(t, eph.MarkCodeSeen("code-a"), "first submission must not be flagged")
	assert.True(t, eph.MarkCodeSeen("code-a"), "second submission must be flagged")
	assert.True(t, eph.MarkCodeSeen("code-a"))
	assert.False(t, eph.MarkCodeSeen("code-b"), "distinct codes are tracked independently")

	eph.Clear()
	assert.False(t, eph.MarkCodeSeen("code-a"), "Clear drops replay guards")
	assert.Nil(t, eph.Pending())
}

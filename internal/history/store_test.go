// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/openchat-tui/internal/chat"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleMessages() []chat.Message {
	now := time.Now()
	return []chat.Message{
		{ID: "msg_00000001", Role: chat.RoleUser, Content: "What is Go?", Status: chat.StatusSent, Timestamp: now},
		{ID: "msg_00000002", Role: chat.RoleAssistant, Content: "A programming language.", Timestamp: now},
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Save(ctx, sampleMessages(), "gpt-4o-mini")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "msg_00000001", got[0].ID)
	assert.Equal(t, chat.RoleUser, got[0].Role)
	assert.Equal(t, "What is Go?", got[0].Content)
	assert.Equal(t, chat.StatusSent, got[0].Status)
	assert.Equal(t, chat.RoleAssistant, got[1].Role)
	assert.Empty(t, got[1].Status, "assistant messages carry no status")
	assert.False(t, got[1].IsError)
}

func TestSaveEmptyTranscript(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Save(context.Background(), nil, "m")
	assert.Error(t, err)
}

func TestListOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Save(ctx, sampleMessages(), "m")
	require.NoError(t, err)
	// Ensure distinct updated_at timestamps.
	time.Sleep(1100 * time.Millisecond)
	second, err := store.Save(ctx, sampleMessages(), "m")
	require.NoError(t, err)

	list, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, second, list[0].ID, "most recent first")
	assert.Equal(t, first, list[1].ID)
	assert.Equal(t, "What is Go?", list[0].Title)
	assert.Equal(t, 2, list[0].MessageCount)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Save(ctx, sampleMessages(), "m")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, id))

	_, err = store.Load(ctx, id)
	assert.True(t, errors.Is(err, ErrConversationNotFound))

	err = store.Delete(ctx, id)
	assert.True(t, errors.Is(err, ErrConversationNotFound))
}

func TestSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	_, err := store.Save(ctx, []chat.Message{
		{ID: "msg_00000001", Role: chat.RoleUser, Content: "Tell me about goroutines", Status: chat.StatusSent, Timestamp: now},
		{ID: "msg_00000002", Role: chat.RoleAssistant, Content: "They are lightweight threads.", Timestamp: now},
	}, "m")
	require.NoError(t, err)

	_, err = store.Save(ctx, []chat.Message{
		{ID: "msg_00000001", Role: chat.RoleUser, Content: "Recipe for pancakes", Status: chat.StatusSent, Timestamp: now},
	}, "m")
	require.NoError(t, err)

	// Match on message content.
	hits, err := store.Search(ctx, "lightweight", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Title, "goroutines")

	// Match on title.
	hits, err = store.Search(ctx, "pancakes", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = store.Search(ctx, "no-such-term", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLoadUnknownConversation(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrConversationNotFound))
}

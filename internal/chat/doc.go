// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat holds the conversation model and the streaming send path.
//
// A Transcript is the ordered, append-only message list with per-message
// delivery status for user messages. The Client talks to the backend
// proxy (POST /api/chat, Bearer-authenticated, raw chunked text
// response). The Sender ties them together: it marks the user message
// pending, streams the assistant reply chunk by chunk into a growing
// buffer, and replaces the assistant message's full content on every
// chunk so observers always see the complete text so far.
package chat

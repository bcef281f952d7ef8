// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history persists finished conversations to a local SQLite
// database so past chats can be listed, reloaded, searched, and deleted.
package history

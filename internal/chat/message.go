// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// DeliveryStatus tracks a user message through the send path. Only user
// messages carry a status; assistant and system messages leave it empty.
type DeliveryStatus string

const (
	// StatusPending means the message has been queued but the backend has
	// not accepted the request yet.
	StatusPending DeliveryStatus = "pending"

	// StatusSent means the backend accepted the request. Terminal except
	// for nothing: a sent message never changes status again.
	StatusSent DeliveryStatus = "sent"

	// StatusFailed means the request was rejected or never reached the
	// backend. A failed message returns to pending only through Retry.
	StatusFailed DeliveryStatus = "failed"
)

// Attachment is an image attached to a user message, already encoded
// for the wire.
type Attachment struct {
	Name      string
	MediaType string
	Data      string // base64-encoded content
	Size      int64  // original byte size
}

// Message is one entry in the transcript.
//
// Content is mutable only while an assistant message is streaming; user
// and system content never changes after creation. IsError marks a
// synthetic assistant message that carries a delivery failure notice
// rather than model output.
type Message struct {
	ID          string
	Role        Role
	Content     string
	Timestamp   time.Time
	Status      DeliveryStatus
	Attachments []Attachment
	IsError     bool
}

// IsUser reports whether the message was authored by the user.
func (m *Message) IsUser() bool { return m.Role == RoleUser }

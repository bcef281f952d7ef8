// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Transcript errors.
var (
	// ErrUnknownMessage means no message with the given ID exists.
	ErrUnknownMessage = errors.New("unknown message")

	// ErrNotUserMessage means a status operation was attempted on an
	// assistant or system message.
	ErrNotUserMessage = errors.New("not a user message")

	// ErrNotAssistantMessage means a content mutation was attempted on a
	// non-assistant message.
	ErrNotAssistantMessage = errors.New("not an assistant message")

	// ErrBadStatusTransition means the requested status change is not in
	// the allowed lifecycle (pending to sent or failed, failed to pending).
	ErrBadStatusTransition = errors.New("invalid status transition")
)

// Transcript is the ordered message list for one conversation. Message
// IDs are monotonically increasing within a transcript, so ID order is
// insertion order. Messages are never removed except by Reset and
// RemoveTrailingErrors; everything else only appends or mutates in
// place. Safe for concurrent use.
type Transcript struct {
	mu       sync.Mutex
	messages []Message
	nextSeq  int
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

func (t *Transcript) nextID() string {
	t.nextSeq++
	return fmt.Sprintf("msg_%08d", t.nextSeq)
}

// AddUser appends a user message in pending status.
func (t *Transcript) AddUser(content string, attachments []Attachment) Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := Message{
		ID:          t.nextID(),
		Role:        RoleUser,
		Content:     content,
		Timestamp:   time.Now(),
		Status:      StatusPending,
		Attachments: append([]Attachment(nil), attachments...),
	}
	t.messages = append(t.messages, msg)
	return msg
}

// AddAssistant appends an empty assistant message, the streaming target.
func (t *Transcript) AddAssistant() Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := Message{
		ID:        t.nextID(),
		Role:      RoleAssistant,
		Timestamp: time.Now(),
	}
	t.messages = append(t.messages, msg)
	return msg
}

// AddSystem appends a system message.
func (t *Transcript) AddSystem(content string) Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := Message{
		ID:        t.nextID(),
		Role:      RoleSystem,
		Content:   content,
		Timestamp: time.Now(),
	}
	t.messages = append(t.messages, msg)
	return msg
}

// AppendError appends a synthetic assistant message carrying a delivery
// failure notice.
func (t *Transcript) AppendError(text string) Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := Message{
		ID:        t.nextID(),
		Role:      RoleAssistant,
		Content:   text,
		Timestamp: time.Now(),
		IsError:   true,
	}
	t.messages = append(t.messages, msg)
	return msg
}

func (t *Transcript) findLocked(id string) *Message {
	for i := range t.messages {
		if t.messages[i].ID == id {
			return &t.messages[i]
		}
	}
	return nil
}

// SetContent replaces an assistant message's entire content. The caller
// passes the full accumulated text, never a delta.
func (t *Transcript) SetContent(id, full string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := t.findLocked(id)
	if msg == nil {
		return ErrUnknownMessage
	}
	if msg.Role != RoleAssistant {
		return ErrNotAssistantMessage
	}
	msg.Content = full
	return nil
}

// FailAssistant converts a streaming assistant message into an error
// notice: its content becomes the error text and it is flagged as an
// error message.
func (t *Transcript) FailAssistant(id, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := t.findLocked(id)
	if msg == nil {
		return ErrUnknownMessage
	}
	if msg.Role != RoleAssistant {
		return ErrNotAssistantMessage
	}
	msg.Content = text
	msg.IsError = true
	return nil
}

func (t *Transcript) setStatus(id string, from, to DeliveryStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := t.findLocked(id)
	if msg == nil {
		return ErrUnknownMessage
	}
	if msg.Role != RoleUser {
		return ErrNotUserMessage
	}
	if msg.Status != from {
		return fmt.Errorf("%w: %s -> %s (message is %s)", ErrBadStatusTransition, from, to, msg.Status)
	}
	msg.Status = to
	return nil
}

// MarkSent moves a pending user message to sent. Sent is terminal.
func (t *Transcript) MarkSent(id string) error {
	return t.setStatus(id, StatusPending, StatusSent)
}

// MarkFailed moves a pending user message to failed.
func (t *Transcript) MarkFailed(id string) error {
	return t.setStatus(id, StatusPending, StatusFailed)
}

// MarkPending moves a failed user message back to pending. This is the
// retry path; it is the only way out of failed.
func (t *Transcript) MarkPending(id string) error {
	return t.setStatus(id, StatusFailed, StatusPending)
}

// RemoveTrailingErrors drops error assistant messages from the tail of
// the transcript and returns how many were removed. Used by retry so a
// resend does not stack failure notices.
func (t *Transcript) RemoveTrailingErrors() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for len(t.messages) > 0 {
		last := t.messages[len(t.messages)-1]
		if !last.IsError {
			break
		}
		t.messages = t.messages[:len(t.messages)-1]
		removed++
	}
	return removed
}

// Reset clears the transcript for a new conversation. Message IDs keep
// counting up; they are unique per Transcript, not per conversation.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
}

// Messages returns a snapshot copy of the transcript in order.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	for i := range out {
		out[i].Attachments = append([]Attachment(nil), t.messages[i].Attachments...)
	}
	return out
}

// Get returns a copy of the message with the given ID.
func (t *Transcript) Get(id string) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := t.findLocked(id)
	if msg == nil {
		return Message{}, false
	}
	out := *msg
	out.Attachments = append([]Attachment(nil), msg.Attachments...)
	return out, true
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

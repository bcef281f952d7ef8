// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
)

// errorTextPrefix marks synthetic assistant messages that carry a
// failure notice instead of model output.
const errorTextPrefix = "⚠ "

// streamReadBufferSize is the chunk read size for the response body.
const streamReadBufferSize = 4096

// ErrRequestInFlight means a send was attempted while another request
// is still streaming. One outstanding request at a time.
var ErrRequestInFlight = errors.New("a request is already in flight")

// StreamError is a mid-stream failure after some content arrived. The
// partial content stays in the transcript.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	return fmt.Sprintf("stream interrupted after %d chars: %v", len(e.Partial), e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error { return e.Err }

// SendOptions carries the per-conversation request settings.
type SendOptions struct {
	DeveloperMessage string
	Model            string
	APIKey           string
}

// Sender drives one message through the send path: pending user message,
// backend request, streaming assistant reply. The onUpdate hook fires
// after every transcript mutation so the UI can re-render; it runs on
// the sending goroutine.
type Sender struct {
	transcript *Transcript
	client     *Client
	onUpdate   func()

	mu       sync.Mutex
	opts     SendOptions
	inFlight bool
}

// NewSender creates a Sender. onUpdate may be nil.
func NewSender(transcript *Transcript, client *Client, opts SendOptions, onUpdate func()) *Sender {
	return &Sender{
		transcript: transcript,
		client:     client,
		opts:       opts,
		onUpdate:   onUpdate,
	}
}

// SetOptions swaps the request settings, typically on a config reload.
// Takes effect on the next request; an in-flight request keeps the
// options it started with.
func (s *Sender) SetOptions(opts SendOptions) {
	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
}

// Options returns the current request settings.
func (s *Sender) Options() SendOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// InFlight reports whether a request is currently streaming.
func (s *Sender) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *Sender) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return false
	}
	s.inFlight = true
	return true
}

func (s *Sender) release() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

func (s *Sender) notify() {
	if s.onUpdate != nil {
		s.onUpdate()
	}
}

// Send appends the user message and streams the reply. Blocks until the
// stream ends; run it on its own goroutine from interactive callers.
func (s *Sender) Send(ctx context.Context, text string, attachments []Attachment) error {
	if !s.acquire() {
		return ErrRequestInFlight
	}
	defer s.release()

	userMsg := s.transcript.AddUser(text, attachments)
	s.notify()

	return s.deliver(ctx, userMsg, attachments)
}

// Retry resends a failed user message. Trailing error notices are
// removed first and the message returns to pending. The original text
// is resent without attachments; attachments are not restored on retry.
func (s *Sender) Retry(ctx context.Context, userMessageID string) error {
	if !s.acquire() {
		return ErrRequestInFlight
	}
	defer s.release()

	msg, ok := s.transcript.Get(userMessageID)
	if !ok {
		return ErrUnknownMessage
	}
	if msg.Role != RoleUser {
		return ErrNotUserMessage
	}
	if msg.Status != StatusFailed {
		return fmt.Errorf("%w: retry needs a failed message (is %s)", ErrBadStatusTransition, msg.Status)
	}

	s.transcript.RemoveTrailingErrors()
	if err := s.transcript.MarkPending(userMessageID); err != nil {
		return err
	}
	s.notify()

	msg.Attachments = nil
	return s.deliver(ctx, msg, nil)
}

// deliver runs the request and the streaming read loop for an already
// pending user message.
func (s *Sender) deliver(ctx context.Context, userMsg Message, attachments []Attachment) error {
	images := make([]string, 0, len(attachments))
	for _, att := range attachments {
		images = append(images, att.Data)
	}

	opts := s.Options()
	body, err := s.client.Stream(ctx, ChatRequest{
		DeveloperMessage: opts.DeveloperMessage,
		UserMessage:      userMsg.Content,
		Model:            opts.Model,
		APIKey:           opts.APIKey,
		Images:           images,
	})
	if err != nil {
		// The request never got accepted: the user message failed and the
		// failure is surfaced as a synthetic assistant message.
		s.transcript.MarkFailed(userMsg.ID)
		s.transcript.AppendError(errorTextPrefix + err.Error())
		s.notify()
		log.Printf("CHAT_SEND | id=%s ok=false err=%v", userMsg.ID, err)
		return err
	}
	defer body.Close()

	// Accepted: the user message is sent for good, even if the stream
	// breaks later.
	s.transcript.MarkSent(userMsg.ID)
	placeholder := s.transcript.AddAssistant()
	s.notify()

	var buf strings.Builder
	chunk := make([]byte, streamReadBufferSize)
	for {
		n, readErr := body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			// Replace the whole content each time, never a delta.
			s.transcript.SetContent(placeholder.ID, buf.String())
			s.notify()
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return s.failStream(placeholder.ID, buf.String(), readErr)
		}
	}

	log.Printf("CHAT_SEND | id=%s ok=true chars=%d", userMsg.ID, buf.Len())
	return nil
}

// failStream records a mid-stream failure. With no content yet, the
// empty placeholder becomes the error notice; with partial content, the
// partial text stays and a separate notice is appended after it.
func (s *Sender) failStream(placeholderID, partial string, cause error) error {
	if partial == "" {
		s.transcript.FailAssistant(placeholderID, errorTextPrefix+cause.Error())
	} else {
		s.transcript.AppendError(errorTextPrefix + "response interrupted: " + cause.Error())
	}
	s.notify()
	log.Printf("CHAT_STREAM | ok=false partial_chars=%d err=%v", len(partial), cause)
	return &StreamError{Partial: partial, Err: cause}
}

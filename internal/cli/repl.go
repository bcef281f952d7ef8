// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the plain line-oriented REPL used when stdout is
// not a terminal that can host the full TUI, or when --plain is given.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/peterh/liner"

	"github.com/jeranaias/openchat-tui/internal/chat"
	"github.com/jeranaias/openchat-tui/internal/config"
	"github.com/jeranaias/openchat-tui/internal/history"
	"github.com/jeranaias/openchat-tui/internal/oidc"
)

const historyFileName = "repl_history"

// REPL is the line-based chat loop. Streaming output is printed
// incrementally: each transcript update prints only the assistant text
// that arrived since the last update.
type REPL struct {
	cfg        *config.Config
	transcript *chat.Transcript
	sender     *chat.Sender
	auth       *oidc.Authenticator
	client     *chat.Client
	histStore  *history.Store // nil when disabled

	out io.Writer

	// model is read on the REPL goroutine and replaced by config reloads
	// from the watcher goroutine.
	mu    sync.Mutex
	model string

	pendingAttachments []chat.Attachment

	// Streaming print position for the assistant message being received.
	streamingID string
	printedLen  int
}

// Deps are the collaborators the REPL needs.
type Deps struct {
	Config     *config.Config
	Transcript *chat.Transcript
	Sender     *chat.Sender
	Auth       *oidc.Authenticator
	Client     *chat.Client
	History    *history.Store
}

// New creates the REPL. The returned notify function must be wired as
// the Sender's onUpdate hook.
func New(deps Deps) (*REPL, func()) {
	r := &REPL{
		cfg:        deps.Config,
		transcript: deps.Transcript,
		sender:     deps.Sender,
		auth:       deps.Auth,
		client:     deps.Client,
		histStore:  deps.History,
		out:        os.Stdout,
		model:      deps.Config.Backend.Model,
	}
	return r, r.onTranscriptUpdate
}

// ApplyConfig picks up the reloadable settings from a fresh config.
func (r *REPL) ApplyConfig(fresh *config.Config) {
	r.mu.Lock()
	r.model = fresh.Backend.Model
	r.mu.Unlock()
}

func (r *REPL) currentModel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.model
}

// onTranscriptUpdate prints newly arrived assistant text. Send runs on
// the REPL goroutine, so this fires inline with no locking needed
// beyond the transcript's own.
func (r *REPL) onTranscriptUpdate() {
	msgs := r.transcript.Messages()
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Role != chat.RoleAssistant || last.IsError {
		return
	}

	if last.ID != r.streamingID {
		r.streamingID = last.ID
		r.printedLen = 0
	}
	if len(last.Content) > r.printedLen {
		fmt.Fprint(r.out, last.Content[r.printedLen:])
		r.printedLen = len(last.Content)
	}
}

// Run executes the REPL until EOF or /quit.
func (r *REPL) Run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	histPath := r.loadLineHistory(line)
	defer r.saveLineHistory(line, histPath)

	fmt.Fprintln(r.out, "openchat (plain mode). /help for commands, Ctrl+D to exit.")
	r.printIdentity()

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Fprintln(r.out)
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := r.runCommand(ctx, input); quit {
				return nil
			}
			continue
		}

		r.send(ctx, input)
	}
}

func (r *REPL) send(ctx context.Context, text string) {
	attachments := r.pendingAttachments
	r.pendingAttachments = nil

	err := r.sender.Send(ctx, text, attachments)
	fmt.Fprintln(r.out)
	if err != nil {
		r.printLastError()
		fmt.Fprintln(r.out, "(use /retry to try again)")
	}
}

// runCommand executes a slash command; true means quit.
func (r *REPL) runCommand(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		fmt.Fprintln(r.out, "commands:")
		fmt.Fprintln(r.out, "  /login /logout        sign in or out")
		fmt.Fprintln(r.out, "  /retry                resend the last failed message")
		fmt.Fprintln(r.out, "  /attach <path>...     queue image attachments for the next message")
		fmt.Fprintln(r.out, "  /new                  start a fresh conversation")
		fmt.Fprintln(r.out, "  /save /list /load <id> /delete <id>   conversation history")
		fmt.Fprintln(r.out, "  /health               check the backend")
		fmt.Fprintln(r.out, "  /quit                 exit")

	case "/login":
		if err := r.login(ctx); err != nil {
			fmt.Fprintf(r.out, "login failed: %v\n", err)
		} else {
			r.printIdentity()
		}

	case "/logout":
		if err := r.auth.Logout(ctx); err != nil {
			fmt.Fprintf(r.out, "logout failed: %v\n", err)
		} else {
			fmt.Fprintln(r.out, "signed out")
		}

	case "/retry":
		r.retry(ctx)

	case "/attach":
		if len(args) == 0 {
			fmt.Fprintln(r.out, "usage: /attach <path>...")
			break
		}
		loaded := chat.LoadAttachments(args)
		r.pendingAttachments = append(r.pendingAttachments, loaded...)
		fmt.Fprintf(r.out, "%d attachment(s) queued\n", len(r.pendingAttachments))

	case "/new":
		r.transcript.Reset()
		r.pendingAttachments = nil
		fmt.Fprintln(r.out, "new conversation")

	case "/save":
		r.save(ctx)

	case "/list":
		r.list(ctx)

	case "/load":
		if len(args) != 1 {
			fmt.Fprintln(r.out, "usage: /load <id>")
			break
		}
		r.load(ctx, args[0])

	case "/delete":
		if len(args) != 1 {
			fmt.Fprintln(r.out, "usage: /delete <id>")
			break
		}
		r.deleteConversation(ctx, args[0])

	case "/health":
		if err := r.client.Health(ctx); err != nil {
			fmt.Fprintf(r.out, "backend unhealthy: %v\n", err)
		} else {
			fmt.Fprintln(r.out, "backend ok")
		}

	case "/quit", "/exit":
		return true

	default:
		fmt.Fprintf(r.out, "unknown command %s (/help for commands)\n", cmd)
	}
	return false
}

func (r *REPL) login(ctx context.Context) error {
	server, err := oidc.NewCallbackServer(r.cfg.RedirectURI(), r.auth, r.auth.Ephemeral())
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "opening browser for sign-in, waiting for the redirect...")
	if err := r.auth.Login(ctx); err != nil {
		return err
	}
	return server.Wait(ctx)
}

func (r *REPL) retry(ctx context.Context) {
	var failedID string
	for _, msg := range r.transcript.Messages() {
		if msg.Role == chat.RoleUser && msg.Status == chat.StatusFailed {
			failedID = msg.ID
		}
	}
	if failedID == "" {
		fmt.Fprintln(r.out, "nothing to retry")
		return
	}

	err := r.sender.Retry(ctx, failedID)
	fmt.Fprintln(r.out)
	if err != nil {
		r.printLastError()
	}
}

func (r *REPL) save(ctx context.Context) {
	if r.histStore == nil {
		fmt.Fprintln(r.out, "history is disabled")
		return
	}
	msgs := r.transcript.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, "nothing to save")
		return
	}
	id, err := r.histStore.Save(ctx, msgs, r.currentModel())
	if err != nil {
		fmt.Fprintf(r.out, "save failed: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "saved conversation %s\n", id)
}

func (r *REPL) list(ctx context.Context) {
	if r.histStore == nil {
		fmt.Fprintln(r.out, "history is disabled")
		return
	}
	summaries, err := r.histStore.List(ctx, 20)
	if err != nil {
		fmt.Fprintf(r.out, "list failed: %v\n", err)
		return
	}
	if len(summaries) == 0 {
		fmt.Fprintln(r.out, "no saved conversations")
		return
	}
	for _, s := range summaries {
		fmt.Fprintf(r.out, "%s  %s  (%d messages, %s)\n",
			s.ID, s.Title, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
}

func (r *REPL) load(ctx context.Context, id string) {
	if r.histStore == nil {
		fmt.Fprintln(r.out, "history is disabled")
		return
	}
	msgs, err := r.histStore.Load(ctx, id)
	if err != nil {
		if errors.Is(err, history.ErrConversationNotFound) {
			fmt.Fprintln(r.out, "no such conversation")
		} else {
			fmt.Fprintf(r.out, "load failed: %v\n", err)
		}
		return
	}
	for _, msg := range msgs {
		switch msg.Role {
		case chat.RoleUser:
			fmt.Fprintf(r.out, "> %s\n", msg.Content)
		case chat.RoleAssistant:
			fmt.Fprintln(r.out, msg.Content)
		}
	}
}

func (r *REPL) deleteConversation(ctx context.Context, id string) {
	if r.histStore == nil {
		fmt.Fprintln(r.out, "history is disabled")
		return
	}
	if err := r.histStore.Delete(ctx, id); err != nil {
		fmt.Fprintf(r.out, "delete failed: %v\n", err)
		return
	}
	fmt.Fprintln(r.out, "deleted")
}

func (r *REPL) printIdentity() {
	snap := r.auth.Snapshot()
	if snap.State == oidc.StateAuthenticated {
		fmt.Fprintf(r.out, "signed in as %s\n", snap.User.DisplayName())
	} else {
		fmt.Fprintln(r.out, "not signed in (/login to sign in)")
	}
}

// printLastError echoes the trailing error notice, if any.
func (r *REPL) printLastError() {
	msgs := r.transcript.Messages()
	if len(msgs) > 0 && msgs[len(msgs)-1].IsError {
		fmt.Fprintln(r.out, msgs[len(msgs)-1].Content)
	}
}

func (r *REPL) loadLineHistory(line *liner.State) string {
	dir, err := config.Dir()
	if err != nil {
		return ""
	}
	path := filepath.Join(dir, historyFileName)
	if f, err := os.Open(path); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	return path
}

func (r *REPL) saveLineHistory(line *liner.State, path string) {
	if path == "" {
		return
	}
	f, err := os.Create(path)
	if err != nil {
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}

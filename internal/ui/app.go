// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/openchat-tui/internal/chat"
	"github.com/jeranaias/openchat-tui/internal/config"
	"github.com/jeranaias/openchat-tui/internal/history"
	"github.com/jeranaias/openchat-tui/internal/oidc"
)

// =============================================================================
// MESSAGES
// =============================================================================

// transcriptMsg signals that the transcript changed and the viewport
// needs re-rendering.
type transcriptMsg struct{}

// authMsg carries an authentication state transition into the UI loop.
type authMsg oidc.Snapshot

// configMsg carries a reloaded config into the UI loop.
type configMsg *config.Config

// sendDoneMsg reports a finished send or retry.
type sendDoneMsg struct{ err error }

// loginDoneMsg reports a finished login flow.
type loginDoneMsg struct{ err error }

// savedMsg reports a history save.
type savedMsg struct {
	id  string
	err error
}

// =============================================================================
// APP MODEL
// =============================================================================

// App is the Bubble Tea model for the chat client.
type App struct {
	cfg   *config.Config
	theme *Theme

	transcript *chat.Transcript
	sender     *chat.Sender
	auth       *oidc.Authenticator
	histStore  *history.Store // nil when history is disabled

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	authSnap oidc.Snapshot

	// model is the UI's own copy of the chat model name; config reloads
	// replace it through configEvents, never by mutating cfg.
	model string

	// updates coalesces transcript notifications; authEvents and
	// configEvents carry auth transitions and config reloads from other
	// goroutines into the Update loop.
	updates      chan struct{}
	authEvents   chan oidc.Snapshot
	configEvents chan *config.Config

	pendingAttachments []chat.Attachment

	renderer *transcriptRenderer

	width    int
	height   int
	ready    bool
	status   string
	quitting bool
}

// Deps are the collaborators the App needs.
type Deps struct {
	Config     *config.Config
	Transcript *chat.Transcript
	Sender     *chat.Sender
	Auth       *oidc.Authenticator
	History    *history.Store
}

// NewApp creates the chat UI. The returned notify function must be
// wired as the Sender's onUpdate hook.
func NewApp(deps Deps) (*App, func()) {
	input := textarea.New()
	input.Placeholder = "Type a message, or /help for commands"
	input.Prompt = "┃ "
	input.SetHeight(3)
	input.CharLimit = 8192
	input.ShowLineNumbers = false
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	app := &App{
		cfg:          deps.Config,
		theme:        NewTheme(),
		transcript:   deps.Transcript,
		sender:       deps.Sender,
		auth:         deps.Auth,
		histStore:    deps.History,
		model:        deps.Config.Backend.Model,
		input:        input,
		spinner:      sp,
		updates:      make(chan struct{}, 1),
		authEvents:   make(chan oidc.Snapshot, 8),
		configEvents: make(chan *config.Config, 1),
		renderer:     newTranscriptRenderer(deps.Config.UI.Markdown),
	}
	app.authSnap = deps.Auth.Snapshot()

	deps.Auth.Subscribe(func(s oidc.Snapshot) {
		select {
		case app.authEvents <- s:
		default:
		}
	})

	return app, app.notifyTranscript
}

// notifyTranscript is the Sender's onUpdate hook. Non-blocking; bursts
// coalesce into a single re-render.
func (a *App) notifyTranscript() {
	select {
	case a.updates <- struct{}{}:
	default:
	}
}

func (a *App) waitTranscript() tea.Cmd {
	return func() tea.Msg {
		<-a.updates
		return transcriptMsg{}
	}
}

func (a *App) waitAuth() tea.Cmd {
	return func() tea.Msg {
		return authMsg(<-a.authEvents)
	}
}

// ApplyConfig hands a reloaded config to the UI loop. Non-blocking; if
// a previous reload is still queued only the newest one matters.
func (a *App) ApplyConfig(fresh *config.Config) {
	for {
		select {
		case a.configEvents <- fresh:
			return
		default:
			select {
			case <-a.configEvents:
			default:
			}
		}
	}
}

func (a *App) waitConfig() tea.Cmd {
	return func() tea.Msg {
		return configMsg(<-a.configEvents)
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, a.spinner.Tick, a.waitTranscript(), a.waitAuth(), a.waitConfig())
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.layout()
		a.refreshViewport()
		a.ready = true

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			a.quitting = true
			return a, tea.Quit
		case tea.KeyEnter:
			// Plain Enter submits; Alt+Enter inserts a newline.
			if !msg.Alt {
				return a, a.submit()
			}
		}

	case transcriptMsg:
		a.refreshViewport()
		cmds = append(cmds, a.waitTranscript())

	case authMsg:
		a.authSnap = oidc.Snapshot(msg)
		switch a.authSnap.State {
		case oidc.StateAuthenticated:
			a.status = "signed in as " + a.authSnap.User.DisplayName()
		case oidc.StateAnonymous:
			a.status = "signed out"
		}
		cmds = append(cmds, a.waitAuth())

	case configMsg:
		a.model = msg.Backend.Model
		a.renderer.setMarkdown(msg.UI.Markdown)
		a.refreshViewport()
		a.status = "config reloaded"
		cmds = append(cmds, a.waitConfig())

	case sendDoneMsg:
		if msg.err != nil {
			a.status = "send failed; /retry to try again"
		} else {
			a.status = ""
		}

	case loginDoneMsg:
		if msg.err != nil {
			a.status = "login failed: " + msg.err.Error()
		}

	case savedMsg:
		if msg.err != nil {
			a.status = "save failed: " + msg.err.Error()
		} else {
			a.status = "saved conversation " + msg.id
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)
	a.viewport, cmd = a.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return a, tea.Batch(cmds...)
}

func (a *App) layout() {
	inputHeight := a.input.Height() + 2 // border
	statusHeight := 1
	vpHeight := a.height - inputHeight - statusHeight
	if vpHeight < 1 {
		vpHeight = 1
	}
	if !a.ready {
		a.viewport = viewport.New(a.width, vpHeight)
	} else {
		a.viewport.Width = a.width
		a.viewport.Height = vpHeight
	}
	a.input.SetWidth(a.width - 4)
	a.renderer.setWidth(a.width)
}

func (a *App) refreshViewport() {
	atBottom := a.viewport.AtBottom()
	a.viewport.SetContent(a.renderer.render(a.transcript.Messages(), a.theme))
	if atBottom {
		a.viewport.GotoBottom()
	}
}

// =============================================================================
// INPUT HANDLING
// =============================================================================

// submit handles Enter: slash commands run inline, anything else is a
// chat message.
func (a *App) submit() tea.Cmd {
	text := strings.TrimSpace(a.input.Value())
	if text == "" {
		return nil
	}

	if strings.HasPrefix(text, "/") {
		a.input.Reset()
		return a.runCommand(text)
	}

	if a.sender.InFlight() {
		a.status = "still waiting for the previous reply"
		return nil
	}

	a.input.Reset()
	attachments := a.pendingAttachments
	a.pendingAttachments = nil
	a.status = ""

	return func() tea.Msg {
		err := a.sender.Send(context.Background(), text, attachments)
		return sendDoneMsg{err: err}
	}
}

func (a *App) runCommand(text string) tea.Cmd {
	fields := strings.Fields(text)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		a.transcript.AddSystem("commands: /login /logout /retry /attach <path> /new /save /quit")
		a.notifyTranscript()
		return nil

	case "/login":
		return a.startLogin()

	case "/logout":
		return func() tea.Msg {
			return loginDoneMsg{err: a.auth.Logout(context.Background())}
		}

	case "/retry":
		return a.startRetry()

	case "/attach":
		if len(args) == 0 {
			a.status = "usage: /attach <path>"
			return nil
		}
		loaded := chat.LoadAttachments(args)
		a.pendingAttachments = append(a.pendingAttachments, loaded...)
		a.status = fmt.Sprintf("%d attachment(s) queued", len(a.pendingAttachments))
		return nil

	case "/new":
		a.transcript.Reset()
		a.pendingAttachments = nil
		a.refreshViewport()
		a.status = "new conversation"
		return nil

	case "/save":
		return a.startSave()

	case "/quit":
		a.quitting = true
		return tea.Quit

	default:
		a.status = "unknown command " + cmd
		return nil
	}
}

func (a *App) startLogin() tea.Cmd {
	if a.sender.InFlight() {
		a.status = "finish the current request first"
		return nil
	}
	a.status = "opening browser for sign-in..."
	return func() tea.Msg {
		return loginDoneMsg{err: runLoginFlow(a.cfg, a.auth)}
	}
}

func (a *App) startRetry() tea.Cmd {
	if a.sender.InFlight() {
		a.status = "still waiting for the previous reply"
		return nil
	}

	// The retry target is the last failed user message.
	var failedID string
	for _, msg := range a.transcript.Messages() {
		if msg.Role == chat.RoleUser && msg.Status == chat.StatusFailed {
			failedID = msg.ID
		}
	}
	if failedID == "" {
		a.status = "nothing to retry"
		return nil
	}

	return func() tea.Msg {
		return sendDoneMsg{err: a.sender.Retry(context.Background(), failedID)}
	}
}

func (a *App) startSave() tea.Cmd {
	if a.histStore == nil {
		a.status = "history is disabled"
		return nil
	}
	msgs := a.transcript.Messages()
	if len(msgs) == 0 {
		a.status = "nothing to save"
		return nil
	}
	model := a.model
	return func() tea.Msg {
		id, err := a.histStore.Save(context.Background(), msgs, model)
		return savedMsg{id: id, err: err}
	}
}

// runLoginFlow runs the full browser login: callback listener first,
// then the authorize redirect, then waiting for the callback.
func runLoginFlow(cfg *config.Config, auth *oidc.Authenticator) error {
	server, err := oidc.NewCallbackServer(cfg.RedirectURI(), auth, auth.Ephemeral())
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}

	ctx := context.Background()
	if err := auth.Login(ctx); err != nil {
		return err
	}
	return server.Wait(ctx)
}

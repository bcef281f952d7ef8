// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/openchat-tui/internal/chat"
	"github.com/jeranaias/openchat-tui/internal/oidc"
	"github.com/jeranaias/openchat-tui/internal/util"
)

// =============================================================================
// TRANSCRIPT RENDERING
// =============================================================================

// transcriptRenderer turns the message list into viewport content.
// Assistant messages render as markdown when enabled; everything else
// is plain text.
type transcriptRenderer struct {
	markdown bool
	width    int
	glam     *glamour.TermRenderer
}

func newTranscriptRenderer(markdown bool) *transcriptRenderer {
	return &transcriptRenderer{markdown: markdown, width: 80}
}

// setWidth rebuilds the markdown renderer for a new wrap width.
func (r *transcriptRenderer) setWidth(width int) {
	if width == r.width && (r.glam != nil || !r.markdown) {
		return
	}
	r.width = width
	r.rebuild()
}

// setMarkdown toggles markdown rendering, typically on a config reload.
func (r *transcriptRenderer) setMarkdown(enabled bool) {
	if enabled == r.markdown {
		return
	}
	r.markdown = enabled
	r.rebuild()
}

func (r *transcriptRenderer) rebuild() {
	r.glam = nil
	if !r.markdown {
		return
	}
	glam, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(max(r.width-4, 20)),
	)
	if err == nil {
		r.glam = glam
	}
}

func (r *transcriptRenderer) render(messages []chat.Message, theme *Theme) string {
	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(r.renderMessage(msg, theme))
		b.WriteString("\n")
	}
	return b.String()
}

func (r *transcriptRenderer) renderMessage(msg chat.Message, theme *Theme) string {
	switch {
	case msg.IsError:
		return theme.ErrorText.Render(msg.Content)

	case msg.Role == chat.RoleSystem:
		return theme.SystemText.Render(msg.Content)

	case msg.Role == chat.RoleUser:
		label := theme.UserLabel.Render("You")
		label += r.statusMark(msg.Status, theme)
		if n := len(msg.Attachments); n > 0 {
			label += theme.SystemText.Render(fmt.Sprintf(" [%d image(s)]", n))
		}
		return label + "\n" + msg.Content

	default: // assistant
		label := theme.AssistantLabel.Render("Assistant")
		body := msg.Content
		if r.glam != nil && body != "" {
			if rendered, err := r.glam.Render(body); err == nil {
				body = strings.TrimRight(rendered, "\n")
			}
		}
		return label + "\n" + body
	}
}

func (r *transcriptRenderer) statusMark(status chat.DeliveryStatus, theme *Theme) string {
	switch status {
	case chat.StatusPending:
		return theme.PendingMark.Render(" ○ sending")
	case chat.StatusFailed:
		return theme.FailedMark.Render(" ✗ failed")
	default:
		return ""
	}
}

// =============================================================================
// VIEW
// =============================================================================

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return ""
	}
	if !a.ready {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(a.viewport.View())
	b.WriteString("\n")
	b.WriteString(a.theme.InputBorder.Render(a.input.View()))
	b.WriteString("\n")
	b.WriteString(a.statusBar())
	return b.String()
}

// statusBar renders one line: identity, model, activity, hints.
func (a *App) statusBar() string {
	var left string
	switch a.authSnap.State {
	case oidc.StateAuthenticated:
		left = a.authSnap.User.DisplayName()
	case oidc.StateAuthenticating:
		left = "signing in..."
	case oidc.StateLoggingOut:
		left = "signing out..."
	default:
		left = "anonymous (/login to sign in)"
	}

	middle := a.model
	if a.sender.InFlight() {
		middle += " " + a.spinner.View() + "streaming"
	}
	if a.status != "" {
		middle += " · " + a.status
	}

	// Truncate before styling; ANSI codes would confuse width counting.
	if maxMiddle := a.width - runewidth.StringWidth(left) - 5; maxMiddle > 0 {
		middle = util.TruncateWidth(middle, maxMiddle)
	}

	return a.theme.StatusAccent.Render(left) + a.theme.StatusBar.Render(" │ "+middle)
}

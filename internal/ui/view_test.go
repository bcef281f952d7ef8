// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"strings"
	"testing"

	"github.com/jeranaias/openchat-tui/internal/chat"
)

func TestRenderTranscriptPlain(t *testing.T) {
	r := newTranscriptRenderer(false)
	theme := NewTheme()

	tr := chat.NewTranscript()
	u := tr.AddUser("hello there", []chat.Attachment{{Name: "a.png"}})
	tr.MarkSent(u.ID)
	a := tr.AddAssistant()
	tr.SetContent(a.ID, "hi back")
	tr.AppendError("⚠ something broke")

	out := r.render(tr.Messages(), theme)

	for _, want := range []string{"You", "hello there", "1 image(s)", "Assistant", "hi back", "something broke"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered transcript missing %q", want)
		}
	}
}

func TestRenderStatusMarks(t *testing.T) {
	r := newTranscriptRenderer(false)
	theme := NewTheme()

	tr := chat.NewTranscript()
	tr.AddUser("pending one", nil)
	out := r.render(tr.Messages(), theme)
	if !strings.Contains(out, "sending") {
		t.Error("pending message missing sending mark")
	}

	tr2 := chat.NewTranscript()
	m := tr2.AddUser("failed one", nil)
	tr2.MarkFailed(m.ID)
	out = r.render(tr2.Messages(), theme)
	if !strings.Contains(out, "failed") {
		t.Error("failed message missing failed mark")
	}

	// Sent messages carry no mark.
	tr3 := chat.NewTranscript()
	m = tr3.AddUser("sent one", nil)
	tr3.MarkSent(m.ID)
	out = r.render(tr3.Messages(), theme)
	if strings.Contains(out, "sending") || strings.Contains(out, "failed") {
		t.Error("sent message should carry no status mark")
	}
}

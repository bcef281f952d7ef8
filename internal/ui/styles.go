// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui provides the Bubble Tea terminal interface: a scrollable
// transcript viewport, a multi-line input box, and a status bar.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the lipgloss styles for the chat view. Colors degrade
// with the detected terminal profile.
type Theme struct {
	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	SystemText     lipgloss.Style
	ErrorText      lipgloss.Style
	PendingMark    lipgloss.Style
	FailedMark     lipgloss.Style
	StatusBar      lipgloss.Style
	StatusAccent   lipgloss.Style
	InputBorder    lipgloss.Style
	Help           lipgloss.Style
}

// NewTheme builds the theme for the current terminal.
func NewTheme() *Theme {
	profile := termenv.ColorProfile()
	mono := profile == termenv.Ascii

	color := func(c string) lipgloss.Color {
		if mono {
			return lipgloss.Color("")
		}
		return lipgloss.Color(c)
	}

	return &Theme{
		UserLabel:      lipgloss.NewStyle().Bold(true).Foreground(color("12")),
		AssistantLabel: lipgloss.NewStyle().Bold(true).Foreground(color("10")),
		SystemText:     lipgloss.NewStyle().Faint(true).Italic(true),
		ErrorText:      lipgloss.NewStyle().Foreground(color("9")),
		PendingMark:    lipgloss.NewStyle().Faint(true),
		FailedMark:     lipgloss.NewStyle().Foreground(color("9")).Bold(true),
		StatusBar:      lipgloss.NewStyle().Background(color("236")).Foreground(color("252")).Padding(0, 1),
		StatusAccent:   lipgloss.NewStyle().Background(color("236")).Foreground(color("14")).Bold(true),
		InputBorder:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder(), true).BorderForeground(color("240")),
		Help:           lipgloss.NewStyle().Faint(true),
	}
}

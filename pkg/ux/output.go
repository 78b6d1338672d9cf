// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the unlearn CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles are the shared lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Label:   lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),

	Box:        lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(ColorTealDeep).Padding(0, 1),
	WarningBox: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(ColorWarning).Padding(0, 1),
	ErrorBox:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(ColorError).Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon styled for the current mode.
func (i Icon) Render() string {
	if CurrentMode() != ModeRich {
		return string(i)
	}
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// Mode selects how output is rendered.
type Mode string

const (
	// ModeRich uses colors and boxes.
	ModeRich Mode = "rich"

	// ModePlain uses icons without styling.
	ModePlain Mode = "plain"

	// ModeMachine prints nothing decorative; reports go out as JSON.
	ModeMachine Mode = "machine"
)

var (
	mode   = ModeRich
	modeMu sync.RWMutex
)

// CurrentMode returns the output mode.
func CurrentMode() Mode {
	modeMu.RLock()
	defer modeMu.RUnlock()
	return mode
}

// SetMode sets the output mode.
func SetMode(m Mode) {
	modeMu.Lock()
	defer modeMu.Unlock()
	mode = m
}

// ParseMode converts a flag value. Unknown values return ModeRich.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain", "p":
		return ModePlain
	case "machine", "json", "quiet", "q":
		return ModeMachine
	default:
		return ModeRich
	}
}

// InitMode picks the mode from UNLEARN_OUTPUT, falling back to plain when
// stdout is not a terminal.
func InitMode() {
	if env := os.Getenv("UNLEARN_OUTPUT"); env != "" {
		SetMode(ParseMode(env))
		return
	}
	if !IsTerminal(os.Stdout) {
		SetMode(ModePlain)
		return
	}
	SetMode(ModeRich)
}

// IsTerminal reports whether f is a terminal, including Cygwin ptys.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// IsInteractive reports whether prompts can be shown.
func IsInteractive() bool {
	return CurrentMode() != ModeMachine && IsTerminal(os.Stdin) && IsTerminal(os.Stdout)
}

func style(s lipgloss.Style, text string) string {
	if CurrentMode() != ModeRich {
		return text
	}
	return s.Render(text)
}

// Title writes a styled heading.
func Title(w io.Writer, text string) {
	if CurrentMode() == ModeMachine {
		return
	}
	fmt.Fprintln(w, style(Styles.Title, text))
}

// Success writes a success line.
func Success(w io.Writer, msg string) {
	if CurrentMode() == ModeMachine {
		return
	}
	fmt.Fprintf(w, "%s %s\n", IconSuccess.Render(), msg)
}

// Warn writes a warning line.
func Warn(w io.Writer, msg string) {
	if CurrentMode() == ModeMachine {
		return
	}
	fmt.Fprintf(w, "%s %s\n", IconWarning.Render(), style(Styles.Warning, msg))
}

// Error writes an error line. It is printed in every mode.
func Error(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s %s\n", IconError.Render(), style(Styles.Error, msg))
}

// truncate shortens s to maxLen runes, ending in "...".
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return string(r[:maxLen-3]) + "..."
}

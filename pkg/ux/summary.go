// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"strings"
)

// Status is the overall state shown in a summary box.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusFailed
)

// Row is one label/value line of a summary.
type Row struct {
	Label string
	Value string
}

// Summary is a boxed result panel.
type Summary struct {
	Title  string
	Status Status
	Rows   []Row

	// Notes are listed under the rows, one bullet each.
	Notes []string
}

// Render returns the panel for the current mode. ModeMachine renders
// nothing.
func (s Summary) Render() string {
	mode := CurrentMode()
	if mode == ModeMachine {
		return ""
	}

	width := 0
	for _, r := range s.Rows {
		if n := len(r.Label); n > width {
			width = n
		}
	}

	var b strings.Builder
	icon := IconSuccess
	switch s.Status {
	case StatusWarning:
		icon = IconWarning
	case StatusFailed:
		icon = IconError
	}
	fmt.Fprintf(&b, "%s %s\n", icon.Render(), style(Styles.Title, s.Title))
	for _, r := range s.Rows {
		label := fmt.Sprintf("%-*s", width, r.Label)
		fmt.Fprintf(&b, "  %s  %s\n", style(Styles.Label, label), r.Value)
	}
	for _, n := range s.Notes {
		fmt.Fprintf(&b, "  %s %s\n", IconBullet, style(Styles.Muted, truncate(n, 160)))
	}
	body := strings.TrimRight(b.String(), "\n")

	if mode != ModeRich {
		return body + "\n"
	}
	box := Styles.Box
	switch s.Status {
	case StatusWarning:
		box = Styles.WarningBox
	case StatusFailed:
		box = Styles.ErrorBox
	}
	return box.Render(body) + "\n"
}

// Print writes the panel to w.
func (s Summary) Print(w io.Writer) {
	if out := s.Render(); out != "" {
		fmt.Fprint(w, out)
	}
}

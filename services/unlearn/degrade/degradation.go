// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package degrade tracks the availability of optional collaborators (LLM
// endpoints, the remote vector mirror) so callers can fall back instead of
// failing the deletion.
package degrade

import (
	"log/slog"
	"sync/atomic"
)

// -----------------------------------------------------------------------------
// Degradation Mode
// -----------------------------------------------------------------------------

// Mode represents the operational mode of a collaborator.
type Mode int32

const (
	// ModeNormal indicates full functionality.
	ModeNormal Mode = iota
	// ModeDegraded indicates the fallback path is in use.
	ModeDegraded
	// ModeDisabled indicates the collaborator is switched off by config.
	ModeDisabled
)

// String returns the string representation of Mode.
func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeDegraded:
		return "degraded"
	case ModeDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Handler
// -----------------------------------------------------------------------------

// Handler is notified of collaborator availability changes.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Handler interface {
	// OnDegraded is called when the collaborator fails.
	OnDegraded(reason string)

	// OnRecovered is called after a successful call while degraded.
	OnRecovered()

	// Mode returns the current degradation mode.
	Mode() Mode
}

// Tracker is the basic Handler implementation.
//
// # Description
//
// Tracks the mode and logs transitions once, not on every failed call.
// Degradations counts every OnDegraded call for the deletion report.
//
// # Thread Safety
//
// Safe for concurrent use.
type Tracker struct {
	name         string
	mode         atomic.Int32
	degradations atomic.Int64
	logger       *slog.Logger
}

// NewTracker creates a tracker for the named collaborator. A nil logger uses
// slog.Default().
func NewTracker(name string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		name:   name,
		logger: logger.With(slog.String("component", name)),
	}
}

// Name returns the collaborator name.
func (t *Tracker) Name() string { return t.name }

// OnDegraded marks the collaborator as degraded.
func (t *Tracker) OnDegraded(reason string) {
	t.degradations.Add(1)
	if t.Mode() == ModeDisabled {
		return
	}
	if Mode(t.mode.Swap(int32(ModeDegraded))) != ModeDegraded {
		t.logger.Warn("collaborator degraded, using fallback",
			slog.String("reason", reason))
	}
}

// OnRecovered marks the collaborator as normal.
func (t *Tracker) OnRecovered() {
	if t.mode.CompareAndSwap(int32(ModeDegraded), int32(ModeNormal)) {
		t.logger.Info("collaborator recovered")
	}
}

// Mode returns the current mode.
func (t *Tracker) Mode() Mode {
	return Mode(t.mode.Load())
}

// SetDisabled explicitly disables the collaborator.
func (t *Tracker) SetDisabled() {
	t.mode.Store(int32(ModeDisabled))
	t.logger.Info("collaborator disabled")
}

// IsNormal returns true if operating normally.
func (t *Tracker) IsNormal() bool { return t.Mode() == ModeNormal }

// Degradations returns how many failures were recorded.
func (t *Tracker) Degradations() int64 { return t.degradations.Load() }

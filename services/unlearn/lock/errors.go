// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock guards a GraphRAG cache directory against concurrent
// unlearning runs and reports store files modified by other processes while
// a run holds the directory.
package lock

import (
	"errors"
	"fmt"
)

// ErrFileLocked is returned when another process holds the cache lock.
var ErrFileLocked = errors.New("cache directory is locked by another process")

// FileLockError describes a failed lock acquisition.
type FileLockError struct {
	// Path is the lock file.
	Path string

	// HolderPID is the PID recorded by the holder, zero when unknown.
	HolderPID int

	// Err is the underlying cause, usually ErrFileLocked.
	Err error
}

func (e *FileLockError) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("lock %s: held by PID %d: %v", e.Path, e.HolderPID, e.Err)
	}
	return fmt.Sprintf("lock %s: %v", e.Path, e.Err)
}

func (e *FileLockError) Unwrap() error { return e.Err }

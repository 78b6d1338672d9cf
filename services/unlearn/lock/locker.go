// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import "os"

// FileLocker abstracts platform-specific advisory locking.
//
// # Description
//
// Lock is non-blocking and returns ErrFileLocked when the file is held
// through another open file description. Unix uses flock(2), Windows uses
// LockFileEx on the first byte.
//
// # Thread Safety
//
// Implementations are safe for concurrent use on different files.
type FileLocker interface {
	Lock(f *os.File) error
	Unlock(f *os.File) error
}

// ProcessAlive reports whether a process with the given PID exists.
//
// # Description
//
// Used to tell an interrupted run's journal entry from a live one. PIDs
// less than one are never alive.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return processAlive(pid)
}

func newFileLocker() FileLocker {
	return newPlatformLocker()
}

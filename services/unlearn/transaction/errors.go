// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transaction makes a deletion run all-or-nothing.
//
// Before any store is rewritten, Manager.Begin copies the mutable stores
// into a timestamped backup directory and journals the run in BadgerDB.
// A failed run is rolled back from that copy. Runs whose process died are
// found in the journal and restored by RecoverStale.
package transaction

import "errors"

var (
	// ErrNoActiveTransaction is returned by Commit and Rollback outside a run.
	ErrNoActiveTransaction = errors.New("no active transaction")

	// ErrTransactionActive is returned by Begin while a run is in progress.
	ErrTransactionActive = errors.New("transaction already active")

	// ErrNoBackup is returned by Rollback when the run was started without
	// a backup.
	ErrNoBackup = errors.New("transaction has no backup")

	// ErrBackupNotFound is returned when a named backup does not exist.
	ErrBackupNotFound = errors.New("backup not found")

	// ErrBackupIncomplete is returned for a backup directory without a
	// manifest, i.e. one whose copy never finished.
	ErrBackupIncomplete = errors.New("backup is incomplete")

	// ErrRecordNotFound is returned by Journal.Get for unknown IDs.
	ErrRecordNotFound = errors.New("journal record not found")
)

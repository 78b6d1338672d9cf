// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store reads and writes the on-disk GraphRAG cache files touched by
// the unlearn pipeline: the GraphML entity graph, the community report store,
// the text chunk store and the entity vector store.
//
// Every writer goes through WriteFileAtomic so an interrupted run never
// leaves a half-written file behind.
package store

import (
	"errors"
	"fmt"
	"os"
)

// Sentinel errors for store operations.
var (
	// ErrDataFileMissing indicates a required store file does not exist.
	ErrDataFileMissing = errors.New("data file missing")

	// ErrDataFileCorrupt indicates a store file exists but cannot be parsed
	// or violates a structural invariant.
	ErrDataFileCorrupt = errors.New("data file corrupt")
)

// readFile wraps os.ReadFile and maps a missing file onto ErrDataFileMissing.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDataFileMissing, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func corrupt(path string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDataFileCorrupt, path, err)
}

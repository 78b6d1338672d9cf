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

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeType classifies an external modification.
type ChangeType int

const (
	ChangeWrite ChangeType = iota
	ChangeDelete
	ChangeRename
)

func (c ChangeType) String() string {
	switch c {
	case ChangeWrite:
		return "write"
	case ChangeDelete:
		return "delete"
	case ChangeRename:
		return "rename"
	default:
		return "unknown"
	}
}

// ExternalChange is a store file modified by someone other than the run.
type ExternalChange struct {
	Path string
	Type ChangeType
}

func (c ExternalChange) String() string {
	return fmt.Sprintf("%s (%s)", c.Path, c.Type)
}

type fileStamp struct {
	exists  bool
	size    int64
	modTime time.Time
}

func stampOf(path string) fileStamp {
	fi, err := os.Stat(path)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{exists: true, size: fi.Size(), modTime: fi.ModTime()}
}

// Watcher detects modifications of a fixed set of files made outside the
// current run.
//
// # Description
//
// The parent directories are watched with fsnotify so atomic renames onto
// a watched name are seen. Events only mark a file dirty. The run records
// the state it left each file in with Expect, and Changes reports the dirty
// files whose current state differs from that record.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Watcher struct {
	w      *fsnotify.Watcher
	logger *slog.Logger
	done   chan struct{}

	mu       sync.Mutex
	files    map[string]bool
	expected map[string]fileStamp
	dirty    map[string]ChangeType
}

// Watch starts watching paths. Their current state is the initial
// expectation.
func (m *FileLockManager) Watch(paths ...string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	w := &Watcher{
		w:        fw,
		logger:   m.logger.With("component", "lock.Watcher"),
		done:     make(chan struct{}),
		files:    make(map[string]bool),
		expected: make(map[string]fileStamp),
		dirty:    make(map[string]ChangeType),
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		w.files[abs] = true
		w.expected[abs] = stampOf(abs)
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	go w.loop()
	return w, nil
}

// Expect records the current state of paths as written by the run.
func (w *Watcher) Expect(paths ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || !w.files[abs] {
			continue
		}
		w.expected[abs] = stampOf(abs)
	}
}

// Changes returns the files modified externally since their last Expect,
// sorted by path.
func (w *Watcher) Changes() []ExternalChange {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []ExternalChange
	for path, typ := range w.dirty {
		now := stampOf(path)
		want := w.expected[path]
		if now.exists == want.exists && now.size == want.size && now.modTime.Equal(want.modTime) {
			continue
		}
		if !now.exists {
			typ = ChangeDelete
		}
		out = append(out, ExternalChange{Path: path, Type: typ})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Close stops watching.
func (w *Watcher) Close() error {
	err := w.w.Close()
	<-w.done
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	var typ ChangeType
	switch {
	case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
		typ = ChangeWrite
	case ev.Has(fsnotify.Remove):
		typ = ChangeDelete
	case ev.Has(fsnotify.Rename):
		typ = ChangeRename
	default:
		return
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.files[abs] {
		return
	}
	if _, seen := w.dirty[abs]; !seen {
		w.logger.Debug("store file event", "path", abs, "op", ev.Op.String())
	}
	w.dirty[abs] = typ
}

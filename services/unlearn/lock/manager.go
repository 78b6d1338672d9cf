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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultLockName is the lock file created inside a cache directory.
const DefaultLockName = ".unlearn.lock"

// LockInfo is written into a held lock file.
type LockInfo struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	Reason     string    `json:"reason,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// ManagerConfig configures a FileLockManager.
type ManagerConfig struct {
	// LockName is the lock file name inside each cache directory.
	// Default: .unlearn.lock
	LockName string

	// Logger receives lock events. Default: slog.Default()
	Logger *slog.Logger
}

// FileLockManager holds exclusive locks on cache directories.
//
// # Description
//
// One lock file per directory is locked with the platform FileLocker and
// carries a LockInfo record naming the holder. Acquiring a directory this
// manager already holds is a no-op.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type FileLockManager struct {
	lockName string
	locker   FileLocker
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*os.File
}

// NewFileLockManager creates a manager. Zero config fields take defaults.
func NewFileLockManager(cfg ManagerConfig) *FileLockManager {
	if cfg.LockName == "" {
		cfg.LockName = DefaultLockName
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FileLockManager{
		lockName: cfg.LockName,
		locker:   newFileLocker(),
		logger:   cfg.Logger.With("component", "lock.FileLockManager"),
		locks:    make(map[string]*os.File),
	}
}

// LockPath returns the lock file of dir.
func (m *FileLockManager) LockPath(dir string) string {
	return filepath.Join(dir, m.lockName)
}

// Acquire takes the exclusive lock on dir.
//
// # Inputs
//
//   - dir: Cache directory. Must exist.
//   - reason: Free text stored in the lock info.
//
// # Outputs
//
//   - error: *FileLockError wrapping ErrFileLocked when another holder
//     exists, a wrapped I/O error otherwise.
func (m *FileLockManager) Acquire(dir, reason string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", dir, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locks[abs]; ok {
		return nil
	}

	path := m.LockPath(abs)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("opening lock file %s: %w", path, err)
	}
	if err := m.locker.Lock(f); err != nil {
		f.Close()
		lerr := &FileLockError{Path: path, Err: err}
		if errors.Is(err, ErrFileLocked) {
			if info, rerr := readLockInfo(path); rerr == nil {
				lerr.HolderPID = info.PID
			}
		}
		return lerr
	}

	host, _ := os.Hostname()
	info := LockInfo{PID: os.Getpid(), Host: host, Reason: reason, AcquiredAt: time.Now().UTC()}
	if err := writeLockInfo(f, info); err != nil {
		m.logger.Warn("failed to write lock info", "path", path, "error", err)
	}

	m.locks[abs] = f
	m.logger.Debug("acquired cache lock", "path", path, "reason", reason)
	return nil
}

// Release drops the lock on dir. Releasing an unheld directory is a no-op.
func (m *FileLockManager) Release(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", dir, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.locks[abs]
	if !ok {
		return nil
	}
	delete(m.locks, abs)
	return m.release(f)
}

// ReleaseAll drops every held lock and returns the first error.
func (m *FileLockManager) ReleaseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var first error
	for dir, f := range m.locks {
		delete(m.locks, dir)
		if err := m.release(f); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *FileLockManager) release(f *os.File) error {
	// The info is cleared before unlocking so a new holder never sees ours.
	_ = f.Truncate(0)
	uerr := m.locker.Unlock(f)
	cerr := f.Close()
	if uerr != nil {
		return fmt.Errorf("unlocking %s: %w", f.Name(), uerr)
	}
	if cerr != nil {
		return fmt.Errorf("closing %s: %w", f.Name(), cerr)
	}
	m.logger.Debug("released cache lock", "path", f.Name())
	return nil
}

// Held reports whether this manager holds dir.
func (m *FileLockManager) Held(dir string) bool {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locks[abs]
	return ok
}

// Holder returns the lock info recorded in dir's lock file.
//
// # Outputs
//
//   - *LockInfo: The recorded holder, nil when the file is absent or empty.
//   - error: Non-nil when the file exists but cannot be read or decoded.
func (m *FileLockManager) Holder(dir string) (*LockInfo, error) {
	info, err := readLockInfo(m.LockPath(dir))
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, errEmptyLockFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return info, nil
}

var errEmptyLockFile = errors.New("empty lock file")

func writeLockInfo(f *os.File, info LockInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return err
	}
	return f.Sync()
}

func readLockInfo(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errEmptyLockFile
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decoding lock info %s: %w", path, err)
	}
	return &info, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/lock"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

var tracer = otel.Tracer("unlearn.transaction")

// Config configures a Manager.
type Config struct {
	// Root is the backup root. Default: <cache>/.deletion_backups
	Root string

	// MaxBackups is the number of complete backups kept after a commit.
	// Zero keeps all.
	MaxBackups int

	// Hops is the anonymization depth, used to name hop side files.
	Hops int
}

// Transaction is the active run.
type Transaction struct {
	ID        string
	Entity    string
	StartedAt time.Time

	// Backup is nil when backups are disabled.
	Backup *Manifest
}

// Manager owns the transaction lifecycle of one cache directory.
//
// # Description
//
// At most one transaction is active at a time. The journal and archiver
// are optional: without a journal RecoverStale finds nothing, and archive
// failures are logged and never fail a commit.
//
// # Thread Safety
//
// Safe for concurrent use, though runs are sequential by construction.
type Manager struct {
	layout   store.Layout
	cfg      Config
	journal  *Journal
	archiver Archiver
	logger   *slog.Logger

	now   func() time.Time
	newID func() string

	mu     sync.Mutex
	active *Transaction
}

// NewManager creates a manager for layout.
func NewManager(layout store.Layout, cfg Config, journal *Journal, archiver Archiver, logger *slog.Logger) *Manager {
	if cfg.Root == "" {
		cfg.Root = filepath.Join(layout.CacheDir, BackupDirName)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		layout:   layout,
		cfg:      cfg,
		journal:  journal,
		archiver: archiver,
		logger:   logger.With("component", "transaction.Manager", "cache_dir", layout.CacheDir),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Root returns the backup root.
func (m *Manager) Root() string { return m.cfg.Root }

// Active returns the running transaction, nil outside a run.
func (m *Manager) Active() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Begin starts a run for entity.
//
// # Description
//
// Backs up the mutable stores when backup is set, then journals the run
// in StateBegun. Nothing is journaled if the backup fails. Without a
// backup a failed run cannot be rolled back.
//
// # Outputs
//
//   - *Transaction: The active run.
//   - error: ErrTransactionActive, or a backup/journal failure.
func (m *Manager) Begin(ctx context.Context, entity string, backup bool) (*Transaction, error) {
	ctx, span := tracer.Start(ctx, "Manager.Begin")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionActive, m.active.ID)
	}

	tx := &Transaction{ID: m.newID(), Entity: entity, StartedAt: m.now().UTC()}
	span.SetAttributes(attribute.String("txn.id", tx.ID), attribute.Bool("backup", backup))

	if backup {
		manifest, err := CreateBackup(m.cfg.Root, tx.ID, entity, m.layout.CacheDir, m.layout.MutableStores(), tx.StartedAt)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("creating backup: %w", err)
		}
		tx.Backup = manifest
		m.logger.Info("backup created", "txn_id", tx.ID, "dir", manifest.Dir)
	} else {
		m.logger.Warn("backups disabled; a failed run cannot be rolled back", "txn_id", tx.ID)
	}

	if err := m.record(ctx, tx, StateBegun, nil); err != nil {
		if tx.Backup != nil {
			os.RemoveAll(tx.Backup.Dir)
		}
		return nil, err
	}
	m.active = tx
	return tx, nil
}

// Commit ends the active run successfully.
//
// # Description
//
// Marks the journal record committed, archives the backup when an
// archiver is configured and rotates old backups. Archive and rotation
// failures are logged only.
func (m *Manager) Commit(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Manager.Commit")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	tx := m.active
	if tx == nil {
		return ErrNoActiveTransaction
	}
	if err := m.record(ctx, tx, StateCommitted, nil); err != nil {
		return err
	}
	m.active = nil

	if tx.Backup != nil && m.archiver != nil {
		if uri, err := m.archiver.Archive(ctx, tx.Backup.Dir); err != nil {
			m.logger.Warn("backup archive failed", "txn_id", tx.ID, "error", err)
		} else {
			m.logger.Info("backup archived", "txn_id", tx.ID, "uri", uri)
		}
	}
	if removed, err := Rotate(m.cfg.Root, m.cfg.MaxBackups); err != nil {
		m.logger.Warn("backup rotation failed", "error", err)
	} else if len(removed) > 0 {
		m.logger.Info("rotated old backups", "removed", len(removed))
	}
	m.logger.Info("transaction committed", "txn_id", tx.ID, "entity", tx.Entity)
	return nil
}

// Rollback restores the stores from the active run's backup.
//
// # Inputs
//
//   - cause: The failure that triggered the rollback. Journaled.
//
// # Outputs
//
//   - error: ErrNoActiveTransaction, ErrNoBackup (the run still ends), or
//     a restore failure (the run stays active so the caller may retry).
func (m *Manager) Rollback(ctx context.Context, cause error) error {
	ctx, span := tracer.Start(ctx, "Manager.Rollback")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	tx := m.active
	if tx == nil {
		return ErrNoActiveTransaction
	}
	if tx.Backup == nil {
		m.active = nil
		if err := m.record(ctx, tx, StateRolledBack, cause); err != nil {
			m.logger.Warn("journal update failed", "txn_id", tx.ID, "error", err)
		}
		return ErrNoBackup
	}

	if err := tx.Backup.Restore(m.layout.CacheDir); err != nil {
		span.RecordError(err)
		return fmt.Errorf("restoring backup %s: %w", tx.Backup.Dir, err)
	}
	m.active = nil
	if err := m.record(ctx, tx, StateRolledBack, cause); err != nil {
		m.logger.Warn("journal update failed", "txn_id", tx.ID, "error", err)
	}
	m.logger.Warn("transaction rolled back", "txn_id", tx.ID, "entity", tx.Entity, "cause", cause)
	return nil
}

// Cleanup removes the run's intermediate side files. Missing files are
// ignored. It is called whatever the outcome of the run.
func (m *Manager) Cleanup() error {
	var errs []error
	for _, p := range m.layout.SideFiles(m.cfg.Hops) {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ListBackups returns the complete backups of this cache, newest first.
func (m *Manager) ListBackups() ([]*Manifest, error) {
	return ListBackups(m.cfg.Root)
}

// RestoreBackup restores the backup directory name (relative to the root)
// into the cache directory. It refuses while a run is active.
func (m *Manager) RestoreBackup(ctx context.Context, name string) (*Manifest, error) {
	_, span := tracer.Start(ctx, "Manager.RestoreBackup")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionActive, m.active.ID)
	}
	manifest, err := LoadBackup(filepath.Join(m.cfg.Root, filepath.Base(name)))
	if err != nil {
		return nil, err
	}
	if err := manifest.Restore(m.layout.CacheDir); err != nil {
		return nil, err
	}
	m.logger.Info("backup restored", "dir", manifest.Dir, "entity", manifest.Entity)
	return manifest, nil
}

// RecoverStale restores the backups of runs whose process died.
//
// # Description
//
// A journal record still in StateBegun for this cache directory, written
// on this host by a PID that is no longer alive, belongs to an interrupted
// run. Its backup is restored and the record marked recovered. Records
// from other hosts are left alone. Records without a backup are marked
// recovered without restoring.
//
// # Outputs
//
//   - []Record: Recovered records.
//   - error: Journal or restore failure. Records recovered before the
//     failure are still returned.
func (m *Manager) RecoverStale(ctx context.Context) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "Manager.RecoverStale")
	defer span.End()

	if m.journal == nil {
		return nil, nil
	}
	pending, err := m.journal.Pending(ctx)
	if err != nil {
		return nil, err
	}
	host, _ := os.Hostname()

	var recovered []Record
	for _, rec := range pending {
		if rec.CacheDir != m.layout.CacheDir || rec.Host != host {
			continue
		}
		if rec.PID == os.Getpid() || lock.ProcessAlive(rec.PID) {
			continue
		}
		if rec.BackupDir != "" {
			manifest, err := LoadBackup(rec.BackupDir)
			if err != nil {
				return recovered, fmt.Errorf("recovering %s: %w", rec.ID, err)
			}
			if err := manifest.Restore(m.layout.CacheDir); err != nil {
				return recovered, fmt.Errorf("recovering %s: %w", rec.ID, err)
			}
		}
		rec.State = StateRecovered
		if err := m.journal.Put(ctx, rec); err != nil {
			return recovered, err
		}
		m.logger.Warn("recovered interrupted run", "txn_id", rec.ID, "entity", rec.Entity, "pid", rec.PID)
		recovered = append(recovered, rec)
	}
	span.SetAttributes(attribute.Int("recovered", len(recovered)))
	return recovered, nil
}

func (m *Manager) record(ctx context.Context, tx *Transaction, state State, cause error) error {
	if m.journal == nil {
		return nil
	}
	host, _ := os.Hostname()
	rec := Record{
		ID:        tx.ID,
		Entity:    tx.Entity,
		CacheDir:  m.layout.CacheDir,
		PID:       os.Getpid(),
		Host:      host,
		State:     state,
		StartedAt: tx.StartedAt,
	}
	if tx.Backup != nil {
		rec.BackupDir = tx.Backup.Dir
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := m.journal.Put(ctx, rec); err != nil {
		return fmt.Errorf("journaling %s: %w", state, err)
	}
	return nil
}

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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/storage/badger"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// deadPID is above the Linux pid_max ceiling and never names a process.
const deadPID = 1 << 30

type fakeArchiver struct {
	dirs []string
	err  error
}

func (a *fakeArchiver) Archive(_ context.Context, dir string) (string, error) {
	a.dirs = append(a.dirs, dir)
	if a.err != nil {
		return "", a.err
	}
	return "gs://bucket/" + filepath.Base(dir), nil
}

func (a *fakeArchiver) Close() error { return nil }

func newJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewJournal(db, nil)
}

func newManager(t *testing.T, l store.Layout, cfg Config, j *Journal, a Archiver) *Manager {
	t.Helper()
	m := NewManager(l, cfg, j, a, nil)
	tick := backupTime
	m.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return m
}

func TestManager_BeginCommit(t *testing.T) {
	ctx := context.Background()
	l := newCache(t)
	j := newJournal(t)
	arch := &fakeArchiver{}
	m := newManager(t, l, Config{}, j, arch)

	tx, err := m.Begin(ctx, "Dumbledore", true)
	require.NoError(t, err)
	require.NotNil(t, tx.Backup)
	assert.Same(t, tx, m.Active())

	_, err = m.Begin(ctx, "Hagrid", true)
	assert.True(t, errors.Is(err, ErrTransactionActive))

	rec, err := j.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, StateBegun, rec.State)
	assert.Equal(t, tx.Backup.Dir, rec.BackupDir)
	assert.Equal(t, os.Getpid(), rec.PID)

	require.NoError(t, m.Commit(ctx))
	assert.Nil(t, m.Active())
	assert.Equal(t, []string{tx.Backup.Dir}, arch.dirs)

	rec, err = j.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, rec.State)

	assert.True(t, errors.Is(m.Commit(ctx), ErrNoActiveTransaction))
	assert.True(t, errors.Is(m.Rollback(ctx, nil), ErrNoActiveTransaction))
}

func TestManager_CommitSurvivesArchiveFailureAndRotates(t *testing.T) {
	ctx := context.Background()
	l := newCache(t)
	m := newManager(t, l, Config{MaxBackups: 2}, nil, &fakeArchiver{err: errors.New("offline")})

	for _, e := range []string{"Dumbledore", "Hagrid", "McGonagall"} {
		_, err := m.Begin(ctx, e, true)
		require.NoError(t, err)
		require.NoError(t, m.Commit(ctx))
	}

	backups, err := m.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "McGonagall", backups[0].Entity)
	assert.Equal(t, "Hagrid", backups[1].Entity)
}

func TestManager_RollbackRestores(t *testing.T) {
	ctx := context.Background()
	l := newCache(t)
	j := newJournal(t)
	m := newManager(t, l, Config{}, j, nil)

	tx, err := m.Begin(ctx, "Dumbledore", true)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(l.Graph(), []byte("<graphml>half written</graphml>"), 0o644))

	require.NoError(t, m.Rollback(ctx, errors.New("clustering exploded")))
	assert.Equal(t, "<graphml>original</graphml>", readFile(t, l.Graph()))
	assert.Nil(t, m.Active())

	rec, err := j.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRolledBack, rec.State)
	assert.Equal(t, "clustering exploded", rec.Error)
}

func TestManager_NoBackup(t *testing.T) {
	ctx := context.Background()
	l := newCache(t)
	m := newManager(t, l, Config{}, nil, nil)

	tx, err := m.Begin(ctx, "Dumbledore", false)
	require.NoError(t, err)
	assert.Nil(t, tx.Backup)
	assert.NoDirExists(t, m.Root())

	assert.True(t, errors.Is(m.Rollback(ctx, nil), ErrNoBackup))
	assert.Nil(t, m.Active(), "the run ends even without a backup")
}

func TestManager_CleanupRemovesSideFiles(t *testing.T) {
	l := newCache(t)
	m := newManager(t, l, Config{Hops: 3}, nil, nil)

	for _, name := range []string{store.OneHopFile, store.ChangeFlagFile, store.SubgraphFile} {
		require.NoError(t, os.WriteFile(l.Work(name), []byte("x"), 0o644))
	}
	require.NoError(t, m.Cleanup())
	for _, p := range l.SideFiles(3) {
		assert.NoFileExists(t, p)
	}
	assert.FileExists(t, l.Graph())
	require.NoError(t, m.Cleanup(), "cleanup is idempotent")
}

func TestManager_RestoreBackup(t *testing.T) {
	ctx := context.Background()
	l := newCache(t)
	m := newManager(t, l, Config{}, nil, nil)

	tx, err := m.Begin(ctx, "Dumbledore", true)
	require.NoError(t, err)
	_, err = m.RestoreBackup(ctx, filepath.Base(tx.Backup.Dir))
	assert.True(t, errors.Is(err, ErrTransactionActive))
	require.NoError(t, m.Commit(ctx))

	require.NoError(t, os.WriteFile(l.Chunks(), []byte(`{"chunk-1": "[mask] was here"}`), 0o644))
	manifest, err := m.RestoreBackup(ctx, filepath.Base(tx.Backup.Dir))
	require.NoError(t, err)
	assert.Equal(t, "Dumbledore", manifest.Entity)
	assert.Equal(t, `{"chunk-1": "Dumbledore was here"}`, readFile(t, l.Chunks()))

	_, err = m.RestoreBackup(ctx, "nope")
	assert.True(t, errors.Is(err, ErrBackupNotFound))
}

func TestManager_RecoverStale(t *testing.T) {
	ctx := context.Background()
	l := newCache(t)
	j := newJournal(t)
	m := newManager(t, l, Config{}, j, nil)
	host, _ := os.Hostname()

	manifest, err := CreateBackup(m.Root(), "dead", "Dumbledore", l.CacheDir, l.MutableStores(), backupTime)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(l.Graph(), []byte("<graphml>interrupted</graphml>"), 0o644))

	records := []Record{
		{ID: "dead", Entity: "Dumbledore", CacheDir: l.CacheDir, BackupDir: manifest.Dir, PID: deadPID, Host: host, State: StateBegun, StartedAt: backupTime},
		{ID: "alive", Entity: "Hagrid", CacheDir: l.CacheDir, PID: os.Getpid(), Host: host, State: StateBegun, StartedAt: backupTime},
		{ID: "remote", Entity: "Snape", CacheDir: l.CacheDir, PID: deadPID, Host: host + "-elsewhere", State: StateBegun, StartedAt: backupTime},
		{ID: "done", Entity: "Filch", CacheDir: l.CacheDir, PID: deadPID, Host: host, State: StateCommitted, StartedAt: backupTime},
	}
	for _, r := range records {
		require.NoError(t, j.Put(ctx, r))
	}

	recovered, err := m.RecoverStale(ctx)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, "dead", recovered[0].ID)
	assert.Equal(t, "<graphml>original</graphml>", readFile(t, l.Graph()))

	rec, err := j.Get(ctx, "dead")
	require.NoError(t, err)
	assert.Equal(t, StateRecovered, rec.State)

	pending, err := j.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	again, err := m.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestJournal_GetMissing(t *testing.T) {
	_, err := newJournal(t).Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrRecordNotFound))
}

func TestOpenJournal_Persists(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()

	j, err := OpenJournal(path, nil)
	require.NoError(t, err)
	require.NoError(t, j.Put(ctx, Record{ID: "a", Entity: "Dumbledore", State: StateCommitted}))
	require.NoError(t, j.Close())

	j, err = OpenJournal(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	all, err := j.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Dumbledore", all[0].Entity)
}

func TestNewGCSArchiver_Validation(t *testing.T) {
	_, err := NewGCSArchiver(context.Background(), GCSConfig{}, nil)
	assert.Error(t, err)

	_, err = NewGCSArchiver(context.Background(), GCSConfig{Bucket: "b", CredentialsFile: filepath.Join(t.TempDir(), "missing.json")}, nil)
	assert.Error(t, err)
}

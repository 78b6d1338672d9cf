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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store/storetest"
)

var backupTime = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func TestBackupName(t *testing.T) {
	tests := []struct {
		entity string
		want   string
	}{
		{"Dumbledore", "Dumbledore_20250304_050607"},
		{"Albus Dumbledore!", "Albus_Dumbledore_20250304_050607"},
		{"../etc/passwd", "etc_passwd_20250304_050607"},
		{"!!!", "entity_20250304_050607"},
		{strings.Repeat("a", 100), strings.Repeat("a", maxNameLength) + "_20250304_050607"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BackupName(tt.entity, backupTime), tt.entity)
	}
}

// newCache writes a graph and a chunk store; communities and vectors are
// absent.
func newCache(t *testing.T) store.Layout {
	t.Helper()
	dir := t.TempDir()
	storetest.WriteFile(t, dir, store.GraphFile, "<graphml>original</graphml>")
	storetest.WriteFile(t, dir, store.ChunksFile, `{"chunk-1": "Dumbledore was here"}`)
	return store.NewLayout(dir)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestCreateBackup_RestoreRoundTrip(t *testing.T) {
	l := newCache(t)
	root := filepath.Join(l.CacheDir, BackupDirName)

	m, err := CreateBackup(root, "txn-1", "Dumbledore", l.CacheDir, l.MutableStores(), backupTime)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Dumbledore_20250304_050607"), m.Dir)
	require.Len(t, m.Files, 4)
	assert.True(t, m.Files[0].Existed)
	assert.False(t, m.Files[1].Existed, "community store was absent")
	assert.FileExists(t, filepath.Join(m.Dir, ManifestFile))

	require.NoError(t, os.WriteFile(l.Graph(), []byte("<graphml>edited</graphml>"), 0o644))
	require.NoError(t, os.WriteFile(l.Vectors(), []byte("{}"), 0o644))

	loaded, err := LoadBackup(m.Dir)
	require.NoError(t, err)
	assert.Equal(t, "txn-1", loaded.ID)
	require.NoError(t, loaded.Restore(""))

	assert.Equal(t, "<graphml>original</graphml>", readFile(t, l.Graph()))
	assert.Equal(t, `{"chunk-1": "Dumbledore was here"}`, readFile(t, l.Chunks()))
	assert.NoFileExists(t, l.Vectors(), "files absent at backup time are removed")
}

func TestCreateBackup_SameSecondGetsSuffix(t *testing.T) {
	l := newCache(t)
	root := filepath.Join(l.CacheDir, BackupDirName)

	first, err := CreateBackup(root, "a", "Hagrid", l.CacheDir, l.MutableStores(), backupTime)
	require.NoError(t, err)
	second, err := CreateBackup(root, "b", "Hagrid", l.CacheDir, l.MutableStores(), backupTime)
	require.NoError(t, err)

	assert.NotEqual(t, first.Dir, second.Dir)
	assert.True(t, strings.HasSuffix(second.Dir, "_2"))
}

func TestLoadBackup_Errors(t *testing.T) {
	root := t.TempDir()

	_, err := LoadBackup(filepath.Join(root, "missing"))
	assert.True(t, errors.Is(err, ErrBackupNotFound))

	partial := filepath.Join(root, "Dumbledore_20250304_050607")
	require.NoError(t, os.Mkdir(partial, 0o750))
	_, err = LoadBackup(partial)
	assert.True(t, errors.Is(err, ErrBackupIncomplete))
}

func TestRotate_KeepsNewest(t *testing.T) {
	l := newCache(t)
	root := filepath.Join(l.CacheDir, BackupDirName)
	for i := 0; i < 3; i++ {
		_, err := CreateBackup(root, "txn", "Snape", l.CacheDir, l.MutableStores(), backupTime.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	require.NoError(t, os.Mkdir(filepath.Join(root, "incomplete"), 0o750))

	removed, err := Rotate(root, 1)
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	left, err := ListBackups(root)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "Snape_20250304_050609", filepath.Base(left[0].Dir))
	assert.DirExists(t, filepath.Join(root, "incomplete"), "incomplete backups are not rotated")

	removed, err = Rotate(root, 0)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestListBackups_MissingRoot(t *testing.T) {
	got, err := ListBackups(filepath.Join(t.TempDir(), "none"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

const (
	// BackupDirName is the backup root created inside a cache directory.
	BackupDirName = ".deletion_backups"

	// ManifestFile is written last into every backup directory.
	ManifestFile = "manifest.json"

	backupTimeLayout = "20060102_150405"
	maxNameLength    = 64
)

// BackupFile is one store captured by a backup.
type BackupFile struct {
	// Name is the file name, relative to both cache and backup directory.
	Name string `json:"name"`

	// Existed is false when the store was absent at backup time. Restoring
	// removes it again.
	Existed bool `json:"existed"`

	Size int64 `json:"size"`
}

// Manifest describes a complete backup.
type Manifest struct {
	ID        string       `json:"id"`
	Entity    string       `json:"entity"`
	CacheDir  string       `json:"cache_dir"`
	CreatedAt time.Time    `json:"created_at"`
	Files     []BackupFile `json:"files"`

	// Dir is the backup directory. Not serialized.
	Dir string `json:"-"`
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// BackupName returns the directory name for a backup of entity taken at
// at: the sanitized entity followed by _YYYYmmdd_HHMMSS.
func BackupName(entity string, at time.Time) string {
	name := strings.Trim(unsafeName.ReplaceAllString(entity, "_"), "_")
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}
	if name == "" {
		name = "entity"
	}
	return name + "_" + at.Format(backupTimeLayout)
}

// CreateBackup copies every file in paths into a new directory under root.
//
// # Description
//
// The directory name comes from BackupName, with a numeric suffix when a
// backup of the same entity was taken within the same second. The manifest
// is written after all files, so a backup interrupted mid-copy is
// recognisable as incomplete.
//
// # Inputs
//
//   - root: Backup root. Created when missing.
//   - id: Transaction ID stored in the manifest.
//   - entity: Entity (or batch label) being deleted.
//   - cacheDir: Directory the files are restored into.
//   - paths: Files to capture. Missing files are recorded as absent.
//   - at: Backup time.
//
// # Outputs
//
//   - *Manifest: The written manifest.
//   - error: Any I/O failure. A partial directory is removed.
func CreateBackup(root, id, entity, cacheDir string, paths []string, at time.Time) (*Manifest, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating backup root %s: %w", root, err)
	}

	base := BackupName(entity, at)
	dir := filepath.Join(root, base)
	for i := 2; ; i++ {
		err := os.Mkdir(dir, 0o750)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("creating backup dir %s: %w", dir, err)
		}
		dir = filepath.Join(root, fmt.Sprintf("%s_%d", base, i))
	}

	m := &Manifest{ID: id, Entity: entity, CacheDir: cacheDir, CreatedAt: at.UTC(), Dir: dir}
	for _, p := range paths {
		f := BackupFile{Name: filepath.Base(p)}
		data, err := os.ReadFile(p)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			os.RemoveAll(dir)
			return nil, fmt.Errorf("reading %s: %w", p, err)
		default:
			if err := store.WriteFileAtomic(filepath.Join(dir, f.Name), data, 0o644); err != nil {
				os.RemoveAll(dir)
				return nil, fmt.Errorf("copying %s: %w", p, err)
			}
			f.Existed = true
			f.Size = int64(len(data))
		}
		m.Files = append(m.Files, f)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := store.WriteFileAtomic(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("writing manifest: %w", err)
	}
	return m, nil
}

// LoadBackup reads the manifest of the backup in dir.
func LoadBackup(dir string) (*Manifest, error) {
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, dir)
	}
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBackupIncomplete, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest in %s: %w", dir, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decoding manifest in %s: %v", ErrBackupIncomplete, dir, err)
	}
	m.Dir = dir
	return &m, nil
}

// Restore writes every captured file back into cacheDir.
//
// # Description
//
// Files are replaced atomically. Files that did not exist at backup time
// are removed. When cacheDir is empty the manifest's CacheDir is used.
func (m *Manifest) Restore(cacheDir string) error {
	if cacheDir == "" {
		cacheDir = m.CacheDir
	}
	for _, f := range m.Files {
		dst := filepath.Join(cacheDir, f.Name)
		if !f.Existed {
			if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("removing %s: %w", dst, err)
			}
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.Dir, f.Name))
		if err != nil {
			return fmt.Errorf("reading backup of %s: %w", f.Name, err)
		}
		if err := store.WriteFileAtomic(dst, data, 0o644); err != nil {
			return fmt.Errorf("restoring %s: %w", dst, err)
		}
	}
	return nil
}

// ListBackups returns the complete backups under root, newest first.
// Incomplete directories are skipped.
func ListBackups(root string) ([]*Manifest, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing backups in %s: %w", root, err)
	}

	var out []*Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := LoadBackup(filepath.Join(root, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Dir > out[j].Dir
	})
	return out, nil
}

// Rotate removes the oldest complete backups under root so that at most
// keep remain. keep < 1 disables rotation.
//
// # Outputs
//
//   - []string: Removed directories.
//   - error: First listing or removal failure.
func Rotate(root string, keep int) ([]string, error) {
	if keep < 1 {
		return nil, nil
	}
	backups, err := ListBackups(root)
	if err != nil {
		return nil, err
	}
	var removed []string
	for i := keep; i < len(backups); i++ {
		if err := os.RemoveAll(backups[i].Dir); err != nil {
			return removed, fmt.Errorf("removing backup %s: %w", backups[i].Dir, err)
		}
		removed = append(removed, backups[i].Dir)
	}
	return removed, nil
}

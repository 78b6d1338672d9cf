// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store/storetest"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/transaction"
)

type harness struct {
	cacheDir string
	config   string
	stdout   *bytes.Buffer
	stderr   *bytes.Buffer
	prompts  []string
	answer   bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	cache := filepath.Join(root, "cache")
	require.NoError(t, os.MkdirAll(cache, 0o755))

	storetest.WriteFile(t, cache, store.GraphFile, storetest.GraphML(
		[]storetest.Node{
			{Name: "Dumbledore", Description: "Headmaster of Hogwarts", SourceIDs: []string{"chunk-1"}},
			{Name: "Hagrid", Description: "Keeper of keys", SourceIDs: []string{"chunk-2"}},
		},
		[]storetest.Edge{
			{Source: "Dumbledore", Target: "Hagrid", Description: "trusts", SourceIDs: []string{"chunk-1"}},
		},
	))
	storetest.WriteFile(t, cache, store.ChunksFile, storetest.Chunks(map[string]string{
		"chunk-1": "Dumbledore hired Hagrid",
		"chunk-2": "Hagrid keeps the keys",
	}))
	storetest.WriteFile(t, cache, store.CommunitiesFile, `{}`)
	storetest.WriteFile(t, cache, store.VectorsFile, storetest.Vectors(3, "Dumbledore", "Hagrid"))

	cfg := fmt.Sprintf(`cache_dir: %q
llm:
  enabled: false
journal:
  path: %q
logging:
  level: error
  dir: ""
telemetry:
  trace_exporter: none
  metric_exporter: none
`, cache, filepath.Join(root, "journal"))
	path := storetest.WriteFile(t, root, "unlearn.yaml", cfg)

	return &harness{cacheDir: cache, config: path, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
}

func (h *harness) run(args ...string) int {
	h.stdout.Reset()
	h.stderr.Reset()
	a := newApp()
	a.stdout = h.stdout
	a.stderr = h.stderr
	a.confirm = func(title, _ string) (bool, error) {
		h.prompts = append(h.prompts, title)
		return h.answer, nil
	}
	return a.execute(context.Background(), append([]string{"--config", h.config}, args...))
}

func (h *harness) graph(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.cacheDir, store.GraphFile))
	require.NoError(t, err)
	return string(data)
}

func (h *harness) machineReport(t *testing.T) map[string]any {
	t.Helper()
	var report map[string]any
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &report), h.stdout.String())
	return report
}

func TestDelete_Yes(t *testing.T) {
	h := newHarness(t)

	code := h.run("--output", "machine", "delete", "Dumbledore", "--yes")
	require.Equal(t, 0, code, h.stderr.String())

	report := h.machineReport(t)
	assert.Equal(t, "completed", report["outcome"])
	assert.Empty(t, h.prompts)
	assert.NotContains(t, h.graph(t), "DUMBLEDORE")
	assert.Contains(t, h.graph(t), "HAGRID")

	chunks, err := os.ReadFile(filepath.Join(h.cacheDir, store.ChunksFile))
	require.NoError(t, err)
	assert.NotContains(t, string(chunks), "Dumbledore")
}

func TestDelete_DryRunWritesNothing(t *testing.T) {
	h := newHarness(t)
	before := h.graph(t)

	code := h.run("--output", "machine", "delete", "Dumbledore", "--dry-run")
	require.Equal(t, 0, code, h.stderr.String())

	assert.Equal(t, "dry_run", h.machineReport(t)["outcome"])
	assert.Equal(t, before, h.graph(t))
	assert.Empty(t, h.prompts)
}

func TestDelete_ConfirmDeclined(t *testing.T) {
	h := newHarness(t)
	before := h.graph(t)
	h.answer = false

	code := h.run("--output", "plain", "delete", "Dumbledore")
	require.Equal(t, 0, code, h.stderr.String())

	require.Len(t, h.prompts, 1)
	assert.Contains(t, h.prompts[0], "Delete 1 entities")
	assert.Contains(t, h.stderr.String(), "deletion cancelled")
	assert.Equal(t, before, h.graph(t))
}

func TestDelete_ConfirmAcceptedWritesReportFile(t *testing.T) {
	h := newHarness(t)
	h.answer = true
	reportPath := filepath.Join(t.TempDir(), "report.json")

	code := h.run("--output", "plain", "delete", "Dumbledore", "--report-file", reportPath)
	require.Equal(t, 0, code, h.stderr.String())

	assert.Len(t, h.prompts, 1)
	assert.Contains(t, h.stdout.String(), "Deleted 1 entities")
	assert.NotContains(t, h.graph(t), "DUMBLEDORE")

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "completed", report["outcome"])
}

func TestDelete_UnknownEntityIsNothingToDelete(t *testing.T) {
	h := newHarness(t)

	code := h.run("--output", "machine", "delete", "Voldemort", "--yes")
	require.Equal(t, 0, code, h.stderr.String())
	assert.Equal(t, "nothing_to_delete", h.machineReport(t)["outcome"])
}

func TestDelete_RequiresAnEntity(t *testing.T) {
	h := newHarness(t)

	code := h.run("delete")
	assert.Equal(t, 1, code)
	assert.Contains(t, h.stderr.String(), "requires at least 1 arg")
}

func TestMissingConfigFails(t *testing.T) {
	h := newHarness(t)
	h.config = filepath.Join(t.TempDir(), "absent.yaml")

	code := h.run("delete", "Dumbledore", "--yes")
	assert.Equal(t, 1, code)
	assert.Contains(t, h.stderr.String(), "reading config")
}

func TestVersion(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, 0, h.run("version"))
	assert.Equal(t, "unlearn dev\n", h.stdout.String())
}

func TestBackups_ListAndRestore(t *testing.T) {
	h := newHarness(t)
	before := h.graph(t)

	require.Equal(t, 0, h.run("--output", "machine", "delete", "Dumbledore", "--yes"), h.stderr.String())

	require.Equal(t, 0, h.run("--output", "machine", "backups", "list"), h.stderr.String())
	var manifests []map[string]any
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &manifests))
	require.Len(t, manifests, 1)
	assert.Equal(t, "Dumbledore", manifests[0]["entity"])

	entries, err := os.ReadDir(filepath.Join(h.cacheDir, transaction.BackupDirName))
	require.NoError(t, err)
	var name string
	for _, e := range entries {
		if e.IsDir() {
			name = e.Name()
		}
	}
	require.NotEmpty(t, name)

	require.Equal(t, 0, h.run("--output", "plain", "backups", "restore", name, "--yes"), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "restored")
	assert.Equal(t, before, h.graph(t))
}

func TestRecover_NothingInterrupted(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, 0, h.run("--output", "plain", "recover"), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "no interrupted deletions")
}

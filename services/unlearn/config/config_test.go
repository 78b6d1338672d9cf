// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/community"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "[mask]", cfg.Anonymize.MaskToken)
	assert.Equal(t, 3, cfg.Anonymize.Hops)
	assert.Equal(t, community.DefaultThresholds(), cfg.Thresholds())
	assert.True(t, cfg.Backup.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unlearn.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache_dir: /data/hogwarts
anonymize:
  hops: 2
evaluate:
  density_delta: 0.2
  missing_policy: changed
llm:
  timeout: 15s
vectors:
  weaviate:
    enabled: true
    url: http://localhost:8080
`), 0o644))

	t.Setenv("OPENAI_MODEL", "")
	t.Setenv("OPENAI_BASE_URL", "")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/data/hogwarts", cfg.CacheDir)
	assert.Equal(t, 2, cfg.Anonymize.Hops)
	assert.Equal(t, "[mask]", cfg.Anonymize.MaskToken, "unset keys keep defaults")
	assert.Equal(t, 0.2, cfg.Thresholds().Density)
	assert.Equal(t, 0.1, cfg.Thresholds().Clustering)
	assert.Equal(t, "changed", cfg.Evaluate.MissingPolicy)
	assert.Equal(t, 15*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "http://localhost:8080", cfg.MirrorConfig().URL)
	assert.Equal(t, "Entity", cfg.MirrorConfig().ClassName)
	assert.Equal(t, "/data/hogwarts", cfg.Layout().CacheDir)
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unlearn.yaml")
	require.NoError(t, os.WriteFile(path, []byte("anonymize: [1, 2"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("OPENAI_MODEL", "gpt-4.1")
	t.Setenv("OPENAI_BASE_URL", "http://gateway.local/v1")
	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, "gpt-4.1", cfg.LLM.Model)
	assert.Equal(t, "http://gateway.local/v1", cfg.LLM.BaseURL)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero hops", func(c *Config) { c.Anonymize.Hops = 0 }},
		{"unknown counter", func(c *Config) { c.Anonymize.TokenCounter = "bytes" }},
		{"negative delta", func(c *Config) { c.Evaluate.ClusteringDelta = -1 }},
		{"unknown policy", func(c *Config) { c.Evaluate.MissingPolicy = "maybe" }},
		{"mirror without url", func(c *Config) { c.Vectors.Weaviate.Enabled = true }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad exporter", func(c *Config) { c.Telemetry.TraceExporter = "zipkin" }},
		{"empty cache", func(c *Config) { c.CacheDir = "" }},
		{"no mask token", func(c *Config) { c.Anonymize.MaskToken = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "unlearn.yaml")
	cfg := Default()
	cfg.CacheDir = "/data/cache"
	cfg.LLM.Timeout = 90 * time.Second
	require.NoError(t, cfg.Save(path))

	t.Setenv("OPENAI_MODEL", "")
	t.Setenv("OPENAI_BASE_URL", "")
	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/cache", again.CacheDir)
	assert.Equal(t, 90*time.Second, again.LLM.Timeout)
}

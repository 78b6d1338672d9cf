// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the unlearn configuration file.
//
// The file lives at ~/.aleutian/unlearn.yaml unless --config names another.
// Values are layered: Default, then the file, then OPENAI_* environment
// variables, then command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianUnlearn/pkg/logging"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/anonymize"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/cluster"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/community"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/llm"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/telemetry"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/transaction"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/vectors"
)

// DefaultFileName is the config file name under ~/.aleutian.
const DefaultFileName = "unlearn.yaml"

// Config is the full unlearn configuration.
type Config struct {
	CacheDir string `yaml:"cache_dir"`
	WorkDir  string `yaml:"work_dir"`

	Backup    BackupConfig     `yaml:"backup"`
	Anonymize AnonymizeConfig  `yaml:"anonymize"`
	Impact    ImpactConfig     `yaml:"impact"`
	Evaluate  EvaluateConfig   `yaml:"evaluate"`
	Cluster   ClusterConfig    `yaml:"cluster"`
	LLM       LLMConfig        `yaml:"llm"`
	Vectors   VectorsConfig    `yaml:"vectors"`
	Journal   JournalConfig    `yaml:"journal"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// BackupConfig controls pre-run backups.
type BackupConfig struct {
	Enabled    bool      `yaml:"enabled"`
	Dir        string    `yaml:"dir"`
	MaxBackups int       `yaml:"max_backups" validate:"gte=0"`
	GCS        GCSConfig `yaml:"gcs"`
}

// GCSConfig enables archiving committed backups to Cloud Storage when
// Bucket is set.
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	Project         string `yaml:"project"`
	CredentialsFile string `yaml:"credentials_file"`
	Prefix          string `yaml:"prefix"`
}

// AnonymizeConfig controls text masking.
type AnonymizeConfig struct {
	MaskToken    string `yaml:"mask_token" validate:"required"`
	Hops         int    `yaml:"hops" validate:"gte=1,lte=10"`
	TokenCounter string `yaml:"token_counter" validate:"oneof=words tiktoken"`
}

// ImpactConfig bounds the community closure and report regeneration.
type ImpactConfig struct {
	MaxDepth int `yaml:"max_depth" validate:"gte=1"`
}

// EvaluateConfig holds the significance thresholds.
type EvaluateConfig struct {
	ClusteringDelta    float64 `yaml:"clustering_delta" validate:"gte=0"`
	AssortativityDelta float64 `yaml:"assortativity_delta" validate:"gte=0"`
	DensityDelta       float64 `yaml:"density_delta" validate:"gte=0"`
	MissingPolicy      string  `yaml:"missing_policy" validate:"oneof=skip changed"`
}

// ClusterConfig tunes hierarchical Leiden.
type ClusterConfig struct {
	MaxIterations  int     `yaml:"max_iterations" validate:"gte=1"`
	Resolution     float64 `yaml:"resolution" validate:"gt=0"`
	MaxClusterSize int     `yaml:"max_cluster_size" validate:"gte=1"`
	MaxLevels      int     `yaml:"max_levels" validate:"gte=1"`
	Seed           uint64  `yaml:"seed"`
}

// LLMConfig configures the alias and report collaborators.
type LLMConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url" validate:"omitempty,url"`
	SecretFile        string        `yaml:"secret_file"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	Concurrency       int           `yaml:"concurrency" validate:"gte=1,lte=64"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gt=0"`
	ContextLines      int           `yaml:"context_lines" validate:"gte=0"`
}

// VectorsConfig configures the optional remote vector mirror.
type VectorsConfig struct {
	Weaviate WeaviateConfig `yaml:"weaviate"`
}

// WeaviateConfig mirrors vector deletes into Weaviate when Enabled.
type WeaviateConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url" validate:"omitempty,url"`
	Class    string `yaml:"class"`
	Property string `yaml:"property"`
}

// JournalConfig locates the transaction journal database.
type JournalConfig struct {
	// Path is the BadgerDB directory. Default: ~/.aleutian/unlearn/journal
	Path string `yaml:"path"`
}

// ServerConfig configures `unlearn serve`.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	th := community.DefaultThresholds()
	opts := cluster.DefaultOptions()
	return Config{
		CacheDir: ".",
		Backup:   BackupConfig{Enabled: true, MaxBackups: 10},
		Anonymize: AnonymizeConfig{
			MaskToken:    anonymize.DefaultMaskToken,
			Hops:         anonymize.DefaultHops,
			TokenCounter: "words",
		},
		Impact: ImpactConfig{MaxDepth: community.DefaultMaxDepth},
		Evaluate: EvaluateConfig{
			ClusteringDelta:    th.Clustering,
			AssortativityDelta: th.Assortativity,
			DensityDelta:       th.Density,
			MissingPolicy:      string(community.MissingSkip),
		},
		Cluster: ClusterConfig{
			MaxIterations:  opts.MaxIterations,
			Resolution:     opts.Resolution,
			MaxClusterSize: opts.MaxClusterSize,
			MaxLevels:      opts.MaxLevels,
			Seed:           opts.Seed,
		},
		LLM: LLMConfig{
			Enabled:           true,
			Model:             llm.DefaultModel,
			SecretFile:        llm.DefaultSecretPath,
			Timeout:           llm.DefaultTimeout,
			Concurrency:       community.DefaultConcurrency,
			RequestsPerSecond: llm.DefaultRequestsPerSecond,
			ContextLines:      llm.DefaultAliasContextLines,
		},
		Vectors: VectorsConfig{Weaviate: WeaviateConfig{Class: "Entity", Property: "entity_name"}},
		Journal: JournalConfig{Path: filepath.Join("~", ".aleutian", "unlearn", "journal")},
		Telemetry: telemetry.DefaultConfig(),
		Server:    ServerConfig{Addr: "127.0.0.1:8089"},
		Logging:   LoggingConfig{Level: "info", Dir: filepath.Join("~", ".aleutian", "logs")},
	}
}

// DefaultPath returns ~/.aleutian/unlearn.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian", DefaultFileName), nil
}

// Load reads the config at path over Default and applies the environment.
//
// # Description
//
// An empty path means DefaultPath; a missing default file is not an error.
// A missing explicit path is. The result is not validated so that flags
// can still be applied; call Validate afterwards.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			cfg.ApplyEnv()
			return cfg, nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case err != nil:
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides LLM settings from OPENAI_BASE_URL and OPENAI_MODEL.
// OPENAI_API_KEY is read by llm.LoadSecret, never stored here.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		c.LLM.Model = v
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	if c.CacheDir == "" {
		return errors.New("cache_dir is required")
	}
	if c.Vectors.Weaviate.Enabled && c.Vectors.Weaviate.URL == "" {
		return errors.New("vectors.weaviate.url is required when the mirror is enabled")
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (value %v)", f.Namespace(), f.Tag(), f.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes the config as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return store.WriteFileAtomic(path, data, 0o644)
}

// Layout returns the store layout of the configured cache.
func (c Config) Layout() store.Layout {
	l := store.NewLayout(c.CacheDir)
	if c.WorkDir != "" {
		l.WorkDir = c.WorkDir
	}
	return l
}

// Thresholds returns the evaluator thresholds.
func (c Config) Thresholds() community.Thresholds {
	return community.Thresholds{
		Clustering:    c.Evaluate.ClusteringDelta,
		Assortativity: c.Evaluate.AssortativityDelta,
		Density:       c.Evaluate.DensityDelta,
	}
}

// ClusterOptions returns the Leiden options.
func (c Config) ClusterOptions() cluster.Options {
	opts := cluster.DefaultOptions()
	opts.MaxIterations = c.Cluster.MaxIterations
	opts.Resolution = c.Cluster.Resolution
	opts.MaxClusterSize = c.Cluster.MaxClusterSize
	opts.MaxLevels = c.Cluster.MaxLevels
	opts.Seed = c.Cluster.Seed
	return opts
}

// ImpactSettings returns the impact engine settings.
func (c Config) ImpactSettings() community.ImpactConfig {
	return community.ImpactConfig{
		MaxDepth:      c.Impact.MaxDepth,
		Concurrency:   c.LLM.Concurrency,
		ReportTimeout: c.LLM.Timeout,
	}
}

// MirrorConfig returns the Weaviate mirror settings.
func (c Config) MirrorConfig() vectors.MirrorConfig {
	return vectors.MirrorConfig{
		URL:       c.Vectors.Weaviate.URL,
		ClassName: c.Vectors.Weaviate.Class,
		Property:  c.Vectors.Weaviate.Property,
	}
}

// TransactionConfig returns the transaction manager settings.
func (c Config) TransactionConfig() transaction.Config {
	return transaction.Config{
		Root:       logging.ExpandPath(c.Backup.Dir),
		MaxBackups: c.Backup.MaxBackups,
		Hops:       c.Anonymize.Hops,
	}
}

// GCS returns the archive settings and whether archiving is enabled.
func (c Config) GCS() (transaction.GCSConfig, bool) {
	g := c.Backup.GCS
	return transaction.GCSConfig{
		Bucket:          g.Bucket,
		Project:         g.Project,
		CredentialsFile: logging.ExpandPath(g.CredentialsFile),
		Prefix:          g.Prefix,
	}, g.Bucket != ""
}

// LoggerConfig returns the pkg/logging configuration.
func (c Config) LoggerConfig() (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		JSON:    c.Logging.JSON,
		LogDir:  c.Logging.Dir,
		Service: "unlearn",
	}, nil
}

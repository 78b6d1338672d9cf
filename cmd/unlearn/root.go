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
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianUnlearn/pkg/logging"
	"github.com/AleutianAI/AleutianUnlearn/pkg/ux"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/config"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/pipeline"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/telemetry"
)

// app holds the state shared by every command.
type app struct {
	configPath string
	cacheDir   string
	output     string
	logLevel   string

	cfg    config.Config
	logger *logging.Logger

	stdout io.Writer
	stderr io.Writer

	// confirm is swapped in tests.
	confirm ux.ConfirmFunc

	shutdownTelemetry func(context.Context) error
}

func newApp() *app {
	return &app{
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		confirm: ux.Confirm,
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "unlearn",
		Short: "Remove every trace of an entity from a GraphRAG cache",
		Long: `unlearn deletes entities from a GraphRAG knowledge base: the graph node and
its edges, mentions in text chunks and descriptions, community memberships and
reports, and embedding rows. Stores are backed up first and restored if the
run fails.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ~/.aleutian/unlearn.yaml)")
	pf.StringVar(&a.cacheDir, "cache-dir", "", "GraphRAG cache directory (overrides cache_dir)")
	pf.StringVar(&a.output, "output", "", "output mode: rich, plain or machine")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		a.deleteCmd(),
		a.serveCmd(),
		a.recoverCmd(),
		a.backupsCmd(),
		a.versionCmd(),
	)
	return root
}

// setup loads configuration, then starts logging and telemetry.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.output != "" {
		ux.SetMode(ux.ParseMode(a.output))
	} else {
		ux.InitMode()
	}
	if cmd.Name() == "version" {
		return nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return a.fail(err)
	}
	if a.cacheDir != "" {
		cfg.CacheDir = a.cacheDir
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return a.fail(err)
	}
	a.cfg = cfg

	lc, err := cfg.LoggerConfig()
	if err != nil {
		return a.fail(err)
	}
	lc.Output = a.stderr
	a.logger = logging.New(lc)
	slog.SetDefault(a.logger.Slog())

	cfg.Telemetry.ServiceVersion = version
	shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry)
	if err != nil {
		a.logger.Warn("telemetry disabled", "error", err)
	} else {
		a.shutdownTelemetry = shutdown
	}
	return nil
}

// teardown flushes telemetry and closes the log file.
func (a *app) teardown(ctx context.Context) error {
	if a.shutdownTelemetry != nil {
		if err := a.shutdownTelemetry(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
	if a.logger != nil {
		return a.logger.Close()
	}
	return nil
}

// build wires the orchestrator for commands that touch the cache.
func (a *app) build(ctx context.Context) (*pipeline.Orchestrator, func() error, error) {
	orch, closeFn, err := pipeline.Build(ctx, a.cfg, a.logger.Slog())
	if err != nil {
		return nil, nil, a.fail(err)
	}
	return orch, closeFn, nil
}

// shownError is an error already printed to the user.
type shownError struct{ err error }

func (e *shownError) Error() string { return e.err.Error() }
func (e *shownError) Unwrap() error { return e.err }

// fail prints err and marks it shown.
func (a *app) fail(err error) error {
	ux.Error(a.stderr, err.Error())
	return &shownError{err: err}
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "unlearn %s\n", version)
		},
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/AleutianUnlearn/pkg/logging"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/anonymize"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/cluster"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/community"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/config"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/llm"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/lock"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/resolve"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/transaction"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/vectors"
)

// Build wires an Orchestrator and its collaborators from cfg.
//
// # Description
//
// The LLM collaborators are used when enabled and a key is available
// from OPENAI_API_KEY or llm.secret_file; otherwise aliases come from
// substring matching only and reports from the template generator. The
// journal, the Weaviate mirror and GCS archiving are optional: a journal
// that cannot be opened is logged and skipped, the others are off unless
// configured.
//
// # Outputs
//
//   - *Orchestrator: Ready to Run.
//   - func() error: Releases the journal, archiver and held locks.
//   - error: Invalid configuration or a configured collaborator that
//     could not be created.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Orchestrator, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	layout := cfg.Layout()

	var (
		aliases   resolve.AliasExtractor
		generator llm.ReportGenerator = llm.TemplateReportGenerator{}
	)
	if cfg.LLM.Enabled {
		client, err := newCompleter(cfg, logger)
		if err != nil {
			logger.Warn("LLM unavailable, using substring resolution and template reports", "error", err)
		} else {
			aliases = llm.NewAliasExtractor(client, cfg.LLM.ContextLines, logger)
			generator = llm.NewFallbackReportGenerator(
				llm.NewCompletionReportGenerator(client), llm.TemplateReportGenerator{}, nil, logger)
		}
	}

	impactCfg := cfg.ImpactSettings()
	driver := community.NewDriver(
		community.NewImpactEngine(generator, impactCfg, logger),
		community.NewEvaluator(cfg.Thresholds(), community.MissingPolicy(cfg.Evaluate.MissingPolicy), logger),
		community.NewReclusterer(cluster.NewLeidenClusterer(cfg.ClusterOptions(), logger), generator, impactCfg, logger),
		logger,
	)
	resolver := resolve.NewResolver(aliases, resolve.Config{
		AliasTimeout: cfg.LLM.Timeout,
		Concurrency:  cfg.LLM.Concurrency,
	}, logger)

	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	var mirror VectorMirror
	if cfg.Vectors.Weaviate.Enabled {
		m, err := vectors.NewWeaviateMirror(cfg.MirrorConfig(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("creating weaviate mirror: %w", err)
		}
		mirror = m
	}

	var journal *transaction.Journal
	if cfg.Journal.Path != "" {
		path := logging.ExpandPath(cfg.Journal.Path)
		if err := os.MkdirAll(path, 0750); err != nil {
			logger.Warn("transaction journal unavailable", "path", path, "error", err)
		} else if j, err := transaction.OpenJournal(path, logger); err != nil {
			logger.Warn("transaction journal unavailable", "path", path, "error", err)
		} else {
			journal = j
			closers = append(closers, j.Close)
		}
	}

	var archiver transaction.Archiver
	if gcs, ok := cfg.GCS(); ok {
		a, err := transaction.NewGCSArchiver(ctx, gcs, logger)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("creating backup archiver: %w", err)
		}
		archiver = a
		closers = append(closers, a.Close)
	}

	locks := lock.NewFileLockManager(lock.ManagerConfig{Logger: logger})
	closers = append(closers, locks.ReleaseAll)

	orch, err := New(Options{
		Layout:       layout,
		Hops:         cfg.Anonymize.Hops,
		MaskToken:    cfg.Anonymize.MaskToken,
		TokenCounter: anonymize.NewTokenCounter(cfg.Anonymize.TokenCounter, cfg.LLM.Model),
		Backup:       cfg.Backup.Enabled,
		ClosureDepth: cfg.Impact.MaxDepth,
	}, Deps{
		Resolver:     resolver,
		Driver:       driver,
		Mirror:       mirror,
		Transactions: transaction.NewManager(layout, cfg.TransactionConfig(), journal, archiver, logger),
		Locks:        locks,
	}, logger)
	if err != nil {
		_ = closeAll()
		return nil, nil, err
	}
	return orch, closeAll, nil
}

func newCompleter(cfg config.Config, logger *slog.Logger) (llm.Completer, error) {
	secret, err := llm.LoadSecret("OPENAI_API_KEY", logging.ExpandPath(cfg.LLM.SecretFile))
	if err != nil {
		return nil, err
	}
	return llm.NewOpenAIClient(llm.OpenAIConfig{
		Secret:            secret,
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	}, logger)
}

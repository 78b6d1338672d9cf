// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs targeted entity deletions against a GraphRAG
// cache.
//
// A run resolves each requested name, backs up the stores, then for every
// resolved entity anonymizes text, updates communities, removes the node
// and prunes its embeddings. Per-step failures are recorded in the
// DeletionReport and the run continues; corrupt stores and I/O failures
// roll the stores back from the backup.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/anonymize"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/community"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/lock"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/resolve"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/telemetry"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/transaction"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/vectors"
)

// ErrExternalModification is recorded when a store file changed on disk
// during a run without the run writing it.
var ErrExternalModification = errors.New("store modified by another process during the run")

// VectorMirror removes an entity from a remote copy of the vector index.
type VectorMirror interface {
	Delete(ctx context.Context, entity string) (vectors.DeleteResult, error)
}

// Options configures an Orchestrator.
type Options struct {
	Layout store.Layout

	// Hops is the anonymization depth. Default: 3
	Hops int

	// MaskToken replaces masked mentions. Default: [mask]
	MaskToken string

	// TokenCounter recomputes chunk token counts. Default: word count.
	TokenCounter anonymize.TokenCounter

	// Backup is the default for requests that do not say.
	Backup bool

	// ClosureDepth bounds the dry-run community closure. Default: 16
	ClosureDepth int
}

// Deps are the collaborators of an Orchestrator. Mirror may be nil.
type Deps struct {
	Resolver     *resolve.Resolver
	Driver       *community.Driver
	Mirror       VectorMirror
	Transactions *transaction.Manager
	Locks        *lock.FileLockManager
}

// Request is one deletion.
type Request struct {
	// Entities are the requested names. Several names run as one batch
	// under a single backup.
	Entities []string

	// DryRun resolves and previews without writing anything.
	DryRun bool

	// Backup overrides Options.Backup when set.
	Backup *bool
}

// Orchestrator runs deletions against one cache directory.
//
// # Description
//
// Runs are serialized: a second Run waits for the first. Across processes
// the cache directory lock makes a concurrent run fail fast with
// lock.ErrFileLocked.
//
// # Thread Safety
//
// Safe for concurrent use.
type Orchestrator struct {
	opts   Options
	deps   Deps
	chunks *anonymize.ChunkAnonymizer
	pruner *vectors.Pruner
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// New creates an orchestrator. Resolver, Driver, Transactions and Locks
// are required.
func New(opts Options, deps Deps, logger *slog.Logger) (*Orchestrator, error) {
	if deps.Resolver == nil || deps.Driver == nil || deps.Transactions == nil || deps.Locks == nil {
		return nil, errors.New("pipeline: resolver, driver, transactions and locks are required")
	}
	if opts.Layout.CacheDir == "" {
		return nil, errors.New("pipeline: cache directory is required")
	}
	if opts.Hops < 1 {
		opts.Hops = anonymize.DefaultHops
	}
	if opts.MaskToken == "" {
		opts.MaskToken = anonymize.DefaultMaskToken
	}
	if opts.TokenCounter == nil {
		opts.TokenCounter = anonymize.WordCounter{}
	}
	if opts.ClosureDepth < 1 {
		opts.ClosureDepth = community.DefaultMaxDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		opts:   opts,
		deps:   deps,
		chunks: anonymize.NewChunkAnonymizer(opts.TokenCounter, logger),
		pruner: vectors.NewPruner(logger),
		logger: logger.With("component", "pipeline.Orchestrator"),
		now:    time.Now,
	}, nil
}

// Layout returns the cache layout.
func (o *Orchestrator) Layout() store.Layout { return o.opts.Layout }

// Transactions returns the transaction manager.
func (o *Orchestrator) Transactions() *transaction.Manager { return o.deps.Transactions }

// Run executes req.
//
// # Description
//
// The report is always returned, filled as far as the run got. Nothing to
// delete is a successful outcome.
//
// # Outputs
//
//   - *DeletionReport: Counts, resolutions, recorded errors and outcome.
//   - error: The fatal error when the run was rolled back or could not
//     start (lock held, graph unreadable, cancellation).
func (o *Orchestrator) Run(ctx context.Context, req Request) (*DeletionReport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ctx, span := tracer.Start(ctx, "Orchestrator.Run")
	defer span.End()

	report := newReport(uuid.NewString(), o.opts.Layout.CacheDir, req.Entities, req.DryRun, o.now())
	logger := telemetry.LoggerWithTrace(ctx, o.logger).With("run_id", report.RunID)
	span.SetAttributes(
		attribute.String("run.id", report.RunID),
		attribute.StringSlice("run.entities", req.Entities),
		attribute.Bool("run.dry_run", req.DryRun),
	)

	var err error
	if req.DryRun {
		err = o.dryRun(ctx, report)
	} else {
		err = o.run(ctx, req, report, logger)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
	}

	recordRun(ctx, report, o.now())
	logger.Info("deletion run finished",
		"outcome", report.Outcome,
		"entities", report.EntityCount(),
		"errors", len(report.Errors),
		"duration", report.Duration(),
	)
	return report, err
}

func (o *Orchestrator) run(ctx context.Context, req Request, report *DeletionReport, logger *slog.Logger) (err error) {
	l := o.opts.Layout
	label := strings.Join(req.Entities, "+")

	if err := o.deps.Locks.Acquire(l.CacheDir, "delete "+label); err != nil {
		report.finalize(OutcomeFailed, err, o.now())
		return err
	}
	defer func() {
		if rerr := o.deps.Locks.Release(l.CacheDir); rerr != nil {
			logger.Warn("releasing cache lock failed", "error", rerr)
		}
	}()

	if recovered, rerr := o.deps.Transactions.RecoverStale(ctx); rerr != nil {
		report.record("", StepTransaction, fmt.Errorf("recovering interrupted runs: %w", rerr))
	} else {
		for _, rec := range recovered {
			report.Recovered = append(report.Recovered, rec.ID)
		}
	}

	g, err := store.LoadGraph(l.Graph())
	if err != nil {
		report.finalize(OutcomeFailed, err, o.now())
		return fmt.Errorf("loading graph: %w", err)
	}
	resolutions, err := o.deps.Resolver.ResolveAll(ctx, req.Entities, g)
	if err != nil {
		report.finalize(OutcomeFailed, err, o.now())
		return fmt.Errorf("resolving entities: %w", err)
	}
	for _, res := range resolutions {
		report.Resolutions = append(report.Resolutions, Resolution{Requested: res.Raw, Entities: res.Entities})
		if len(res.Entities) == 0 {
			report.record(res.Raw, StepResolve, fmt.Errorf("%w: %s", resolve.ErrEntityNotFound, res.Raw))
		}
	}
	if report.EntityCount() == 0 {
		logger.Info("nothing to delete", "requested", req.Entities)
		report.finalize(OutcomeNothingToDelete, nil, o.now())
		return nil
	}

	backup := o.opts.Backup
	if req.Backup != nil {
		backup = *req.Backup
	}
	txm := o.deps.Transactions
	tx, err := txm.Begin(ctx, label, backup)
	if err != nil {
		report.finalize(OutcomeFailed, err, o.now())
		return fmt.Errorf("starting transaction: %w", err)
	}
	if tx.Backup != nil {
		report.BackupDir = tx.Backup.Dir
	}
	defer func() {
		if cerr := txm.Cleanup(); cerr != nil {
			logger.Warn("removing side files failed", "error", cerr)
		}
	}()

	watcher, werr := o.deps.Locks.Watch(l.MutableStores()...)
	if werr != nil {
		logger.Warn("store watcher unavailable", "error", werr)
	} else {
		defer watcher.Close()
	}

	for _, res := range resolutions {
		for _, entity := range res.Entities {
			er := &EntityReport{Entity: entity, Reference: res.Raw}
			ferr := o.deleteEntity(ctx, entity, res.Raw, er, report, logger)
			report.Entities = append(report.Entities, *er)
			if watcher != nil {
				watcher.Expect(l.MutableStores()...)
			}
			if ferr != nil {
				return o.abort(ctx, report, ferr, logger)
			}
		}
	}

	if watcher != nil {
		for _, c := range watcher.Changes() {
			report.record("", StepWatch, fmt.Errorf("%w: %s", ErrExternalModification, c))
		}
	}
	if err := txm.Commit(ctx); err != nil {
		return o.abort(ctx, report, fmt.Errorf("committing: %w", err), logger)
	}
	report.finalize(OutcomeCompleted, nil, o.now())
	return nil
}

// abort rolls the stores back after a fatal error.
func (o *Orchestrator) abort(ctx context.Context, report *DeletionReport, cause error, logger *slog.Logger) error {
	logger.Error("deletion run failed, restoring backup", "error", cause)
	// The restore must run even when the run was cancelled.
	rctx := context.WithoutCancel(ctx)
	rerr := o.deps.Transactions.Rollback(rctx, cause)
	switch {
	case rerr == nil:
		report.finalize(OutcomeRolledBack, cause, o.now())
	case errors.Is(rerr, transaction.ErrNoBackup):
		report.record("", StepTransaction, errors.New("no backup taken; stores may be partially modified"))
		report.finalize(OutcomeFailed, cause, o.now())
	default:
		report.record("", StepTransaction, rerr)
		report.finalize(OutcomeFailed, cause, o.now())
	}
	return cause
}

// Recover restores the backups of runs that were interrupted on this host.
// It holds the cache lock while restoring.
func (o *Orchestrator) Recover(ctx context.Context) ([]transaction.Record, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	dir := o.opts.Layout.CacheDir
	if err := o.deps.Locks.Acquire(dir, "recover"); err != nil {
		return nil, err
	}
	defer func() { _ = o.deps.Locks.Release(dir) }()
	return o.deps.Transactions.RecoverStale(ctx)
}

// Restore restores the named backup into the cache directory under the
// cache lock.
func (o *Orchestrator) Restore(ctx context.Context, name string) (*transaction.Manifest, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	dir := o.opts.Layout.CacheDir
	if err := o.deps.Locks.Acquire(dir, "restore "+name); err != nil {
		return nil, err
	}
	defer func() { _ = o.deps.Locks.Release(dir) }()
	return o.deps.Transactions.RestoreBackup(ctx, name)
}

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
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianUnlearn/pkg/logging"
	"github.com/AleutianAI/AleutianUnlearn/pkg/ux"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/pipeline"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

type deleteOptions struct {
	noBackup   bool
	yes        bool
	dryRun     bool
	reportFile string
}

func (a *app) deleteCmd() *cobra.Command {
	var opts deleteOptions
	cmd := &cobra.Command{
		Use:   "delete <entity> [entity...]",
		Short: "Delete entities and every trace of them from the cache",
		Long: `Resolve each entity (substring matches plus LLM-proposed aliases), then
anonymize its mentions, update the communities that referenced it, remove it
from the graph and prune its embeddings. Several entities run as one batch
under a single backup.

Without --yes a preview is shown and confirmation is required.`,
		Example: `  unlearn delete Dumbledore --cache-dir ./cache
  unlearn delete "Albus Dumbledore" Hagrid --yes --report-file report.json
  unlearn delete Dumbledore --dry-run`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDelete(cmd, args, opts)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.noBackup, "no-backup", false, "skip the pre-run backup (a failed run cannot be restored)")
	f.BoolVarP(&opts.yes, "yes", "y", false, "do not ask for confirmation")
	f.BoolVar(&opts.dryRun, "dry-run", false, "resolve and preview without writing anything")
	f.StringVar(&opts.reportFile, "report-file", "", "write the deletion report as JSON to this file")
	return cmd
}

func (a *app) runDelete(cmd *cobra.Command, args []string, opts deleteOptions) error {
	ctx := cmd.Context()
	orch, closeFn, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); cerr != nil {
			a.logger.Warn("closing collaborators failed", "error", cerr)
		}
	}()

	req := pipeline.Request{Entities: args, DryRun: opts.dryRun}
	if cmd.Flags().Changed("no-backup") {
		backup := !opts.noBackup
		req.Backup = &backup
	}

	if !opts.dryRun && !opts.yes {
		preview, err := orch.Run(ctx, pipeline.Request{Entities: args, DryRun: true})
		if err != nil {
			a.printReport(preview)
			return &shownError{err: err}
		}
		a.printReport(preview)
		if preview.Outcome == pipeline.OutcomeNothingToDelete {
			return a.writeReport(opts.reportFile, preview)
		}
		ok, err := a.confirm(
			fmt.Sprintf("Delete %d entities from %s?", preview.EntityCount(), a.cfg.CacheDir),
			strings.Join(resolvedNames(preview), ", "),
		)
		if err != nil {
			return a.fail(err)
		}
		if !ok {
			ux.Warn(a.stderr, "deletion cancelled")
			return nil
		}
	}

	report, runErr := orch.Run(ctx, req)
	a.printReport(report)
	if err := a.writeReport(opts.reportFile, report); err != nil {
		return err
	}
	if runErr != nil {
		return &shownError{err: runErr}
	}
	return nil
}

func resolvedNames(r *pipeline.DeletionReport) []string {
	var out []string
	for _, res := range r.Resolutions {
		out = append(out, res.Entities...)
	}
	return out
}

func (a *app) writeReport(path string, r *pipeline.DeletionReport) error {
	if path == "" || r == nil {
		return nil
	}
	data, err := r.JSON()
	if err != nil {
		return a.fail(fmt.Errorf("encoding report: %w", err))
	}
	path = logging.ExpandPath(path)
	if err := store.WriteFileAtomic(path, append(data, '\n'), 0644); err != nil {
		return a.fail(fmt.Errorf("writing report: %w", err))
	}
	ux.Success(a.stderr, "report written to "+path)
	return nil
}

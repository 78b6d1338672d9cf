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
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianUnlearn/pkg/ux"
)

func (a *app) backupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List and restore store backups",
	}
	cmd.AddCommand(a.backupsListCmd(), a.backupsRestoreCmd())
	return cmd
}

func (a *app) backupsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			orch, closeFn, err := a.build(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			manifests, err := orch.Transactions().ListBackups()
			if err != nil {
				return a.fail(fmt.Errorf("listing backups: %w", err))
			}
			if ux.CurrentMode() == ux.ModeMachine {
				data, err := json.MarshalIndent(manifests, "", "  ")
				if err != nil {
					return a.fail(err)
				}
				fmt.Fprintln(a.stdout, string(data))
				return nil
			}
			if len(manifests) == 0 {
				fmt.Fprintln(a.stdout, "no backups in "+orch.Transactions().Root())
				return nil
			}
			s := ux.Summary{Title: fmt.Sprintf("%d backups in %s", len(manifests), orch.Transactions().Root()), Status: ux.StatusOK}
			for _, m := range manifests {
				s.Rows = append(s.Rows, ux.Row{
					Label: filepath.Base(m.Dir),
					Value: fmt.Sprintf("%s, %s, %d files", m.Entity, m.CreatedAt.Local().Format(time.DateTime), len(m.Files)),
				})
			}
			s.Print(a.stdout)
			return nil
		},
	}
}

func (a *app) backupsRestoreCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "restore <name>",
		Short: "Copy a backup over the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, closeFn, err := a.build(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			if !yes {
				ok, err := a.confirm(
					"Restore backup "+args[0]+"?",
					"Stores in "+a.cfg.CacheDir+" are overwritten with the backup copies.",
				)
				if err != nil {
					return a.fail(err)
				}
				if !ok {
					ux.Warn(a.stderr, "restore cancelled")
					return nil
				}
			}
			m, err := orch.Restore(cmd.Context(), args[0])
			if err != nil {
				return a.fail(fmt.Errorf("restoring %s: %w", args[0], err))
			}
			ux.Success(a.stdout, fmt.Sprintf("restored %d files from %s (%s)", len(m.Files), args[0], m.Entity))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

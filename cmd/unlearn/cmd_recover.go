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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianUnlearn/pkg/ux"
)

func (a *app) recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Restore stores left behind by an interrupted deletion",
		Long: `Look up runs the journal still marks as in progress for this cache, restore
their backups and mark them recovered. Deletions do this automatically before
they start; this command runs it on its own.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			orch, closeFn, err := a.build(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			records, err := orch.Recover(cmd.Context())
			if err != nil {
				return a.fail(fmt.Errorf("recovering: %w", err))
			}
			if len(records) == 0 {
				ux.Success(a.stdout, "no interrupted deletions")
				return nil
			}
			s := ux.Summary{Title: fmt.Sprintf("Recovered %d interrupted deletions", len(records)), Status: ux.StatusWarning}
			for _, r := range records {
				value := r.Entity
				if r.BackupDir != "" {
					value += " from " + r.BackupDir
				}
				s.Rows = append(s.Rows, ux.Row{Label: r.ID, Value: value})
			}
			s.Print(a.stdout)
			return nil
		},
	}
}

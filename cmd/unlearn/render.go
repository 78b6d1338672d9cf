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
	"time"

	"github.com/AleutianAI/AleutianUnlearn/pkg/ux"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/pipeline"
)

// printReport shows r as a summary panel, or as JSON in machine mode.
func (a *app) printReport(r *pipeline.DeletionReport) {
	if r == nil {
		return
	}
	if ux.CurrentMode() == ux.ModeMachine {
		data, err := r.JSON()
		if err != nil {
			ux.Error(a.stderr, err.Error())
			return
		}
		fmt.Fprintln(a.stdout, string(data))
		return
	}
	reportSummary(r).Print(a.stdout)
}

func reportSummary(r *pipeline.DeletionReport) ux.Summary {
	s := ux.Summary{Title: summaryTitle(r)}
	switch r.Outcome {
	case pipeline.OutcomeCompleted, pipeline.OutcomeDryRun, pipeline.OutcomeNothingToDelete:
		s.Status = ux.StatusOK
	case pipeline.OutcomeCompletedWithErrors:
		s.Status = ux.StatusWarning
	default:
		s.Status = ux.StatusFailed
	}

	for _, res := range r.Resolutions {
		value := "(no match)"
		if len(res.Entities) > 0 {
			value = strings.Join(res.Entities, ", ")
		}
		s.Rows = append(s.Rows, ux.Row{Label: res.Requested, Value: string(ux.IconArrow) + " " + value})
	}

	if r.DryRun {
		for _, e := range r.Entities {
			if e.Preview == nil {
				continue
			}
			p := e.Preview
			s.Rows = append(s.Rows, ux.Row{
				Label: e.Entity,
				Value: fmt.Sprintf("%d nodes, %d edges, %d chunks, %d communities, %d vector rows",
					p.NodesToRemove, p.EdgesToRemove, p.ChunksInScope, len(p.CommunitiesInScope), p.VectorRowsMatching),
			})
		}
	} else if r.EntityCount() > 0 {
		t := r.Totals
		s.Rows = append(s.Rows,
			ux.Row{Label: "nodes removed", Value: fmt.Sprint(t.NodesRemoved)},
			ux.Row{Label: "edges removed", Value: fmt.Sprint(t.EdgesRemoved)},
			ux.Row{Label: "chunks anonymized", Value: fmt.Sprint(t.ChunksAnonymized)},
			ux.Row{Label: "communities updated", Value: fmt.Sprint(t.CommunitiesUpdated)},
			ux.Row{Label: "vector rows removed", Value: fmt.Sprint(t.VectorRowsRemoved)},
		)
	}
	if r.BackupDir != "" {
		s.Rows = append(s.Rows, ux.Row{Label: "backup", Value: r.BackupDir})
	}
	for _, id := range r.Recovered {
		s.Notes = append(s.Notes, "recovered interrupted run "+id)
	}
	for _, e := range r.Errors {
		s.Notes = append(s.Notes, e.Error())
	}
	if r.Fatal != "" {
		s.Notes = append(s.Notes, "fatal: "+r.Fatal)
	}
	return s
}

func summaryTitle(r *pipeline.DeletionReport) string {
	switch r.Outcome {
	case pipeline.OutcomeDryRun:
		return "Dry run: nothing was written"
	case pipeline.OutcomeNothingToDelete:
		return "Nothing to delete"
	case pipeline.OutcomeRolledBack:
		return "Deletion failed, stores restored from backup"
	case pipeline.OutcomeFailed:
		return "Deletion failed"
	case pipeline.OutcomeCompletedWithErrors:
		return fmt.Sprintf("Deleted %d entities with %d errors", r.EntityCount(), len(r.Errors))
	default:
		return fmt.Sprintf("Deleted %d entities in %s", r.EntityCount(), r.Duration().Round(time.Millisecond))
	}
}

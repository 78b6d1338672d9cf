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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Outcome is the final state of a run.
type Outcome string

const (
	OutcomeCompleted           Outcome = "completed"
	OutcomeCompletedWithErrors Outcome = "completed_with_errors"
	OutcomeNothingToDelete     Outcome = "nothing_to_delete"
	OutcomeDryRun              Outcome = "dry_run"
	OutcomeRolledBack          Outcome = "rolled_back"
	OutcomeFailed              Outcome = "failed"
)

// Step names used in StepError.
const (
	StepResolve      = "resolve"
	StepLoad         = "load"
	StepMemberships  = "memberships"
	StepHops         = "hops"
	StepChunks       = "chunks"
	StepDescriptions = "descriptions"
	StepCommunities  = "communities"
	StepReports      = "reports"
	StepGraph        = "graph"
	StepRepair       = "repair"
	StepVectors      = "vectors"
	StepMirror       = "mirror"
	StepTransaction  = "transaction"
	StepWatch        = "watch"
)

// StepError is a non-fatal failure recorded during a run.
type StepError struct {
	Entity string
	Step   string
	Err    error
}

func (e *StepError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Step, e.Entity, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// MarshalJSON renders the error as text.
func (e *StepError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Entity string `json:"entity,omitempty"`
		Step   string `json:"step"`
		Error  string `json:"error"`
	}{e.Entity, e.Step, e.Err.Error()})
}

// Resolution lists the entities one requested name expanded to.
type Resolution struct {
	Requested string   `json:"requested"`
	Entities  []string `json:"entities"`
}

// EntityReport holds the counts for one resolved entity.
type EntityReport struct {
	Entity    string `json:"entity"`
	Reference string `json:"reference"`

	NodesRemoved int `json:"nodes_removed"`
	EdgesRemoved int `json:"edges_removed"`

	HopSizes          []int `json:"hop_sizes,omitempty"`
	ChunksProcessed   int   `json:"chunks_processed"`
	ChunksAnonymized  int   `json:"chunks_anonymized"`
	NodeDescriptions  int   `json:"node_descriptions_masked"`
	EdgeDescriptions  int   `json:"edge_descriptions_masked"`
	ReportsAnonymized int   `json:"reports_anonymized"`

	CommunitiesTouched     []string          `json:"communities_touched,omitempty"`
	CommunitiesRegenerated int               `json:"communities_regenerated"`
	IndirectEdgesPruned    int               `json:"indirect_edges_pruned"`
	Reclustered            bool              `json:"reclustered"`
	ReclusterMapping       map[string]string `json:"recluster_mapping,omitempty"`
	CommunitiesDeleted     int               `json:"communities_deleted"`
	CommunitiesInserted    int               `json:"communities_inserted"`
	ReferencesRepaired     int               `json:"references_repaired"`

	VectorRowsRemoved int `json:"vector_rows_removed"`
	MirrorDeleted     int `json:"mirror_deleted"`

	// Preview fields are filled by dry runs only.
	Preview *Preview `json:"preview,omitempty"`
}

// Preview is the blast radius a dry run would touch.
type Preview struct {
	NodesToRemove      int      `json:"nodes_to_remove"`
	EdgesToRemove      int      `json:"edges_to_remove"`
	ChunksInScope      int      `json:"chunks_in_scope"`
	CommunitiesInScope []string `json:"communities_in_scope,omitempty"`
	VectorRowsMatching int      `json:"vector_rows_matching"`
}

// Totals sums EntityReport counts.
type Totals struct {
	NodesRemoved       int `json:"nodes_removed"`
	EdgesRemoved       int `json:"edges_removed"`
	ChunksAnonymized   int `json:"chunks_anonymized"`
	CommunitiesUpdated int `json:"communities_updated"`
	VectorRowsRemoved  int `json:"vector_rows_removed"`
}

// DeletionReport is the structured result of one run. It is returned and
// printed, never persisted by the pipeline.
type DeletionReport struct {
	RunID       string         `json:"run_id"`
	Requested   []string       `json:"requested"`
	CacheDir    string         `json:"cache_dir"`
	DryRun      bool           `json:"dry_run"`
	Resolutions []Resolution   `json:"resolutions"`
	Entities    []EntityReport `json:"entities"`
	Totals      Totals         `json:"totals"`
	BackupDir   string         `json:"backup_dir,omitempty"`
	Recovered   []string       `json:"recovered_runs,omitempty"`
	Errors      []*StepError   `json:"errors"`
	Outcome     Outcome        `json:"outcome"`
	Fatal       string         `json:"fatal,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
}

func newReport(runID, cacheDir string, requested []string, dryRun bool, now time.Time) *DeletionReport {
	return &DeletionReport{
		RunID:     runID,
		Requested: append([]string(nil), requested...),
		CacheDir:  cacheDir,
		DryRun:    dryRun,
		Errors:    []*StepError{},
		StartedAt: now.UTC(),
	}
}

// record appends a non-fatal error.
func (r *DeletionReport) record(entity, step string, err error) {
	var se *StepError
	if errors.As(err, &se) {
		r.Errors = append(r.Errors, se)
		return
	}
	r.Errors = append(r.Errors, &StepError{Entity: entity, Step: step, Err: err})
}

// EntityCount returns the number of resolved entities.
func (r *DeletionReport) EntityCount() int {
	n := 0
	for _, res := range r.Resolutions {
		n += len(res.Entities)
	}
	return n
}

func (r *DeletionReport) finalize(outcome Outcome, fatal error, now time.Time) {
	var t Totals
	for _, e := range r.Entities {
		t.NodesRemoved += e.NodesRemoved
		t.EdgesRemoved += e.EdgesRemoved
		t.ChunksAnonymized += e.ChunksAnonymized
		t.CommunitiesUpdated += e.CommunitiesRegenerated + e.CommunitiesInserted + e.ReportsAnonymized
		t.VectorRowsRemoved += e.VectorRowsRemoved
	}
	r.Totals = t
	if outcome == OutcomeCompleted && len(r.Errors) > 0 {
		outcome = OutcomeCompletedWithErrors
	}
	r.Outcome = outcome
	if fatal != nil {
		r.Fatal = fatal.Error()
	}
	r.FinishedAt = now.UTC()
}

// Duration returns the wall time of the run.
func (r *DeletionReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// JSON returns the indented JSON form.
func (r *DeletionReport) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Summary renders a plain-text summary.
func (r *DeletionReport) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Deletion %s: %s\n", r.RunID, r.Outcome)
	fmt.Fprintf(&b, "  requested:  %s\n", strings.Join(r.Requested, ", "))
	for _, res := range r.Resolutions {
		if len(res.Entities) == 0 {
			fmt.Fprintf(&b, "  resolved:   %s -> (nothing)\n", res.Requested)
			continue
		}
		fmt.Fprintf(&b, "  resolved:   %s -> %s\n", res.Requested, strings.Join(res.Entities, ", "))
	}
	if r.DryRun {
		for _, e := range r.Entities {
			if e.Preview == nil {
				continue
			}
			fmt.Fprintf(&b, "  %s: %d nodes, %d edges, %d chunks, %d communities, %d vector rows in scope\n",
				e.Entity, e.Preview.NodesToRemove, e.Preview.EdgesToRemove, e.Preview.ChunksInScope,
				len(e.Preview.CommunitiesInScope), e.Preview.VectorRowsMatching)
		}
	} else {
		t := r.Totals
		fmt.Fprintf(&b, "  nodes removed:        %d\n", t.NodesRemoved)
		fmt.Fprintf(&b, "  edges removed:        %d\n", t.EdgesRemoved)
		fmt.Fprintf(&b, "  chunks anonymized:    %d\n", t.ChunksAnonymized)
		fmt.Fprintf(&b, "  communities updated:  %d\n", t.CommunitiesUpdated)
		fmt.Fprintf(&b, "  vector rows removed:  %d\n", t.VectorRowsRemoved)
	}
	if r.BackupDir != "" {
		fmt.Fprintf(&b, "  backup:     %s\n", r.BackupDir)
	}
	for _, id := range r.Recovered {
		fmt.Fprintf(&b, "  recovered interrupted run %s\n", id)
	}
	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, "  errors (%d):\n", len(r.Errors))
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "    - %s\n", e.Error())
		}
	}
	if r.Fatal != "" {
		fmt.Fprintf(&b, "  fatal: %s\n", r.Fatal)
	}
	fmt.Fprintf(&b, "  duration:   %s\n", r.Duration().Round(time.Millisecond))
	return b.String()
}

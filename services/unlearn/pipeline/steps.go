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

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/anonymize"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/community"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/graphedit"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// entityRun is the state shared by the steps of one entity.
type entityRun struct {
	entity string
	masker *anonymize.Masker
	er     *EntityReport
	report *DeletionReport
	logger *slog.Logger

	graph       *store.Graph
	communities *store.CommunityStore
	memberships []store.Membership
	hops        *anonymize.HopSets
}

// step is one stage of an entity deletion. A returned error aborts the
// run; recoverable problems are recorded on the report by the step.
type step struct {
	name string
	run  func(ctx context.Context, r *entityRun) error
}

func (o *Orchestrator) steps() []step {
	return []step{
		{StepLoad, o.loadStores},
		{StepHops, o.computeHops},
		{StepChunks, o.anonymizeChunks},
		{StepDescriptions, o.anonymizeDescriptions},
		{StepCommunities, o.updateCommunities},
		{StepReports, o.anonymizeReports},
		{StepGraph, o.removeFromGraph},
		{StepRepair, o.repairCommunities},
		{StepVectors, o.pruneVectors},
		{StepMirror, o.pruneMirror},
	}
}

// deleteEntity runs every step for one resolved entity. Mentions are
// masked with the requested name.
func (o *Orchestrator) deleteEntity(ctx context.Context, entity, reference string, er *EntityReport, report *DeletionReport, logger *slog.Logger) error {
	ctx, span := tracer.Start(ctx, "Orchestrator.deleteEntity")
	defer span.End()
	span.SetAttributes(attribute.String("unlearn.entity", entity))

	r := &entityRun{
		entity: entity,
		masker: anonymize.NewMasker(reference, o.opts.MaskToken),
		er:     er,
		report: report,
		logger: logger.With("entity", entity),
	}
	for _, s := range o.steps() {
		if err := ctx.Err(); err != nil {
			return &StepError{Entity: entity, Step: s.name, Err: err}
		}
		if err := s.run(ctx, r); err != nil {
			span.RecordError(err)
			return &StepError{Entity: entity, Step: s.name, Err: err}
		}
	}
	r.logger.Info("entity deleted",
		"nodes_removed", er.NodesRemoved,
		"chunks_anonymized", er.ChunksAnonymized,
		"communities_touched", len(er.CommunitiesTouched),
		"vector_rows_removed", er.VectorRowsRemoved,
	)
	return nil
}

// recoverable records err and reports true when the run can continue
// past it. Only absent store files are recoverable.
func (r *entityRun) recoverable(step string, err error) bool {
	if errors.Is(err, store.ErrDataFileMissing) {
		r.logger.Warn("store file missing, skipping step", "step", step, "error", err)
		r.report.record(r.entity, step, err)
		return true
	}
	return false
}

func (o *Orchestrator) loadStores(_ context.Context, r *entityRun) error {
	l := o.opts.Layout
	g, err := store.LoadGraph(l.Graph())
	if err != nil {
		return err
	}
	r.graph = g

	cs, err := store.LoadCommunities(l.Communities())
	switch {
	case err == nil:
		r.communities = cs
	case r.recoverable(StepCommunities, err):
	default:
		return err
	}

	for _, n := range g.FindNodes(r.entity) {
		if !n.HasClusters() {
			continue
		}
		ms, err := n.Clusters()
		if err != nil {
			r.report.record(r.entity, StepMemberships, fmt.Errorf("node %s: %w", n.ID, err))
			continue
		}
		r.memberships = append(r.memberships, ms...)
	}
	return nil
}

func (o *Orchestrator) computeHops(_ context.Context, r *entityRun) error {
	r.hops = anonymize.HopNeighbors(r.graph, r.entity, o.opts.Hops)
	for _, layer := range r.hops.Layers {
		r.er.HopSizes = append(r.er.HopSizes, len(layer))
	}
	if err := r.hops.Save(o.opts.Layout, anonymize.DefaultHops); err != nil {
		return fmt.Errorf("saving hop files: %w", err)
	}
	return nil
}

func (o *Orchestrator) anonymizeChunks(_ context.Context, r *entityRun) error {
	ids := anonymize.ChunkIDs(r.graph, r.hops)
	res, err := o.chunks.AnonymizeFile(o.opts.Layout.Chunks(), ids, r.masker)
	if err != nil {
		if r.recoverable(StepChunks, err) {
			return nil
		}
		return err
	}
	r.er.ChunksProcessed = res.Processed
	r.er.ChunksAnonymized = res.Changed
	return nil
}

func (o *Orchestrator) anonymizeDescriptions(_ context.Context, r *entityRun) error {
	res := anonymize.AnonymizeDescriptions(r.graph, r.hops, r.masker)
	r.er.NodeDescriptions = res.Nodes
	r.er.EdgeDescriptions = res.Edges
	if res.Nodes+res.Edges == 0 {
		return nil
	}
	return r.graph.Save(o.opts.Layout.Graph())
}

// updateCommunities runs the community branch when the target carries
// memberships and the community store is present.
func (o *Orchestrator) updateCommunities(ctx context.Context, r *entityRun) error {
	if r.communities == nil || len(r.memberships) == 0 {
		r.logger.Debug("no community memberships, skipping community branch")
		return nil
	}
	res, err := o.deps.Driver.Run(ctx, community.BranchInput{
		Layout:      o.opts.Layout,
		Graph:       r.graph,
		Communities: r.communities,
		Target:      r.entity,
		Memberships: r.memberships,
	})
	if res != nil {
		if res.Impact != nil {
			r.er.CommunitiesTouched = res.Impact.Touched.IDs()
			r.er.CommunitiesRegenerated = len(res.Impact.Regenerated)
			r.er.IndirectEdgesPruned = res.Impact.PrunedEdges
		}
		r.er.Reclustered = res.Reclustered
		r.er.ReclusterMapping = res.Mapping
		r.er.CommunitiesDeleted = res.Merge.Deleted
		r.er.CommunitiesInserted = res.Merge.Inserted
		for _, w := range res.Warnings {
			r.report.record(r.entity, StepCommunities, w)
		}
	}
	return err
}

func (o *Orchestrator) anonymizeReports(_ context.Context, r *entityRun) error {
	if r.communities == nil {
		return nil
	}
	ids := anonymize.ReportClusters(r.graph, r.hops, r.logger)
	n := anonymize.AnonymizeReports(r.communities, ids, r.masker)
	r.er.ReportsAnonymized = n
	if n == 0 {
		return nil
	}
	return r.communities.Save(o.opts.Layout.Communities())
}

func (o *Orchestrator) removeFromGraph(_ context.Context, r *entityRun) error {
	res := graphedit.Remove(r.graph, r.entity)
	r.er.NodesRemoved = res.NodesRemoved
	r.er.EdgesRemoved = res.EdgesRemoved
	if !res.Changed() {
		r.logger.Info("entity not present in graph, nothing removed")
		return nil
	}
	return r.graph.Save(o.opts.Layout.Graph())
}

// repairCommunities drops community references to graph elements that no
// longer exist.
func (o *Orchestrator) repairCommunities(_ context.Context, r *entityRun) error {
	if r.communities == nil {
		return nil
	}
	res := community.Repair(r.communities, r.graph)
	if res.Clean() {
		return nil
	}
	r.er.ReferencesRepaired = len(res.Violations)
	for _, v := range res.Violations {
		r.logger.Debug("repaired community reference", "violation", v)
	}
	return r.communities.Save(o.opts.Layout.Communities())
}

func (o *Orchestrator) pruneVectors(_ context.Context, r *entityRun) error {
	res, err := o.pruner.PruneFile(o.opts.Layout.Vectors(), r.entity)
	if err != nil {
		if r.recoverable(StepVectors, err) {
			return nil
		}
		return err
	}
	r.er.VectorRowsRemoved = res.Removed
	return nil
}

// pruneMirror never aborts the run: the local index is authoritative.
func (o *Orchestrator) pruneMirror(ctx context.Context, r *entityRun) error {
	if o.deps.Mirror == nil {
		return nil
	}
	res, err := o.deps.Mirror.Delete(ctx, r.entity)
	r.er.MirrorDeleted = res.Successful
	if err != nil {
		r.report.record(r.entity, StepMirror, err)
	}
	return nil
}

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

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/anonymize"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/community"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/resolve"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// dryRun resolves the request and fills a Preview per entity. Stores are
// read, never written, and no lock or backup is taken.
func (o *Orchestrator) dryRun(ctx context.Context, report *DeletionReport) error {
	l := o.opts.Layout
	g, err := store.LoadGraph(l.Graph())
	if err != nil {
		report.finalize(OutcomeFailed, err, o.now())
		return fmt.Errorf("loading graph: %w", err)
	}
	resolutions, err := o.deps.Resolver.ResolveAll(ctx, report.Requested, g)
	if err != nil {
		report.finalize(OutcomeFailed, err, o.now())
		return fmt.Errorf("resolving entities: %w", err)
	}

	cs, err := store.LoadCommunities(l.Communities())
	if err != nil {
		report.record("", StepCommunities, err)
		cs = nil
	}
	vs, err := store.LoadVectors(l.Vectors())
	if err != nil {
		report.record("", StepVectors, err)
		vs = nil
	}

	for _, res := range resolutions {
		report.Resolutions = append(report.Resolutions, Resolution{Requested: res.Raw, Entities: res.Entities})
		if len(res.Entities) == 0 {
			report.record(res.Raw, StepResolve, fmt.Errorf("%w: %s", resolve.ErrEntityNotFound, res.Raw))
		}
		for _, entity := range res.Entities {
			report.Entities = append(report.Entities, o.preview(g, cs, vs, entity, res.Raw, report))
		}
	}

	outcome := OutcomeDryRun
	if report.EntityCount() == 0 {
		outcome = OutcomeNothingToDelete
	}
	report.finalize(outcome, nil, o.now())
	return nil
}

func (o *Orchestrator) preview(g *store.Graph, cs *store.CommunityStore, vs *store.VectorStore, entity, reference string, report *DeletionReport) EntityReport {
	er := EntityReport{Entity: entity, Reference: reference, Preview: &Preview{}}

	hops := anonymize.HopNeighbors(g, entity, o.opts.Hops)
	for _, layer := range hops.Layers {
		er.HopSizes = append(er.HopSizes, len(layer))
	}
	seen := make(map[*store.Edge]bool)
	for _, n := range g.FindNodes(entity) {
		er.Preview.NodesToRemove++
		for _, e := range g.EdgesOf(n.ID) {
			if !seen[e] {
				seen[e] = true
				er.Preview.EdgesToRemove++
			}
		}
	}
	er.Preview.ChunksInScope = len(anonymize.ChunkIDs(g, hops))

	if cs != nil {
		var ms []store.Membership
		for _, n := range g.FindNodes(entity) {
			if !n.HasClusters() {
				continue
			}
			got, err := n.Clusters()
			if err != nil {
				report.record(entity, StepMemberships, fmt.Errorf("node %s: %w", n.ID, err))
				continue
			}
			ms = append(ms, got...)
		}
		touched, truncated := community.Closure(cs, community.Seeds(ms), o.opts.ClosureDepth)
		er.Preview.CommunitiesInScope = touched.IDs()
		if truncated {
			report.record(entity, StepCommunities, errors.New("sub-community traversal truncated at depth limit"))
		}
	}

	if vs != nil {
		er.Preview.VectorRowsMatching = o.pruner.Count(vs, entity)
	}
	return er
}

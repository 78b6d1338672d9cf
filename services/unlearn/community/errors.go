// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package community keeps the community hierarchy of a GraphRAG cache
// consistent while an entity is removed from it.
//
// The stages run in this order for one entity:
//
//	ImpactEngine.Run        strip the entity, prune indirect edges, refresh reports
//	Evaluator.Evaluate      decide whether leaf communities changed shape
//	ExtractSubgraph         collect the changed leaf communities from the graph
//	RepairReferences        pull in nodes referenced by extracted edges
//	Reclusterer.Recluster   cluster the subgraph and write fresh reports
//	Reconcile               rename fresh IDs so they cannot collide
//	Merge                   replace touched communities with the fresh ones
//	UpdateMemberships       rewrite node cluster attributes
//
// Driver sequences the stages and persists between them. Repair enforces
// the community invariant after structural deletion.
package community

import "errors"

var (
	// ErrConsistencyViolation marks a community that references a node or
	// edge missing from the graph. Repair fixes these; the error is used to
	// classify what was fixed.
	ErrConsistencyViolation = errors.New("community references missing graph element")

	// ErrNoLeafCommunities is returned when a subgraph is requested for a
	// touched set without level-0 communities.
	ErrNoLeafCommunities = errors.New("no level-0 communities to extract")
)

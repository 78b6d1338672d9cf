// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cluster provides the clustering collaborator used to re-cluster
// the repaired subgraph: hierarchical Leiden over the undirected entity
// graph, producing per-node {level, cluster} memberships.
package cluster

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// ErrEmptyNetwork is returned when the graph has no edges to cluster.
var ErrEmptyNetwork = errors.New("empty network: nothing to cluster")

// Clusterer assigns hierarchical community memberships to graph nodes.
//
// # Outputs
//
//   - map[string][]store.Membership: Raw node id to memberships, ordered by
//     level. Nodes left out of the clustering are absent from the map.
//   - error: ErrEmptyNetwork when the graph has no edges.
type Clusterer interface {
	Cluster(ctx context.Context, g *store.Graph) (map[string][]store.Membership, error)
}

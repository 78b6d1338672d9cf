// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package community

import (
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

type pairKey [2]string

func undirected(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a, b}
}

// Subgraph is the part of the graph taken out for re-clustering.
type Subgraph struct {
	Graph *store.Graph

	// Leaves are the level-0 communities it was built from.
	Leaves []string

	// Extracted are the node IDs taken from community member lists.
	Extracted []string

	// Repaired are the node IDs added by RepairReferences.
	Repaired []string
}

// ExtractSubgraph copies into a new graph every node listed by the
// level-0 communities in ids, and every full-graph edge whose endpoint
// pair a community lists in either orientation. Elements keep full-graph
// document order. Listed nodes or edges absent from full are skipped.
//
// # Outputs
//
//   - *Subgraph: The extracted graph with Extracted filled in.
//   - error: ErrNoLeafCommunities when no ID names a level-0 community.
func ExtractSubgraph(full *store.Graph, cs *store.CommunityStore, ids []string) (*Subgraph, error) {
	wantNodes := make(map[string]struct{})
	wantEdges := make(map[pairKey]struct{})
	var leaves []string
	for _, id := range ids {
		c, ok := cs.Get(id)
		if !ok || c.Level != 0 {
			continue
		}
		leaves = append(leaves, id)
		for _, n := range c.Nodes {
			wantNodes[n] = struct{}{}
		}
		for _, e := range c.Edges {
			wantEdges[undirected(e[0], e[1])] = struct{}{}
		}
	}
	if len(leaves) == 0 {
		return nil, ErrNoLeafCommunities
	}

	sub := &Subgraph{Graph: full.NewEmptyLike(), Leaves: leaves}
	for _, n := range full.Nodes() {
		if _, ok := wantNodes[n.ID]; ok {
			sub.Graph.AddNodeCopy(n)
			sub.Extracted = append(sub.Extracted, n.ID)
		}
	}
	for _, e := range full.Edges() {
		if _, ok := wantEdges[undirected(e.Source, e.Target)]; ok {
			sub.Graph.AddEdgeCopy(e)
		}
	}
	return sub, nil
}

// RepairReferences adds to the subgraph every edge endpoint it lacks,
// copied from full, and records them in Repaired. Endpoints full lacks
// too are left dangling; clustering ignores them.
func (s *Subgraph) RepairReferences(full *store.Graph) []string {
	for _, e := range s.Graph.Edges() {
		for _, id := range []string{e.Source, e.Target} {
			if s.Graph.HasNode(id) {
				continue
			}
			n := full.Node(id)
			if n == nil {
				continue
			}
			s.Graph.AddNodeCopy(n)
			s.Repaired = append(s.Repaired, id)
		}
	}
	return s.Repaired
}

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
	"fmt"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// RepairResult reports what Repair dropped.
type RepairResult struct {
	NodesDropped int
	EdgesDropped int
	SubsDropped  int

	// Violations has one ErrConsistencyViolation per dropped reference.
	Violations []error
}

// Clean reports whether the store already matched the graph.
func (r RepairResult) Clean() bool { return len(r.Violations) == 0 }

// Repair drops community references the graph cannot satisfy: member
// nodes absent from g, edge pairs with no graph edge between them and
// sub_community IDs absent from the store.
func Repair(cs *store.CommunityStore, g *store.Graph) RepairResult {
	var res RepairResult
	for _, id := range cs.IDs() {
		c, _ := cs.Get(id)

		nodes := c.Nodes[:0:0]
		for _, n := range c.Nodes {
			if g.HasNode(n) {
				nodes = append(nodes, n)
				continue
			}
			res.NodesDropped++
			res.Violations = append(res.Violations,
				fmt.Errorf("%w: community %s lists missing node %s", ErrConsistencyViolation, id, n))
		}
		c.Nodes = nodes

		edges := c.Edges[:0:0]
		for _, e := range c.Edges {
			if findEdge(g, e[0], e[1]) != nil {
				edges = append(edges, e)
				continue
			}
			res.EdgesDropped++
			res.Violations = append(res.Violations,
				fmt.Errorf("%w: community %s lists missing edge %s -> %s", ErrConsistencyViolation, id, e[0], e[1]))
		}
		c.Edges = edges
	}

	for _, id := range dropDanglingSubs(cs) {
		res.SubsDropped++
		res.Violations = append(res.Violations,
			fmt.Errorf("%w: sub-community reference %s", ErrConsistencyViolation, id))
	}
	return res
}

// dropDanglingSubs removes sub_community entries naming absent
// communities and returns the removed IDs.
func dropDanglingSubs(cs *store.CommunityStore) []string {
	var dropped []string
	for _, id := range cs.IDs() {
		c, _ := cs.Get(id)
		kept := c.SubCommunities[:0:0]
		for _, sub := range c.SubCommunities {
			if _, ok := cs.Get(sub); ok {
				kept = append(kept, sub)
				continue
			}
			dropped = append(dropped, sub)
		}
		c.SubCommunities = kept
	}
	return dropped
}

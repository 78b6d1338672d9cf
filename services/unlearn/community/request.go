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
	"sort"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/llm"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// BuildReportRequest describes community c from the live graph.
//
// # Description
//
// Entities are the member nodes still present in g, ordered by degree.
// Relationships are the community's edge pairs that still exist in g,
// ranked by the sum of their endpoint degrees. Exclude is carried into the
// request so the generator drops the entity's rows and instructs the model
// to ignore it.
func BuildReportRequest(g *store.Graph, cid string, c *store.Community, exclude string) llm.ReportRequest {
	req := llm.ReportRequest{CommunityID: cid, Level: c.Level, Exclude: exclude}

	degree := func(id string) int { return len(g.EdgesOf(id)) }

	for _, id := range c.Nodes {
		n := g.Node(id)
		if n == nil {
			continue
		}
		req.Entities = append(req.Entities, llm.Entity{
			Name:        n.ID,
			Type:        n.EntityType(),
			Description: n.Description(),
			Degree:      degree(n.ID),
		})
	}
	sort.SliceStable(req.Entities, func(i, j int) bool { return req.Entities[i].Degree > req.Entities[j].Degree })
	for i := range req.Entities {
		req.Entities[i].ID = i
	}

	for _, pair := range c.Edges {
		e := findEdge(g, pair[0], pair[1])
		if e == nil {
			continue
		}
		req.Relationships = append(req.Relationships, llm.Relationship{
			Source:      e.Source,
			Target:      e.Target,
			Description: e.Description(),
			Rank:        degree(e.Source) + degree(e.Target),
		})
	}
	sort.SliceStable(req.Relationships, func(i, j int) bool { return req.Relationships[i].Rank > req.Relationships[j].Rank })
	for i := range req.Relationships {
		req.Relationships[i].ID = i
	}
	return req
}

// findEdge returns a live edge joining a and b in either direction.
func findEdge(g *store.Graph, a, b string) *store.Edge {
	for _, e := range g.EdgesOf(a) {
		if (e.Source == a && e.Target == b) || (e.Source == b && e.Target == a) {
			return e
		}
	}
	return nil
}

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
	"log/slog"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// MembershipResult counts the nodes UpdateMemberships rewrote.
type MembershipResult struct {
	Replaced int
	Appended int
}

// UpdateMemberships rewrites the clusters attribute of the subgraph's
// nodes in g from the merged store.
//
// # Description
//
// A reverse index maps each node to the communities listing it, in store
// order. Extracted nodes get their memberships replaced by
// {level: position, cluster: id} entries. Repaired nodes keep their
// memberships and gain the entries whose cluster they lack.
func UpdateMemberships(g *store.Graph, merged *store.CommunityStore, sub *Subgraph, logger *slog.Logger) MembershipResult {
	if logger == nil {
		logger = slog.Default()
	}
	index := make(map[string][]string)
	for _, id := range merged.IDs() {
		c, _ := merged.Get(id)
		for _, n := range c.Nodes {
			index[n] = append(index[n], id)
		}
	}
	entries := func(node string) []store.Membership {
		ms := make([]store.Membership, 0, len(index[node]))
		for i, cid := range index[node] {
			ms = append(ms, store.Membership{Level: i, Cluster: store.ClusterID(cid)})
		}
		return ms
	}

	var res MembershipResult
	for _, id := range sub.Extracted {
		n := g.Node(id)
		if n == nil {
			continue
		}
		n.SetClusters(entries(id))
		res.Replaced++
	}

	for _, id := range sub.Repaired {
		n := g.Node(id)
		if n == nil {
			continue
		}
		current, err := n.Clusters()
		if err != nil {
			logger.Warn("unreadable memberships, rebuilding", "node", id, "error", err)
			current = nil
		}
		seen := make(map[store.ClusterID]struct{}, len(current))
		for _, m := range current {
			seen[m.Cluster] = struct{}{}
		}
		added := false
		for _, m := range entries(id) {
			if _, ok := seen[m.Cluster]; ok {
				continue
			}
			seen[m.Cluster] = struct{}{}
			current = append(current, m)
			added = true
		}
		if added {
			n.SetClusters(current)
			res.Appended++
		}
	}
	return res
}

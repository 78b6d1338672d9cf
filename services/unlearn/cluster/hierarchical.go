// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

var tracer = otel.Tracer("unlearn.cluster")

// LeidenClusterer is the default Clusterer: hierarchical Leiden with global
// numeric cluster ids.
//
// # Description
//
// Level 0 partitions the (largest component of the) graph. Every community
// larger than MaxClusterSize is clustered again on its induced subgraph and
// its parts become level+1 communities, until MaxLevels is reached or a
// community no longer splits. Cluster ids are assigned breadth-first, so all
// level n ids precede level n+1 ids.
//
// # Thread Safety
//
// Safe for concurrent use; Cluster keeps no state between calls.
type LeidenClusterer struct {
	opts   Options
	logger *slog.Logger
}

// NewLeidenClusterer creates a clusterer. Invalid option values fall back to
// defaults. A nil logger uses slog.Default().
func NewLeidenClusterer(opts Options, logger *slog.Logger) *LeidenClusterer {
	opts.Validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &LeidenClusterer{opts: opts, logger: logger.With("component", "cluster.LeidenClusterer")}
}

// Options returns the validated options.
func (c *LeidenClusterer) Options() Options { return c.opts }

type pending struct {
	level   int
	members []int // indices into the root network, sorted
}

// Cluster implements Clusterer.
func (c *LeidenClusterer) Cluster(ctx context.Context, g *store.Graph) (map[string][]store.Membership, error) {
	root := buildNetwork(g)

	ctx, span := tracer.Start(ctx, "LeidenClusterer.Cluster",
		trace.WithAttributes(
			attribute.Int("node_count", root.size()),
			attribute.Float64("total_weight", root.total),
		),
	)
	defer span.End()

	if root.size() == 0 || root.total == 0 {
		span.AddEvent("empty_network")
		return nil, ErrEmptyNetwork
	}

	scope := root
	if !c.opts.AllComponents {
		components := root.components()
		largest := components[0]
		for _, comp := range components[1:] {
			if len(comp) > len(largest) {
				largest = comp
			}
		}
		if len(largest) < root.size() {
			scope = root.subnetwork(largest)
			span.SetAttributes(attribute.Int("largest_component", len(largest)))
		}
	}

	result := make(map[string][]store.Membership, scope.size())
	nextID := 0
	runs := 0

	all := make([]int, scope.size())
	for i := range all {
		all[i] = i
	}
	queue := []pending{{level: 0, members: all}}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		nw := scope
		if len(item.members) != scope.size() {
			nw = scope.subnetwork(item.members)
		}

		// A top-level graph is always partitioned; nested runs only for
		// oversized communities that still have internal edges.
		var parts [][]int
		if item.level == 0 || nw.total > 0 {
			res, err := leiden(ctx, nw, c.opts)
			if err != nil {
				span.AddEvent("cancelled")
				return nil, fmt.Errorf("leiden level %d: %w", item.level, err)
			}
			runs++
			parts = groupMembers(res, item.members)
		}
		if item.level > 0 && len(parts) < 2 {
			continue
		}

		for _, members := range parts {
			id := store.ClusterID(strconv.Itoa(nextID))
			nextID++
			for _, m := range members {
				nodeID := scope.ids[m]
				result[nodeID] = append(result[nodeID], store.Membership{Level: item.level, Cluster: id})
			}
			if len(members) > c.opts.MaxClusterSize && item.level+1 < c.opts.MaxLevels {
				queue = append(queue, pending{level: item.level + 1, members: members})
			}
		}
	}

	c.logger.Debug("hierarchical leiden completed",
		slog.Int("node_count", scope.size()),
		slog.Int("clusters", nextID),
		slog.Int("leiden_runs", runs),
	)
	span.SetAttributes(
		attribute.Int("clusters_found", nextID),
		attribute.Int("leiden_runs", runs),
		attribute.String("algorithm", "hierarchical_leiden"),
	)
	return result, nil
}

// groupMembers converts labels over a subnetwork back to root indices,
// grouped per community in label order.
func groupMembers(res leidenResult, members []int) [][]int {
	parts := make([][]int, res.count)
	for local, label := range res.membership {
		parts[label] = append(parts[label], members[local])
	}
	return parts
}

// buildNetwork converts the GraphML graph into a weighted undirected network.
// Parallel edges accumulate weight; self-loops and edges to unknown nodes are
// ignored.
func buildNetwork(g *store.Graph) *network {
	nodes := g.Nodes()
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)

	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	type pair struct{ a, b int }
	weights := make(map[pair]float64)
	var pairs []pair
	for _, e := range g.Edges() {
		a, okA := index[e.Source]
		b, okB := index[e.Target]
		if !okA || !okB || a == b {
			continue
		}
		if a > b {
			a, b = b, a
		}
		p := pair{a, b}
		if _, ok := weights[p]; !ok {
			pairs = append(pairs, p)
		}
		weights[p] += e.Weight()
	}

	nw := &network{
		ids:    ids,
		adj:    make([][]neighbor, len(ids)),
		degree: make([]float64, len(ids)),
		self:   make([]float64, len(ids)),
	}
	for _, p := range pairs {
		w := weights[p]
		nw.adj[p.a] = append(nw.adj[p.a], neighbor{to: p.b, weight: w})
		nw.adj[p.b] = append(nw.adj[p.b], neighbor{to: p.a, weight: w})
		nw.degree[p.a] += w
		nw.degree[p.b] += w
		nw.total += w
	}
	return nw
}

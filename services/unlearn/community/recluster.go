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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/cluster"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/llm"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// ErrReclusterSkipped marks a re-clustering that produced nothing to
// merge. The caller continues without the merge stages.
var ErrReclusterSkipped = errors.New("re-clustering skipped")

// Reclusterer partitions a repaired subgraph and writes reports for the
// new communities.
//
// # Thread Safety
//
// Safe for concurrent use across different subgraphs.
type Reclusterer struct {
	clusterer cluster.Clusterer
	generator llm.ReportGenerator
	cfg       ImpactConfig
	logger    *slog.Logger
}

// NewReclusterer creates a reclusterer. Concurrency and ReportTimeout of
// cfg apply to report generation.
func NewReclusterer(c cluster.Clusterer, gen llm.ReportGenerator, cfg ImpactConfig, logger *slog.Logger) *Reclusterer {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Reclusterer{
		clusterer: c,
		generator: gen,
		cfg:       cfg,
		logger:    logger.With("component", "community.Reclusterer"),
	}
}

// Recluster runs clustering and report generation over g.
//
// # Outputs
//
//   - *store.CommunityStore: Fresh communities keyed by clusterer IDs.
//   - error: Wraps ErrReclusterSkipped when g has nothing to cluster or a
//     report could not be produced in time; ctx errors otherwise.
func (r *Reclusterer) Recluster(ctx context.Context, g *store.Graph, exclude string) (*store.CommunityStore, error) {
	ctx, span := tracer.Start(ctx, "Reclusterer.Recluster")
	defer span.End()
	span.SetAttributes(attribute.Int("unlearn.subgraph_nodes", g.NodeCount()))

	memberships, err := r.clusterer.Cluster(ctx, g)
	if errors.Is(err, cluster.ErrEmptyNetwork) {
		r.logger.Warn("subgraph has no edges, skipping re-clustering", "nodes", g.NodeCount())
		recordRecluster(ctx, "empty", 0)
		return nil, fmt.Errorf("%w: %v", ErrReclusterSkipped, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "clustering failed")
		recordRecluster(ctx, "error", 0)
		return nil, fmt.Errorf("clustering subgraph: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fresh := BuildCommunities(g, memberships)
	if err := r.writeReports(ctx, g, fresh, exclude); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		span.RecordError(err)
		recordRecluster(ctx, "report_failed", 0)
		return nil, fmt.Errorf("%w: %v", ErrReclusterSkipped, err)
	}

	span.SetAttributes(attribute.Int("unlearn.fresh_communities", fresh.Len()))
	recordRecluster(ctx, "ok", fresh.Len())
	r.logger.Info("subgraph re-clustered",
		"nodes", g.NodeCount(), "communities", fresh.Len(), "ids", describeIDs(fresh.IDs()))
	return fresh, nil
}

func (r *Reclusterer) writeReports(ctx context.Context, g *store.Graph, cs *store.CommunityStore, exclude string) error {
	ids := cs.IDs()
	reports := make([]llm.Report, len(ids))

	sem := semaphore.NewWeighted(int64(r.cfg.Concurrency))
	grp, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		c, _ := cs.Get(id)
		req := BuildReportRequest(g, id, c, exclude)
		grp.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			callCtx, cancel := context.WithTimeout(gctx, r.cfg.ReportTimeout)
			defer cancel()
			start := time.Now()
			report, err := r.generator.GenerateReport(callCtx, req)
			if err != nil {
				return fmt.Errorf("community %s after %s: %w", id, time.Since(start).Round(time.Millisecond), err)
			}
			reports[i] = report
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return err
	}
	for i, id := range ids {
		c, _ := cs.Get(id)
		c.ReportJSON = reports[i].Map()
		c.ReportString = reports[i].String()
	}
	return nil
}

// BuildCommunities assembles community records from per-node memberships.
//
// # Description
//
// Nodes are visited in document order. Each membership adds the node,
// the sorted endpoint pair of every incident edge and the node's source
// chunk IDs to the community record for that cluster. Communities at
// level n list as sub_communities each level n+1 community whose members
// are all theirs. Occurrence is the community's chunk count divided by the
// largest chunk count.
func BuildCommunities(g *store.Graph, memberships map[string][]store.Membership) *store.CommunityStore {
	cs := store.NewCommunityStore()
	edgeSets := make(map[string]map[pairKey]struct{})
	chunkSets := make(map[string]map[string]struct{})

	for _, n := range g.Nodes() {
		for _, m := range memberships[n.ID] {
			id := string(m.Cluster)
			c, ok := cs.Get(id)
			if !ok {
				c = store.NewCommunity(m.Level)
				c.Title = "Cluster " + id
				cs.Set(id, c)
				edgeSets[id] = make(map[pairKey]struct{})
				chunkSets[id] = make(map[string]struct{})
			}
			if !c.HasNode(n.ID) {
				c.Nodes = append(c.Nodes, n.ID)
			}
			for _, e := range g.EdgesOf(n.ID) {
				k := undirected(e.Source, e.Target)
				if _, seen := edgeSets[id][k]; !seen {
					edgeSets[id][k] = struct{}{}
					c.Edges = append(c.Edges, [2]string(k))
				}
			}
			for _, chunk := range n.SourceIDs() {
				if _, seen := chunkSets[id][chunk]; !seen {
					chunkSets[id][chunk] = struct{}{}
					c.ChunkIDs = append(c.ChunkIDs, chunk)
				}
			}
		}
	}

	byLevel := make(map[int][]string)
	maxChunks := 0
	for _, id := range cs.IDs() {
		c, _ := cs.Get(id)
		sort.Slice(c.Edges, func(i, j int) bool {
			if c.Edges[i][0] != c.Edges[j][0] {
				return c.Edges[i][0] < c.Edges[j][0]
			}
			return c.Edges[i][1] < c.Edges[j][1]
		})
		byLevel[c.Level] = append(byLevel[c.Level], id)
		maxChunks = max(maxChunks, len(c.ChunkIDs))
	}

	for _, id := range cs.IDs() {
		c, _ := cs.Get(id)
		c.SubCommunities = []string{}
		for _, childID := range byLevel[c.Level+1] {
			child, _ := cs.Get(childID)
			if isSubset(child.Nodes, c) {
				c.SubCommunities = append(c.SubCommunities, childID)
			}
		}
		if maxChunks > 0 {
			c.Occurrence = float64(len(c.ChunkIDs)) / float64(maxChunks)
		}
	}
	return cs
}

func isSubset(nodes []string, c *store.Community) bool {
	for _, n := range nodes {
		if !c.HasNode(n) {
			return false
		}
	}
	return true
}

// describeIDs joins ids for log lines.
func describeIDs(ids []string) string {
	if len(ids) > 10 {
		return strings.Join(ids[:10], ",") + fmt.Sprintf(",...(+%d)", len(ids)-10)
	}
	return strings.Join(ids, ",")
}

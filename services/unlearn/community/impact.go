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
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/ident"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/llm"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

const (
	// DefaultMaxDepth bounds the sub-community traversal.
	DefaultMaxDepth = 16

	// DefaultConcurrency bounds concurrent report generation.
	DefaultConcurrency = 4

	// DefaultReportTimeout bounds one report generation call.
	DefaultReportTimeout = 60 * time.Second
)

// ImpactConfig configures an ImpactEngine.
type ImpactConfig struct {
	// MaxDepth bounds how many sub-community levels below a seed are
	// followed. Default: 16
	MaxDepth int

	// Concurrency bounds concurrent report generation. Default: 4
	Concurrency int

	// ReportTimeout bounds each report generation call. Default: 60s
	ReportTimeout time.Duration
}

func (c *ImpactConfig) applyDefaults() {
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.ReportTimeout <= 0 {
		c.ReportTimeout = DefaultReportTimeout
	}
}

// ImpactInput is the state one impact computation works on.
type ImpactInput struct {
	// Target is the entity being deleted.
	Target string

	// Memberships is the target's clusters attribute, read before the
	// node is removed from the graph.
	Memberships []store.Membership

	// Graph is the live graph. Indirect edges are removed from it.
	Graph *store.Graph

	// Communities is the live community store. It is edited in place.
	Communities *store.CommunityStore
}

// ImpactResult describes the blast radius of one deletion.
type ImpactResult struct {
	// Touched is the seed clusters plus every reachable sub-community.
	Touched *TouchedSet

	// Truncated is set when MaxDepth cut the traversal short.
	Truncated bool

	NodesStripped int
	EdgesStripped int

	// PrunedEdges counts graph edges removed as indirect.
	PrunedEdges int

	// Pruned lists communities outside Touched that lost target edges.
	Pruned []string

	// Regenerated lists communities whose report was rewritten.
	Regenerated []string

	// Emptied lists communities left without nodes; their report is
	// cleared.
	Emptied []string

	// ReportErrors holds per-community generation failures. The affected
	// communities keep their previous report.
	ReportErrors []error
}

// ImpactEngine computes and applies the community-level effects of
// deleting one entity.
//
// # Description
//
// Run performs, in order:
//
//  1. Seed clusters from the target's membership list.
//  2. Closure over sub_communities with an explicit stack and visited set.
//  3. Strip the target from the node and edge lists of every touched
//     community.
//  4. Prune indirect edges: an edge from the target to a neighbour that
//     sits in a community without the target is removed from the graph
//     and from that community's edge list.
//  5. Regenerate the reports of every stripped or pruned community with
//     the target excluded. Generation reads a snapshot of the store and
//     results are written back by the calling goroutine.
//
// Persisting the touched set, the store and the graph is left to the
// caller.
//
// # Thread Safety
//
// Safe for concurrent use across different inputs. One input must not be
// shared between concurrent runs.
type ImpactEngine struct {
	generator llm.ReportGenerator
	cfg       ImpactConfig
	logger    *slog.Logger
}

// NewImpactEngine creates an engine that regenerates reports with gen.
func NewImpactEngine(gen llm.ReportGenerator, cfg ImpactConfig, logger *slog.Logger) *ImpactEngine {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &ImpactEngine{
		generator: gen,
		cfg:       cfg,
		logger:    logger.With("component", "community.ImpactEngine"),
	}
}

// Run applies the impact of deleting in.Target.
//
// # Outputs
//
//   - *ImpactResult: What was touched and rewritten.
//   - error: Only cancellation of ctx. Report generation failures are
//     collected in ImpactResult.ReportErrors.
func (e *ImpactEngine) Run(ctx context.Context, in ImpactInput) (*ImpactResult, error) {
	ctx, span := tracer.Start(ctx, "ImpactEngine.Run")
	defer span.End()
	span.SetAttributes(attribute.String("unlearn.target", in.Target))

	res := &ImpactResult{}
	res.Touched, res.Truncated = Closure(in.Communities, Seeds(in.Memberships), e.cfg.MaxDepth)
	if res.Truncated {
		e.logger.Warn("sub-community traversal hit the depth limit",
			"target", in.Target, "max_depth", e.cfg.MaxDepth)
	}

	res.NodesStripped, res.EdgesStripped = Strip(in.Communities, res.Touched.IDs(), in.Target)

	pruned := e.pruneIndirect(in, res)
	res.Pruned = pruned.IDs()

	regen := append(res.Touched.IDs(), res.Pruned...)
	if err := e.regenerate(ctx, in, regen, res); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "report regeneration cancelled")
		return res, err
	}

	span.SetAttributes(
		attribute.Int("unlearn.touched", res.Touched.Len()),
		attribute.Int("unlearn.pruned_edges", res.PrunedEdges),
		attribute.Int("unlearn.regenerated", len(res.Regenerated)),
	)
	recordImpact(ctx, res.Touched.Len(), len(res.Regenerated))
	e.logger.Info("community impact applied",
		"target", in.Target,
		"touched", res.Touched.Len(),
		"nodes_stripped", res.NodesStripped,
		"edges_stripped", res.EdgesStripped,
		"pruned_edges", res.PrunedEdges,
		"regenerated", len(res.Regenerated),
		"report_errors", len(res.ReportErrors),
	)
	return res, nil
}

// Seeds returns the cluster IDs of ms in order without duplicates.
func Seeds(ms []store.Membership) []string {
	t := NewTouchedSet()
	for _, m := range ms {
		if m.Cluster != "" {
			t.Add(string(m.Cluster))
		}
	}
	return t.IDs()
}

// Closure collects seeds and every community reachable through
// sub_communities, depth first in seed order.
//
// # Description
//
// Traversal uses an explicit stack. A visited set makes cycles harmless;
// maxDepth bounds the number of sub-community hops below a seed. Seeds
// missing from the store are still part of the result so later stages see
// the full set.
//
// # Outputs
//
//   - *TouchedSet: Visited IDs in pre-order.
//   - bool: True when a reference was skipped because of maxDepth.
func Closure(cs *store.CommunityStore, seeds []string, maxDepth int) (*TouchedSet, bool) {
	type frame struct {
		id    string
		depth int
	}
	visited := NewTouchedSet()
	truncated := false

	stack := make([]frame, 0, len(seeds))
	for i := len(seeds) - 1; i >= 0; i-- {
		stack = append(stack, frame{id: seeds[i]})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !visited.Add(f.id) {
			continue
		}
		c, ok := cs.Get(f.id)
		if !ok {
			continue
		}
		subs := c.SubCommunities
		for i := len(subs) - 1; i >= 0; i-- {
			if visited.Has(subs[i]) {
				continue
			}
			if f.depth+1 > maxDepth {
				truncated = true
				continue
			}
			stack = append(stack, frame{id: subs[i], depth: f.depth + 1})
		}
	}
	return visited, truncated
}

// Strip removes target from the node list of each listed community and
// drops every edge with a target endpoint. Unknown IDs are ignored.
func Strip(cs *store.CommunityStore, ids []string, target string) (nodes, edges int) {
	for _, id := range ids {
		c, ok := cs.Get(id)
		if !ok {
			continue
		}
		kept := c.Nodes[:0:0]
		for _, n := range c.Nodes {
			if ident.Equal(n, target) {
				nodes++
				continue
			}
			kept = append(kept, n)
		}
		c.Nodes = kept

		var removed int
		c.Edges, removed = dropTargetEdges(c.Edges, target)
		edges += removed
	}
	return nodes, edges
}

func dropTargetEdges(edges [][2]string, target string) ([][2]string, int) {
	kept := edges[:0:0]
	removed := 0
	for _, e := range edges {
		if ident.Equal(e[0], target) || ident.Equal(e[1], target) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	return kept, removed
}

// pruneIndirect removes target edges whose neighbour belongs to a
// community that never contained the target.
func (e *ImpactEngine) pruneIndirect(in ImpactInput, res *ImpactResult) *TouchedSet {
	pruned := NewTouchedSet()
	ids := in.Communities.IDs()

	for _, tn := range in.Graph.FindNodes(in.Target) {
		for _, edge := range in.Graph.EdgesOf(tn.ID) {
			nbr := edge.Other(tn.ID)
			if ident.Equal(nbr, in.Target) {
				continue
			}
			hit := false
			for _, cid := range ids {
				if res.Touched.Has(cid) {
					continue
				}
				c, _ := in.Communities.Get(cid)
				if !c.HasNode(nbr) || containsEntity(c, in.Target) {
					continue
				}
				hit = true
				var removed int
				c.Edges, removed = dropTargetEdges(c.Edges, in.Target)
				if pruned.Add(cid) || removed > 0 {
					e.logger.Debug("pruning indirect edge",
						"community", cid, "neighbor", nbr, "community_edges_removed", removed)
				}
			}
			if hit {
				in.Graph.RemoveEdge(edge)
				res.PrunedEdges++
			}
		}
	}
	return pruned
}

func containsEntity(c *store.Community, target string) bool {
	for _, n := range c.Nodes {
		if ident.Equal(n, target) {
			return true
		}
	}
	return false
}

type regenOutcome struct {
	report llm.Report
	empty  bool
	err    error
	done   bool
}

// regenerate rewrites the reports of ids against a snapshot of the store.
func (e *ImpactEngine) regenerate(ctx context.Context, in ImpactInput, ids []string, res *ImpactResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := in.Communities.Clone()
	outcomes := make([]regenOutcome, len(ids))

	sem := semaphore.NewWeighted(int64(e.cfg.Concurrency))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		c, ok := snapshot.Get(id)
		if !ok {
			continue
		}
		if len(c.Nodes) == 0 {
			outcomes[i] = regenOutcome{empty: true, done: true}
			continue
		}
		req := BuildReportRequest(in.Graph, id, c, in.Target)
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			callCtx, cancel := context.WithTimeout(gctx, e.cfg.ReportTimeout)
			defer cancel()
			report, err := e.generator.GenerateReport(callCtx, req)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				outcomes[i] = regenOutcome{err: fmt.Errorf("community %s: %w", id, err), done: true}
				return nil
			}
			outcomes[i] = regenOutcome{report: report, done: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, id := range ids {
		o := outcomes[i]
		if !o.done {
			continue
		}
		c, ok := in.Communities.Get(id)
		if !ok {
			continue
		}
		switch {
		case o.empty:
			c.ReportString = ""
			c.ReportJSON = map[string]any{}
			res.Emptied = append(res.Emptied, id)
		case o.err != nil:
			e.logger.Warn("report regeneration failed, keeping previous report",
				"community", id, "error", o.err)
			res.ReportErrors = append(res.ReportErrors, o.err)
		default:
			c.ReportJSON = o.report.Map()
			c.ReportString = o.report.String()
			res.Regenerated = append(res.Regenerated, id)
		}
	}
	return nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graphedit removes entities from the GraphRAG knowledge graph.
//
// Matching is exact on the normalized identifier (see package ident), so
// "Dumbledore", "DUMBLEDORE" and "&quot;DUMBLEDORE&quot;" all select the
// same node. Removal is idempotent.
package graphedit

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// Result counts the elements removed by one edit.
type Result struct {
	NodesRemoved int `json:"nodes_removed"`
	EdgesRemoved int `json:"edges_removed"`
}

// Changed reports whether anything was removed.
func (r Result) Changed() bool {
	return r.NodesRemoved > 0 || r.EdgesRemoved > 0
}

// Remove deletes every node whose normalized id equals entity and every
// edge with an endpoint that normalizes to entity.
//
// # Description
//
// Edges are matched on their endpoints rather than through the removed
// nodes, so dangling edges left by an earlier partial run are removed too.
// No match returns a zero Result.
//
// # Inputs
//
//   - g: Graph to edit in place.
//   - entity: Identifier in any of its raw, quoted or escaped forms.
//
// # Outputs
//
//   - Result: Nodes and edges removed.
func Remove(g *store.Graph, entity string) Result {
	var res Result
	for _, e := range g.Edges() {
		if e.Touches(entity) {
			g.RemoveEdge(e)
			res.EdgesRemoved++
		}
	}
	for _, n := range g.FindNodes(entity) {
		g.RemoveNode(n)
		res.NodesRemoved++
	}
	return res
}

// RemoveFile loads the graph at path, removes entity and writes the file
// back atomically. The file is not rewritten when nothing matched.
func RemoveFile(path, entity string, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g, err := store.LoadGraph(path)
	if err != nil {
		return Result{}, err
	}
	res := Remove(g, entity)
	if !res.Changed() {
		logger.Info("entity not present in graph, nothing removed", "entity", entity)
		return res, nil
	}
	if err := g.Save(path); err != nil {
		return Result{}, fmt.Errorf("saving graph after removing %q: %w", entity, err)
	}
	logger.Info("removed entity from graph",
		"entity", entity,
		"nodes_removed", res.NodesRemoved,
		"edges_removed", res.EdgesRemoved,
	)
	return res, nil
}

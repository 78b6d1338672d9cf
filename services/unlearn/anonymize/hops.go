// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package anonymize

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/ident"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// DefaultHops is the neighbourhood depth masked around a deleted entity.
const DefaultHops = 3

// HopSets holds the k-hop neighbourhood of a target, computed before the
// target is removed from the graph.
type HopSets struct {
	// Target is the entity the sets were computed for.
	Target string

	// TargetIDs are the raw ids of the nodes matching Target.
	TargetIDs []string

	// Layers[k-1] lists the raw ids at exactly k hops, in discovery order.
	Layers [][]string

	level map[string]int
}

// HopNeighbors computes hop layers 1..depth around target by breadth-first
// search over undirected edges.
//
// # Description
//
// Layer 1 is built from edges with an endpoint that normalizes to target,
// so it is found even when the target node itself is already gone. Deeper
// layers follow the live adjacency. A node appears in one layer only.
//
// # Inputs
//
//   - g: Graph before structural deletion.
//   - target: Entity identifier in any form.
//   - depth: Maximum hop count. Values < 1 use DefaultHops.
func HopNeighbors(g *store.Graph, target string, depth int) *HopSets {
	if depth < 1 {
		depth = DefaultHops
	}
	h := &HopSets{Target: target, level: make(map[string]int)}
	for _, n := range g.FindNodes(target) {
		h.TargetIDs = append(h.TargetIDs, n.ID)
		h.level[n.ID] = 0
	}

	var first []string
	for _, e := range g.Edges() {
		if !e.Touches(target) {
			continue
		}
		for _, id := range []string{e.Source, e.Target} {
			if ident.Equal(id, target) {
				if _, ok := h.level[id]; !ok {
					h.level[id] = 0
				}
				continue
			}
			if _, ok := h.level[id]; ok {
				continue
			}
			h.level[id] = 1
			first = append(first, id)
		}
	}

	frontier := first
	for k := 1; k <= depth && len(frontier) > 0; k++ {
		h.Layers = append(h.Layers, frontier)
		if k == depth {
			break
		}
		var next []string
		for _, id := range frontier {
			for _, nb := range g.Neighbors(id) {
				if _, ok := h.level[nb]; ok {
					continue
				}
				h.level[nb] = k + 1
				next = append(next, nb)
			}
		}
		frontier = next
	}
	return h
}

// Depth returns the number of non-empty layers.
func (h *HopSets) Depth() int { return len(h.Layers) }

// Layer returns the ids at exactly k hops, or nil.
func (h *HopSets) Layer(k int) []string {
	if k < 1 || k > len(h.Layers) {
		return nil
	}
	return h.Layers[k-1]
}

// All returns every neighbour id, nearest layer first.
func (h *HopSets) All() []string {
	var out []string
	for _, l := range h.Layers {
		out = append(out, l...)
	}
	return out
}

// Level returns the hop distance of a raw id: 0 for the target, k for a
// k-hop neighbour, -1 otherwise.
func (h *HopSets) Level(id string) int {
	if l, ok := h.level[id]; ok {
		return l
	}
	if ident.Equal(id, h.Target) {
		return 0
	}
	return -1
}

// Covers reports whether id is the target or one of its neighbours.
func (h *HopSets) Covers(id string) bool { return h.Level(id) >= 0 }

// Save writes one side file per layer (one raw id per line). Files for
// layers 1..minFiles are always written, empty when the layer is.
func (h *HopSets) Save(layout store.Layout, minFiles int) error {
	n := len(h.Layers)
	if minFiles > n {
		n = minFiles
	}
	for k := 1; k <= n; k++ {
		var buf bytes.Buffer
		for _, id := range h.Layer(k) {
			buf.WriteString(id)
			buf.WriteByte('\n')
		}
		if err := store.WriteFileAtomic(layout.Work(store.HopFile(k)), buf.Bytes(), 0644); err != nil {
			return fmt.Errorf("writing hop %d file: %w", k, err)
		}
	}
	return nil
}

// LoadHopFile reads a hop side file. A missing file yields no ids.
func LoadHopFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

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
	"math"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// Metrics are the structural measurements compared before and after a
// deletion.
type Metrics struct {
	Nodes int
	Edges int

	// Clustering is the mean local clustering coefficient.
	Clustering float64

	// Assortativity is the degree assortativity coefficient. NaN when
	// every endpoint has the same degree or there are no edges.
	Assortativity float64

	// Density is 2m / (n(n-1)), zero for fewer than two nodes.
	Density float64
}

// memberGraph is the simple undirected graph induced by a community's
// node and edge lists. Edge endpoints are members even when the node list
// omits them. Self-loops and duplicate pairs are ignored.
type memberGraph struct {
	order []string
	adj   map[string]map[string]struct{}
	edges int
}

func newMemberGraph(nodes []string, edges [][2]string) *memberGraph {
	m := &memberGraph{adj: make(map[string]map[string]struct{})}
	for _, n := range nodes {
		m.addNode(n)
	}
	for _, e := range edges {
		m.addNode(e[0])
		m.addNode(e[1])
		if e[0] == e[1] {
			continue
		}
		if _, dup := m.adj[e[0]][e[1]]; dup {
			continue
		}
		m.adj[e[0]][e[1]] = struct{}{}
		m.adj[e[1]][e[0]] = struct{}{}
		m.edges++
	}
	return m
}

func (m *memberGraph) addNode(n string) {
	if _, ok := m.adj[n]; ok {
		return
	}
	m.adj[n] = make(map[string]struct{})
	m.order = append(m.order, n)
}

// ComputeMetrics measures the member graph of c.
func ComputeMetrics(c *store.Community) Metrics {
	m := newMemberGraph(c.Nodes, c.Edges)
	return Metrics{
		Nodes:         len(m.order),
		Edges:         m.edges,
		Clustering:    m.averageClustering(),
		Assortativity: m.assortativity(),
		Density:       m.density(),
	}
}

func (m *memberGraph) averageClustering() float64 {
	if len(m.order) == 0 {
		return 0
	}
	var total float64
	for _, v := range m.order {
		nbrs := make([]string, 0, len(m.adj[v]))
		for u := range m.adj[v] {
			nbrs = append(nbrs, u)
		}
		k := len(nbrs)
		if k < 2 {
			continue
		}
		triangles := 0
		for i := 0; i < k; i++ {
			for j := i + 1; j < k; j++ {
				if _, ok := m.adj[nbrs[i]][nbrs[j]]; ok {
					triangles++
				}
			}
		}
		total += 2 * float64(triangles) / float64(k*(k-1))
	}
	return total / float64(len(m.order))
}

// assortativity is the Pearson correlation of endpoint degrees taken over
// both orientations of every edge.
func (m *memberGraph) assortativity() float64 {
	var n, sx, sxx, sxy float64
	for _, u := range m.order {
		du := float64(len(m.adj[u]))
		for v := range m.adj[u] {
			dv := float64(len(m.adj[v]))
			n++
			sx += du
			sxx += du * du
			sxy += du * dv
		}
	}
	if n == 0 {
		return math.NaN()
	}
	mean := sx / n
	variance := sxx/n - mean*mean
	if variance <= 1e-12 {
		return math.NaN()
	}
	return (sxy/n - mean*mean) / variance
}

func (m *memberGraph) density() float64 {
	n := float64(len(m.order))
	if n < 2 {
		return 0
	}
	return 2 * float64(m.edges) / (n * (n - 1))
}

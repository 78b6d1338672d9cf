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
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store/storetest"
)

func parseGraph(t *testing.T, nodes []storetest.Node, edges []storetest.Edge) *store.Graph {
	t.Helper()
	g, err := store.ParseGraph([]byte(storetest.GraphML(nodes, edges)))
	require.NoError(t, err)
	return g
}

func names(ns ...string) []storetest.Node {
	out := make([]storetest.Node, len(ns))
	for i, n := range ns {
		out[i] = storetest.Node{Name: n}
	}
	return out
}

// twoTriangles is {A,B,C} and {D,E,F} joined by the bridge C-D.
func twoTriangles() ([]storetest.Node, []storetest.Edge) {
	return names("A", "B", "C", "D", "E", "F"), []storetest.Edge{
		{Source: "A", Target: "B"}, {Source: "B", Target: "C"}, {Source: "A", Target: "C"},
		{Source: "D", Target: "E"}, {Source: "E", Target: "F"}, {Source: "D", Target: "F"},
		{Source: "C", Target: "D"},
	}
}

// triangleRing joins k triangles in a ring.
func triangleRing(k int) ([]storetest.Node, []storetest.Edge) {
	var nodes []storetest.Node
	var edges []storetest.Edge
	name := func(c, i int) string { return fmt.Sprintf("N%02d_%d", c, i) }
	for c := 0; c < k; c++ {
		nodes = append(nodes, names(name(c, 0), name(c, 1), name(c, 2))...)
		edges = append(edges,
			storetest.Edge{Source: name(c, 0), Target: name(c, 1)},
			storetest.Edge{Source: name(c, 1), Target: name(c, 2)},
			storetest.Edge{Source: name(c, 0), Target: name(c, 2)},
			storetest.Edge{Source: name(c, 2), Target: name((c+1)%k, 0)},
		)
	}
	return nodes, edges
}

func levelZero(t *testing.T, result map[string][]store.Membership, name string) store.ClusterID {
	t.Helper()
	ms, ok := result[storetest.ID(name)]
	require.True(t, ok, "node %s has no membership", name)
	require.NotEmpty(t, ms)
	require.Equal(t, 0, ms[0].Level)
	return ms[0].Cluster
}

func TestOptions_Validate(t *testing.T) {
	opts := Options{Resolution: -1}
	opts.Validate()
	assert.Equal(t, DefaultMaxIterations, opts.MaxIterations)
	assert.Equal(t, DefaultResolution, opts.Resolution)
	assert.Equal(t, DefaultMaxClusterSize, opts.MaxClusterSize)
	assert.Equal(t, DefaultMaxLevels, opts.MaxLevels)
	assert.Equal(t, uint64(0), opts.Seed)

	def := DefaultOptions()
	assert.Equal(t, uint64(DefaultSeed), def.Seed)
}

func TestCluster_EmptyNetwork(t *testing.T) {
	c := NewLeidenClusterer(DefaultOptions(), nil)

	_, err := c.Cluster(context.Background(), parseGraph(t, nil, nil))
	assert.True(t, errors.Is(err, ErrEmptyNetwork))

	_, err = c.Cluster(context.Background(), parseGraph(t, names("A", "B"), nil))
	assert.True(t, errors.Is(err, ErrEmptyNetwork))
}

func TestCluster_TwoTriangles(t *testing.T) {
	for _, seed := range []uint64{0, DefaultSeed, 42} {
		t.Run(strconv.FormatUint(seed, 10), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Seed = seed
			nodes, edges := twoTriangles()
			result, err := NewLeidenClusterer(opts, nil).Cluster(context.Background(), parseGraph(t, nodes, edges))
			require.NoError(t, err)
			require.Len(t, result, 6)

			left := levelZero(t, result, "A")
			right := levelZero(t, result, "D")
			assert.NotEqual(t, left, right)
			for _, n := range []string{"B", "C"} {
				assert.Equal(t, left, levelZero(t, result, n))
			}
			for _, n := range []string{"E", "F"} {
				assert.Equal(t, right, levelZero(t, result, n))
			}
			for _, ms := range result {
				assert.Len(t, ms, 1, "small clusters are not split again")
				assert.True(t, ms[0].Cluster.IsNumeric())
			}
		})
	}
}

func TestCluster_DeterministicWithoutSeed(t *testing.T) {
	opts := DefaultOptions()
	opts.Seed = 0
	c := NewLeidenClusterer(opts, nil)

	nodes, edges := twoTriangles()
	result, err := c.Cluster(context.Background(), parseGraph(t, nodes, edges))
	require.NoError(t, err)
	assert.Equal(t, store.ClusterID("0"), levelZero(t, result, "A"))
	assert.Equal(t, store.ClusterID("1"), levelZero(t, result, "F"))

	nodes, edges = twoTriangles()
	again, err := c.Cluster(context.Background(), parseGraph(t, nodes, edges))
	require.NoError(t, err)
	assert.Equal(t, result, again)
}

func TestCluster_LargestComponentOnly(t *testing.T) {
	nodes, edges := twoTriangles()
	nodes = append(nodes, names("G", "H", "I")...)
	edges = append(edges, storetest.Edge{Source: "G", Target: "H"})
	g := parseGraph(t, nodes, edges)

	result, err := NewLeidenClusterer(DefaultOptions(), nil).Cluster(context.Background(), g)
	require.NoError(t, err)
	assert.Len(t, result, 6)
	assert.NotContains(t, result, storetest.ID("G"))
	assert.NotContains(t, result, storetest.ID("I"))

	opts := DefaultOptions()
	opts.AllComponents = true
	result, err = NewLeidenClusterer(opts, nil).Cluster(context.Background(), g)
	require.NoError(t, err)
	assert.Len(t, result, 9)
	assert.Equal(t, levelZero(t, result, "G"), levelZero(t, result, "H"))
	assert.NotEqual(t, levelZero(t, result, "G"), levelZero(t, result, "I"))
}

func TestCluster_SplitsOversizedCommunities(t *testing.T) {
	opts := DefaultOptions()
	opts.Seed = 0
	opts.MaxClusterSize = 3
	nodes, edges := triangleRing(30)
	result, err := NewLeidenClusterer(opts, nil).Cluster(context.Background(), parseGraph(t, nodes, edges))
	require.NoError(t, err)
	require.Len(t, result, 90)

	members := make(map[store.Membership][]string)
	maxLevel0, minLevel1 := -1, int(^uint(0)>>1)
	for node, ms := range result {
		for i, m := range ms {
			assert.Equal(t, i, m.Level, "memberships are ordered by level")
			members[m] = append(members[m], node)
			id, err := strconv.Atoi(string(m.Cluster))
			require.NoError(t, err)
			if m.Level == 0 && id > maxLevel0 {
				maxLevel0 = id
			}
			if m.Level == 1 && id < minLevel1 {
				minLevel1 = id
			}
		}
	}
	require.Less(t, maxLevel0, minLevel1, "level 1 communities exist and are numbered after level 0")

	// Every level-1 community lies inside a single level-0 community.
	for m, nodes := range members {
		if m.Level != 1 {
			continue
		}
		parent := result[nodes[0]][0]
		for _, n := range nodes[1:] {
			assert.Equal(t, parent, result[n][0])
		}
		assert.LessOrEqual(t, len(nodes), opts.MaxClusterSize)
	}
}

func TestCluster_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	nodes, edges := twoTriangles()
	_, err := NewLeidenClusterer(DefaultOptions(), nil).Cluster(ctx, parseGraph(t, nodes, edges))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNetwork_AggregateKeepsWeight(t *testing.T) {
	nodes, edges := twoTriangles()
	nw := buildNetwork(parseGraph(t, nodes, edges))
	require.Equal(t, 7.0, nw.total)

	labels := []int{0, 0, 0, 1, 1, 1}
	agg := nw.aggregate(labels, 2)
	assert.Equal(t, 2, agg.size())
	assert.Equal(t, []float64{3, 3}, agg.self)
	assert.Equal(t, []float64{7, 7}, agg.degree)
	assert.Equal(t, []neighbor{{to: 1, weight: 1}}, agg.adj[0])
	assert.InDelta(t, modularity(nw, labels, []float64{7, 7}, 1), modularity(agg, []int{0, 1}, []float64{7, 7}, 1), 1e-12)
}

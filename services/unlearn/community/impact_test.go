// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package community_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/community"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

func TestClosure_FollowsSubCommunities(t *testing.T) {
	cs := staffCommunities()
	touched, truncated := community.Closure(cs, []string{"5"}, community.DefaultMaxDepth)

	assert.False(t, truncated)
	assert.Equal(t, []string{"5", "12", "13"}, touched.IDs())
}

func TestClosure_CycleAndDepthLimit(t *testing.T) {
	cs := store.NewCommunityStore()
	cs.Set("a", newCommunity(0, nil, nil, "b"))
	cs.Set("b", newCommunity(1, nil, nil, "c", "a"))
	cs.Set("c", newCommunity(2, nil, nil, "d"))
	cs.Set("d", newCommunity(3, nil, nil))

	touched, truncated := community.Closure(cs, []string{"a", "missing"}, 16)
	assert.False(t, truncated)
	assert.Equal(t, []string{"a", "b", "c", "d", "missing"}, touched.IDs())

	touched, truncated = community.Closure(cs, []string{"a"}, 1)
	assert.True(t, truncated)
	assert.Equal(t, []string{"a", "b"}, touched.IDs())
}

func TestSeeds_Dedup(t *testing.T) {
	seeds := community.Seeds([]store.Membership{{Level: 0, Cluster: "5"}, {Level: 1, Cluster: "12"}, {Level: 0, Cluster: "5"}, {Level: 2, Cluster: ""}})
	assert.Equal(t, []string{"5", "12"}, seeds)
}

func TestStrip(t *testing.T) {
	cs := staffCommunities()
	nodes, edges := community.Strip(cs, []string{"5", "12", "unknown"}, "dumbledore")

	assert.Equal(t, 2, nodes)
	assert.Equal(t, 3, edges)
	c5, _ := cs.Get("5")
	assert.Equal(t, []string{hagrid, mcgonagall}, c5.Nodes)
	assert.Equal(t, [][2]string{{hagrid, mcgonagall}}, c5.Edges)
	c9, _ := cs.Get("9")
	assert.Len(t, c9.Edges, 2, "communities outside the list are untouched")
}

func TestImpactEngine_Run(t *testing.T) {
	g := staffGraph(t)
	cs := staffCommunities()
	gen := newFakeGenerator()
	engine := community.NewImpactEngine(gen, community.ImpactConfig{Concurrency: 2}, nil)

	res, err := engine.Run(context.Background(), community.ImpactInput{
		Target:      "Dumbledore",
		Memberships: targetMemberships(),
		Graph:       g,
		Communities: cs,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"5", "12", "13"}, res.Touched.IDs())
	assert.Equal(t, 3, res.NodesStripped)
	assert.Equal(t, 3, res.EdgesStripped)

	t.Run("indirect edge pruned", func(t *testing.T) {
		assert.Equal(t, 1, res.PrunedEdges)
		assert.Equal(t, []string{"9"}, res.Pruned)
		assert.NotContains(t, g.Neighbors(snape), dumbledore)
		assert.Contains(t, g.Neighbors(hagrid), dumbledore, "direct edges are left for the graph edit")

		c9, _ := cs.Get("9")
		assert.Equal(t, [][2]string{{snape, filch}}, c9.Edges)
		assert.Equal(t, []string{snape, filch}, c9.Nodes)
	})

	t.Run("reports", func(t *testing.T) {
		assert.ElementsMatch(t, []string{"5", "12", "9"}, res.Regenerated)
		assert.Equal(t, []string{"13"}, res.Emptied)
		assert.Empty(t, res.ReportErrors)

		c5, _ := cs.Get("5")
		assert.Equal(t, "R-5", c5.ReportJSON["title"])
		assert.Contains(t, c5.ReportString, "# R-5")

		c13, _ := cs.Get("13")
		assert.Empty(t, c13.Nodes)
		assert.Equal(t, "", c13.ReportString)
		assert.Empty(t, c13.ReportJSON)

		req, ok := gen.request("5")
		require.True(t, ok)
		assert.Equal(t, "Dumbledore", req.Exclude)
		require.Len(t, req.Entities, 2)
		for _, e := range req.Entities {
			assert.NotEqual(t, dumbledore, e.Name)
		}
		require.Len(t, req.Relationships, 1)
		assert.Equal(t, 4, req.Relationships[0].Rank)

		_, asked := gen.request("13")
		assert.False(t, asked, "empty communities are cleared without a model call")
	})
}

func TestImpactEngine_ReportFailureKeepsOldReport(t *testing.T) {
	cs := staffCommunities()
	engine := community.NewImpactEngine(newFakeGenerator("9"), community.ImpactConfig{}, nil)

	res, err := engine.Run(context.Background(), community.ImpactInput{
		Target:      "Dumbledore",
		Memberships: targetMemberships(),
		Graph:       staffGraph(t),
		Communities: cs,
	})
	require.NoError(t, err)

	require.Len(t, res.ReportErrors, 1)
	assert.Contains(t, res.ReportErrors[0].Error(), "community 9")
	c9, _ := cs.Get("9")
	assert.Equal(t, "old report", c9.ReportString)
}

func TestImpactEngine_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := community.NewImpactEngine(newFakeGenerator(), community.ImpactConfig{}, nil)
	_, err := engine.Run(ctx, community.ImpactInput{
		Target:      "Dumbledore",
		Memberships: targetMemberships(),
		Graph:       staffGraph(t),
		Communities: staffCommunities(),
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTouchedSet_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), store.TouchedClustersFile)
	require.NoError(t, community.NewTouchedSet("5", "12", "5").Save(path))

	loaded, err := community.LoadTouchedSet(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"5", "12"}, loaded.IDs())

	_, err = community.LoadTouchedSet(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorIs(t, err, store.ErrDataFileMissing)
}

func TestRepair(t *testing.T) {
	g := staffGraph(t)
	cs := staffCommunities()
	cs.Set("40", newCommunity(0, []string{hagrid, id("Voldemort")}, [][2]string{{hagrid, snape}}, "12", "99"))

	res := community.Repair(cs, g)
	assert.False(t, res.Clean())
	assert.Equal(t, 1, res.NodesDropped)
	assert.Equal(t, 1, res.EdgesDropped)
	assert.Equal(t, 1, res.SubsDropped)
	for _, err := range res.Violations {
		assert.ErrorIs(t, err, community.ErrConsistencyViolation)
	}

	c40, _ := cs.Get("40")
	assert.Equal(t, []string{hagrid}, c40.Nodes)
	assert.Empty(t, c40.Edges)
	assert.Equal(t, []string{"12"}, c40.SubCommunities)

	again := community.Repair(cs, g)
	assert.True(t, again.Clean())
}

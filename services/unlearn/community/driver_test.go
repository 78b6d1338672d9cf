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
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/community"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

func TestExtractSubgraph(t *testing.T) {
	g := staffGraph(t)
	cs := staffCommunities()
	community.Strip(cs, []string{"5", "12", "13"}, "Dumbledore")

	sub, err := community.ExtractSubgraph(g, cs, []string{"5", "12", "13"})
	require.NoError(t, err)

	assert.Equal(t, []string{"5"}, sub.Leaves)
	assert.Equal(t, []string{hagrid, mcgonagall}, sub.Extracted)
	require.Len(t, sub.Graph.Edges(), 1)
	assert.Equal(t, "colleagues", sub.Graph.Edges()[0].Description())
	assert.Empty(t, sub.RepairReferences(g))

	_, err = community.ExtractSubgraph(g, cs, []string{"12", "13"})
	assert.ErrorIs(t, err, community.ErrNoLeafCommunities)
}

func TestSubgraph_RepairReferences(t *testing.T) {
	g := staffGraph(t)
	cs := store.NewCommunityStore()
	cs.Set("5", newCommunity(0, []string{hagrid}, [][2]string{{mcgonagall, hagrid}}))

	sub, err := community.ExtractSubgraph(g, cs, []string{"5"})
	require.NoError(t, err)
	assert.Equal(t, 1, sub.Graph.NodeCount())
	require.Len(t, sub.Graph.Edges(), 1, "edges match in either orientation")

	assert.Equal(t, []string{mcgonagall}, sub.RepairReferences(g))
	assert.True(t, sub.Graph.HasNode(mcgonagall))
	assert.Equal(t, "Deputy head", sub.Graph.Node(mcgonagall).Description())
}

func TestUpdateMemberships(t *testing.T) {
	g := staffGraph(t)
	merged := store.NewCommunityStore()
	merged.Set("30", newCommunity(0, []string{hagrid, mcgonagall}, nil))
	merged.Set("31", newCommunity(1, []string{hagrid}, nil))
	merged.Set("9", newCommunity(0, []string{snape, filch}, nil))
	sub := &community.Subgraph{Extracted: []string{hagrid}, Repaired: []string{mcgonagall}}

	res := community.UpdateMemberships(g, merged, sub, nil)
	assert.Equal(t, 1, res.Replaced)
	assert.Equal(t, 1, res.Appended)

	hm, err := g.Node(hagrid).Clusters()
	require.NoError(t, err)
	assert.Equal(t, []store.Membership{{Level: 0, Cluster: "30"}, {Level: 1, Cluster: "31"}}, hm)

	mm, err := g.Node(mcgonagall).Clusters()
	require.NoError(t, err)
	assert.Equal(t, []store.Membership{{Level: 0, Cluster: "5"}, {Level: 0, Cluster: "30"}}, mm)

	again := community.UpdateMemberships(g, merged, sub, nil)
	assert.Equal(t, 0, again.Appended, "appends are deduplicated by cluster")
}

type branchFixture struct {
	layout store.Layout
	graph  *store.Graph
	comms  *store.CommunityStore
}

func newBranchFixture(t *testing.T) branchFixture {
	t.Helper()
	dir := t.TempDir()
	l := store.NewLayout(dir)
	g := staffGraph(t)
	require.NoError(t, g.Save(l.Graph()))
	cs := staffCommunities()
	require.NoError(t, cs.Save(l.Communities()))
	return branchFixture{layout: l, graph: g, comms: cs}
}

func (f branchFixture) input() community.BranchInput {
	return community.BranchInput{
		Layout:      f.layout,
		Graph:       f.graph,
		Communities: f.comms,
		Target:      "Dumbledore",
		Memberships: targetMemberships(),
	}
}

func newDriver(th community.Thresholds) *community.Driver {
	gen := newFakeGenerator()
	cfg := community.ImpactConfig{Concurrency: 2}
	return community.NewDriver(
		community.NewImpactEngine(gen, cfg, nil),
		community.NewEvaluator(th, community.MissingSkip, nil),
		community.NewReclusterer(oneCluster(), gen, cfg, nil),
		nil,
	)
}

func TestDriver_ReclustersSignificantChange(t *testing.T) {
	f := newBranchFixture(t)

	res, err := newDriver(community.DefaultThresholds()).Run(context.Background(), f.input())
	require.NoError(t, err)

	assert.True(t, res.Evaluation.Changed)
	require.True(t, res.Reclustered)
	assert.Equal(t, map[string]string{"0": "14"}, res.Mapping)
	assert.Equal(t, 3, res.Merge.Deleted)

	onDisk, err := store.LoadCommunities(f.layout.Communities())
	require.NoError(t, err)
	assert.Equal(t, []string{"9", "14"}, onDisk.IDs())
	c14, _ := onDisk.Get("14")
	assert.Equal(t, []string{hagrid, mcgonagall}, c14.Nodes)
	assert.Equal(t, "Cluster 14", c14.Title)

	g, err := store.LoadGraph(f.layout.Graph())
	require.NoError(t, err)
	ms, err := g.Node(hagrid).Clusters()
	require.NoError(t, err)
	assert.Equal(t, []store.Membership{{Level: 0, Cluster: "14"}}, ms)

	flag, err := community.ReadFlag(f.layout.Work(store.ChangeFlagFile))
	require.NoError(t, err)
	assert.True(t, flag)

	touched, err := community.LoadTouchedSet(f.layout.Work(store.TouchedClustersFile))
	require.NoError(t, err)
	assert.Equal(t, []string{"5", "12", "13"}, touched.IDs())

	for _, name := range []string{store.SubgraphFile, store.RepairedSubgraphFile, store.ReclusteredReportsFile, store.BeforeSnapshotFile} {
		_, err := os.Stat(f.layout.Work(name))
		assert.NoError(t, err, name)
	}
}

func TestDriver_InsignificantChangeSkipsReclustering(t *testing.T) {
	f := newBranchFixture(t)
	high := community.Thresholds{Clustering: 10, Assortativity: 10, Density: 10}

	res, err := newDriver(high).Run(context.Background(), f.input())
	require.NoError(t, err)

	assert.False(t, res.Evaluation.Changed)
	assert.False(t, res.Reclustered)

	flag, err := community.ReadFlag(f.layout.Work(store.ChangeFlagFile))
	require.NoError(t, err)
	assert.False(t, flag)

	onDisk, err := store.LoadCommunities(f.layout.Communities())
	require.NoError(t, err)
	assert.Equal(t, []string{"5", "12", "13", "9"}, onDisk.IDs())
	c5, _ := onDisk.Get("5")
	assert.Equal(t, []string{hagrid, mcgonagall}, c5.Nodes)

	_, err = os.Stat(f.layout.Work(store.SubgraphFile))
	assert.True(t, os.IsNotExist(err))
}

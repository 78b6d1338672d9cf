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
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/llm"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store/storetest"
)

var id = storetest.ID

var (
	dumbledore = id("Dumbledore")
	hagrid     = id("Hagrid")
	mcgonagall = id("McGonagall")
	snape      = id("Snape")
	filch      = id("Filch")
)

// staffGraph is a triangle Dumbledore, Hagrid, McGonagall plus the path
// Dumbledore - Snape - Filch.
func staffGraph(t *testing.T) *store.Graph {
	t.Helper()
	src := storetest.GraphML(
		[]storetest.Node{
			{Name: "Dumbledore", Description: "Headmaster", SourceIDs: []string{"chunk-1"}, Clusters: `[{"level": 0, "cluster": 5}]`},
			{Name: "Hagrid", Description: "Keeper of keys", SourceIDs: []string{"chunk-1", "chunk-2"}, Clusters: `[{"level": 0, "cluster": 5}, {"level": 1, "cluster": 12}]`},
			{Name: "McGonagall", Description: "Deputy head", SourceIDs: []string{"chunk-3"}, Clusters: `[{"level": 0, "cluster": 5}]`},
			{Name: "Snape", Description: "Potions master", SourceIDs: []string{"chunk-4"}, Clusters: `[{"level": 0, "cluster": 9}]`},
			{Name: "Filch", Description: "Caretaker", SourceIDs: []string{"chunk-5"}, Clusters: `[{"level": 0, "cluster": 9}]`},
		},
		[]storetest.Edge{
			{Source: "Dumbledore", Target: "Hagrid", Description: "trusts"},
			{Source: "Dumbledore", Target: "McGonagall", Description: "works with"},
			{Source: "Hagrid", Target: "McGonagall", Description: "colleagues"},
			{Source: "Dumbledore", Target: "Snape", Description: "protects"},
			{Source: "Snape", Target: "Filch", Description: "patrols with"},
		},
	)
	g, err := store.ParseGraph([]byte(src))
	require.NoError(t, err)
	return g
}

func newCommunity(level int, nodes []string, edges [][2]string, subs ...string) *store.Community {
	c := store.NewCommunity(level)
	c.Nodes = nodes
	c.Edges = edges
	c.SubCommunities = subs
	c.ReportString = "old report"
	c.ReportJSON = map[string]any{"title": "old"}
	return c
}

// staffCommunities holds cluster 5 with sub-communities 12 and 13, and
// cluster 9 which lists the Dumbledore - Snape edge without Dumbledore.
func staffCommunities() *store.CommunityStore {
	cs := store.NewCommunityStore()
	cs.Set("5", newCommunity(0,
		[]string{dumbledore, hagrid, mcgonagall},
		[][2]string{{dumbledore, hagrid}, {dumbledore, mcgonagall}, {hagrid, mcgonagall}},
		"12", "13"))
	cs.Set("12", newCommunity(1, []string{dumbledore, hagrid}, [][2]string{{dumbledore, hagrid}}))
	cs.Set("13", newCommunity(1, []string{dumbledore}, nil))
	cs.Set("9", newCommunity(0, []string{snape, filch}, [][2]string{{dumbledore, snape}, {snape, filch}}))
	return cs
}

func targetMemberships() []store.Membership {
	return []store.Membership{{Level: 0, Cluster: "5"}}
}

// fakeGenerator titles each report after its community and records the
// requests it saw.
type fakeGenerator struct {
	mu       sync.Mutex
	requests map[string]llm.ReportRequest
	failFor  map[string]bool
}

func newFakeGenerator(failFor ...string) *fakeGenerator {
	f := &fakeGenerator{requests: make(map[string]llm.ReportRequest), failFor: make(map[string]bool)}
	for _, id := range failFor {
		f.failFor[id] = true
	}
	return f
}

func (f *fakeGenerator) GenerateReport(_ context.Context, req llm.ReportRequest) (llm.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[req.CommunityID] = req
	if f.failFor[req.CommunityID] {
		return llm.Report{}, errors.New("generator down")
	}
	return llm.ReportFromMap(map[string]any{
		"title":    "R-" + req.CommunityID,
		"summary":  "regenerated",
		"findings": []any{},
	}), nil
}

func (f *fakeGenerator) request(cid string) (llm.ReportRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[cid]
	return r, ok
}

// clusterFunc adapts a function to cluster.Clusterer.
type clusterFunc func(ctx context.Context, g *store.Graph) (map[string][]store.Membership, error)

func (f clusterFunc) Cluster(ctx context.Context, g *store.Graph) (map[string][]store.Membership, error) {
	return f(ctx, g)
}

// oneCluster puts every node of the graph into level-0 cluster "0".
func oneCluster() clusterFunc {
	return func(_ context.Context, g *store.Graph) (map[string][]store.Membership, error) {
		out := make(map[string][]store.Membership)
		for _, n := range g.Nodes() {
			out[n.ID] = []store.Membership{{Level: 0, Cluster: "0"}}
		}
		return out, nil
	}
}

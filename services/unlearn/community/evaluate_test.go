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
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/community"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

func TestComputeMetrics(t *testing.T) {
	t.Run("triangle", func(t *testing.T) {
		m := community.ComputeMetrics(newCommunity(0, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}}))
		assert.Equal(t, 3, m.Nodes)
		assert.Equal(t, 3, m.Edges)
		assert.InDelta(t, 1.0, m.Clustering, 1e-9)
		assert.InDelta(t, 1.0, m.Density, 1e-9)
		assert.True(t, math.IsNaN(m.Assortativity), "regular graphs have no defined assortativity")
	})

	t.Run("path", func(t *testing.T) {
		m := community.ComputeMetrics(newCommunity(0, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}}))
		assert.InDelta(t, 0.0, m.Clustering, 1e-9)
		assert.InDelta(t, 2.0/3.0, m.Density, 1e-9)
		assert.InDelta(t, -1.0, m.Assortativity, 1e-9)
	})

	t.Run("edge endpoints join the node set", func(t *testing.T) {
		m := community.ComputeMetrics(newCommunity(0, []string{"a"}, [][2]string{{"a", "b"}, {"a", "b"}, {"b", "b"}}))
		assert.Equal(t, 2, m.Nodes)
		assert.Equal(t, 1, m.Edges)
		assert.InDelta(t, 1.0, m.Density, 1e-9)
	})

	t.Run("empty", func(t *testing.T) {
		m := community.ComputeMetrics(store.NewCommunity(0))
		assert.Zero(t, m.Clustering)
		assert.Zero(t, m.Density)
		assert.True(t, math.IsNaN(m.Assortativity))
	})
}

func TestEvaluator_IdenticalSnapshotsAreUnchanged(t *testing.T) {
	before := staffCommunities()
	after := before.Clone()

	ev := community.NewEvaluator(community.DefaultThresholds(), community.MissingSkip, nil).
		Evaluate(context.Background(), []string{"5", "12", "13", "9"}, before, after)

	assert.False(t, ev.Changed)
	assert.Equal(t, []string{"5", "9"}, ev.Leaves)
	require.Len(t, ev.Clusters, 2)
	for _, c := range ev.Clusters {
		assert.False(t, c.Changed)
		assert.Empty(t, c.Reasons)
	}
}

func TestEvaluator_DetectsStructuralChange(t *testing.T) {
	before := staffCommunities()
	after := before.Clone()
	community.Strip(after, []string{"5"}, "Dumbledore")

	ev := community.NewEvaluator(community.DefaultThresholds(), community.MissingSkip, nil).
		Evaluate(context.Background(), []string{"5", "9"}, before, after)

	require.True(t, ev.Changed)
	require.Len(t, ev.Clusters, 1, "evaluation stops at the first changed community")
	c := ev.Clusters[0]
	assert.Equal(t, "5", c.ID)
	assert.InDelta(t, 1.0, c.Before.Clustering, 1e-9)
	assert.InDelta(t, 0.0, c.After.Clustering, 1e-9)
	assert.Contains(t, c.Reasons[0], "clustering")
}

func TestEvaluator_ThresholdsAreStrict(t *testing.T) {
	before := staffCommunities()
	after := before.Clone()
	community.Strip(after, []string{"5"}, "Dumbledore")

	loose := community.Thresholds{Clustering: 1.0, Assortativity: 1.0, Density: 1.0}
	ev := community.NewEvaluator(loose, community.MissingSkip, nil).
		Evaluate(context.Background(), []string{"5"}, before, after)

	assert.False(t, ev.Changed, "a delta equal to its threshold does not count")
}

func TestEvaluator_MissingPolicy(t *testing.T) {
	before := staffCommunities()
	before.Set("77", newCommunity(0, []string{"a"}, nil))
	after := staffCommunities()

	skip := community.NewEvaluator(community.DefaultThresholds(), community.MissingSkip, nil).
		Evaluate(context.Background(), []string{"77", "9"}, before, after)
	assert.False(t, skip.Changed)
	assert.Equal(t, "after", skip.Clusters[0].Missing)

	changed := community.NewEvaluator(community.DefaultThresholds(), community.MissingChanged, nil).
		Evaluate(context.Background(), []string{"77", "9"}, before, after)
	assert.True(t, changed.Changed)
}

func TestLeafClusters_FallsBackToAfter(t *testing.T) {
	before := store.NewCommunityStore()
	after := store.NewCommunityStore()
	after.Set("new", newCommunity(0, nil, nil))
	after.Set("top", newCommunity(1, nil, nil))

	assert.Equal(t, []string{"new"}, community.LeafClusters([]string{"top", "new", "gone"}, before, after))
}

func TestChangeFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), store.ChangeFlagFile)

	require.NoError(t, community.WriteFlag(path, true))
	got, err := community.ReadFlag(path)
	require.NoError(t, err)
	assert.True(t, got)

	require.NoError(t, community.WriteFlag(path, false))
	got, err = community.ReadFlag(path)
	require.NoError(t, err)
	assert.False(t, got)
}

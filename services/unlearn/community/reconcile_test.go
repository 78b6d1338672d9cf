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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/community"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

func titled(level int, title string, subs ...string) *store.Community {
	c := newCommunity(level, []string{"n"}, nil, subs...)
	c.Title = title
	return c
}

func freshStore() *store.CommunityStore {
	fresh := store.NewCommunityStore()
	fresh.Set("0", titled(0, "Cluster 0"))
	fresh.Set("1", titled(0, "Cluster 1"))
	fresh.Set("x", titled(0, "Cluster x"))
	fresh.Set("2", titled(1, "Cluster 2", "0", "1"))
	return fresh
}

func TestReconcile(t *testing.T) {
	base := store.NewCommunityStore()
	for _, id := range []string{"0", "1", "7", "x"} {
		base.Set(id, titled(0, "Cluster "+id))
	}
	fresh := freshStore()

	out, mapping := community.Reconcile(base, fresh)

	assert.Equal(t, map[string]string{"0": "8", "1": "9", "x": "x_1", "2": "10"}, mapping)
	assert.Equal(t, []string{"8", "9", "x_1", "10"}, out.IDs())

	c10, ok := out.Get("10")
	require.True(t, ok)
	assert.Equal(t, "Cluster 10", c10.Title)
	assert.Equal(t, []string{"8", "9"}, c10.SubCommunities)
	cx, _ := out.Get("x_1")
	assert.Equal(t, "Cluster x_1", cx.Title)

	orig, _ := fresh.Get("2")
	assert.Equal(t, []string{"0", "1"}, orig.SubCommunities, "input store is left as it was")

	seen := make(map[string]bool)
	for _, id := range append(base.IDs(), out.IDs()...) {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestReconcile_SuffixSkipsTakenNames(t *testing.T) {
	base := store.NewCommunityStore()
	base.Set("x", titled(0, "Cluster x"))
	base.Set("x_1", titled(0, "Cluster x_1"))
	fresh := store.NewCommunityStore()
	fresh.Set("x", titled(0, "Cluster x"))
	fresh.Set("3", titled(0, "Cluster 3"))

	_, mapping := community.Reconcile(base, fresh)
	assert.Equal(t, "x_2", mapping["x"])
	assert.Equal(t, "4", mapping["3"], "without numeric base ids the offset is one")
}

func TestMerge(t *testing.T) {
	base := store.NewCommunityStore()
	base.Set("0", titled(0, "Cluster 0"))
	base.Set("1", titled(0, "Cluster 1"))
	base.Set("7", titled(1, "Cluster 7", "0", "1"))
	base.Set("x", titled(0, "Cluster x"))

	reconciled, _ := community.Reconcile(base, freshStore())
	res := community.Merge(base, reconciled, []string{"1", "x", "99"})

	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 4, res.Inserted)
	assert.Equal(t, []string{"1"}, res.DanglingDropped)
	assert.Equal(t, []string{"0", "7", "8", "9", "x_1", "10"}, base.IDs())

	for _, id := range base.IDs() {
		c, _ := base.Get(id)
		for _, sub := range c.SubCommunities {
			_, ok := base.Get(sub)
			assert.True(t, ok, "community %s references missing %s", id, sub)
		}
	}
}

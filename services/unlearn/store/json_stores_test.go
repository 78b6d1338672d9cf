// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store_test

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store/storetest"
)

const communityJSON = `{
  "5": {
    "report_string": "# Hogwarts staff",
    "report_json": {"title": "Hogwarts staff", "rating": 7.5},
    "level": 0,
    "title": "Cluster 5",
    "edges": [["\"DUMBLEDORE\"", "\"HAGRID\""]],
    "nodes": ["\"DUMBLEDORE\"", "\"HAGRID\""],
    "chunk_ids": ["chunk-1"],
    "occurrence": 1.0,
    "sub_communities": ["12"],
    "custom_field": {"keep": true}
  },
  "12": {
    "level": 1,
    "title": "Cluster 12",
    "edges": [],
    "nodes": ["\"HAGRID\""],
    "report_string": "",
    "report_json": {}
  }
}`

func TestCommunityStore_ParseAndOrder(t *testing.T) {
	s, err := store.ParseCommunities([]byte(communityJSON))
	require.NoError(t, err)

	assert.Equal(t, []string{"5", "12"}, s.IDs())
	c, ok := s.Get("5")
	require.True(t, ok)
	assert.Equal(t, 0, c.Level)
	assert.Equal(t, "Cluster 5", c.Title)
	assert.Equal(t, [][2]string{{`"DUMBLEDORE"`, `"HAGRID"`}}, c.Edges)
	assert.Equal(t, []string{"12"}, c.SubCommunities)
	assert.True(t, c.HasNode(`"HAGRID"`))
	assert.Equal(t, "Hogwarts staff", c.ReportJSON["title"])
}

func TestCommunityStore_RoundTripKeepsUnknownFields(t *testing.T) {
	s, err := store.ParseCommunities([]byte(communityJSON))
	require.NoError(t, err)

	c, _ := s.Get("5")
	c.Nodes = []string{`"HAGRID"`}
	c.Edges = nil

	data, err := s.Bytes()
	require.NoError(t, err)

	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, map[string]any{"keep": true}, raw["5"]["custom_field"])
	assert.Equal(t, []any{`"HAGRID"`}, raw["5"]["nodes"])
	assert.Equal(t, []any{}, raw["5"]["edges"])
	_, hasSubs := raw["12"]["sub_communities"]
	assert.False(t, hasSubs, "absent optional fields stay absent")
}

func TestCommunityStore_SetDeleteClone(t *testing.T) {
	s, err := store.ParseCommunities([]byte(communityJSON))
	require.NoError(t, err)

	snapshot := s.Clone()
	assert.True(t, s.Delete("5"))
	assert.False(t, s.Delete("5"))

	n := store.NewCommunity(0)
	n.Title = "Cluster 40"
	n.Nodes = []string{"A"}
	s.Set("40", n)

	assert.Equal(t, []string{"12", "40"}, s.IDs())
	assert.Equal(t, 2, snapshot.Len())
	orig, ok := snapshot.Get("5")
	require.True(t, ok)
	assert.Len(t, orig.Nodes, 2, "clone is independent of later edits")

	data, err := s.Bytes()
	require.NoError(t, err)
	reparsed, err := store.ParseCommunities(data)
	require.NoError(t, err)
	got, _ := reparsed.Get("40")
	assert.Equal(t, "Cluster 40", got.Title)
	assert.Equal(t, []string{}, got.SubCommunities)
}

func TestLoadCommunities_Corrupt(t *testing.T) {
	path := storetest.WriteFile(t, t.TempDir(), store.CommunitiesFile, `{"5": [1, 2]}`)
	_, err := store.LoadCommunities(path)
	assert.True(t, errors.Is(err, store.ErrDataFileCorrupt))
}

func TestChunkStore_RoundTrip(t *testing.T) {
	src := `{
  "chunk-1": {"tokens": 3, "content": "Dumbledore was here", "full_doc_id": "doc-1"},
  "chunk-2": "plain string chunk"
}`
	s, err := store.ParseChunks([]byte(src))
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())

	c, ok := s.Get("chunk-1")
	require.True(t, ok)
	assert.Equal(t, 3, c.Tokens)
	c.Content = "[mask] was here"

	data, err := s.Bytes()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "plain string chunk", raw["chunk-2"])
	chunk := raw["chunk-1"].(map[string]any)
	assert.Equal(t, "[mask] was here", chunk["content"])
	assert.Equal(t, "doc-1", chunk["full_doc_id"])
}

func TestVectorStore_KeepAndRoundTrip(t *testing.T) {
	path := storetest.WriteFile(t, t.TempDir(), store.VectorsFile, storetest.Vectors(3, "Dumbledore", "Hagrid", "McGonagall"))

	s, err := store.LoadVectors(path)
	require.NoError(t, err)
	require.Equal(t, 3, s.Rows())
	assert.Equal(t, []float32{1, 1, 1}, s.Row(1))

	s.Keep([]int{1, 2})
	require.NoError(t, s.Validate())
	require.NoError(t, s.Save(path))

	again, err := store.LoadVectors(path)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Rows())
	assert.Equal(t, `"HAGRID"`, again.Records[0].EntityName)
	assert.Equal(t, "ent-1", again.Records[0].ID)
	assert.Equal(t, []float32{2, 2, 2}, again.Row(1))
}

func TestVectorStore_RowMismatchIsCorrupt(t *testing.T) {
	src := `{"embedding_dim": 2, "data": [{"entity_name": "A"}, {"entity_name": "B"}], "matrix": "AAAAAAAAAAA="}`
	path := storetest.WriteFile(t, t.TempDir(), store.VectorsFile, src)

	_, err := store.LoadVectors(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrDataFileCorrupt))
}

func TestLayout(t *testing.T) {
	l := store.NewLayout("/cache")
	assert.Equal(t, filepath.Join("/cache", store.GraphFile), l.Graph())
	assert.Len(t, l.MutableStores(), 4)

	l.WorkDir = "/work"
	assert.Equal(t, filepath.Join("/work", store.ChangeFlagFile), l.Work(store.ChangeFlagFile))
	assert.Contains(t, l.SideFiles(4), filepath.Join("/work", "hop_4_nodes.txt"))
	assert.Contains(t, l.SideFiles(2), filepath.Join("/work", store.ThreeHopFile))
}

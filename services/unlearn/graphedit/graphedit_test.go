// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graphedit_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/graphedit"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/ident"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store/storetest"
)

func hogwarts() string {
	return storetest.GraphML(
		[]storetest.Node{
			{Name: "Dumbledore", Description: "Headmaster"},
			{Name: "Hagrid", Description: "Keeper of keys"},
			{Name: "McGonagall", Description: "Deputy"},
		},
		[]storetest.Edge{
			{Source: "Dumbledore", Target: "Hagrid", Description: "trusts"},
			{Source: "McGonagall", Target: "Dumbledore", Description: "deputy of"},
			{Source: "Hagrid", Target: "McGonagall", Description: "colleagues"},
		},
	)
}

func TestRemove(t *testing.T) {
	g, err := store.ParseGraph([]byte(hogwarts()))
	require.NoError(t, err)

	res := graphedit.Remove(g, "dumbledore")
	assert.Equal(t, graphedit.Result{NodesRemoved: 1, EdgesRemoved: 2}, res)

	for _, n := range g.Nodes() {
		assert.False(t, ident.Equal(n.ID, "Dumbledore"))
	}
	for _, e := range g.Edges() {
		assert.False(t, e.Touches("Dumbledore"))
	}
	require.Len(t, g.Edges(), 1)
	assert.Equal(t, "colleagues", g.Edges()[0].Description())
}

func TestRemove_MatchesEscapedForm(t *testing.T) {
	g, err := store.ParseGraph([]byte(hogwarts()))
	require.NoError(t, err)

	res := graphedit.Remove(g, "&quot;HAGRID&quot;")
	assert.Equal(t, 1, res.NodesRemoved)
	assert.Equal(t, 2, res.EdgesRemoved)
}

func TestRemove_NoMatch(t *testing.T) {
	g, err := store.ParseGraph([]byte(hogwarts()))
	require.NoError(t, err)

	res := graphedit.Remove(g, "Voldemort")
	assert.False(t, res.Changed())
	assert.Equal(t, hogwarts(), string(g.Bytes()))
}

func TestRemove_DanglingEdge(t *testing.T) {
	src := storetest.GraphML(
		[]storetest.Node{{Name: "Hagrid"}},
		[]storetest.Edge{{Source: "Dumbledore", Target: "Hagrid"}},
	)
	g, err := store.ParseGraph([]byte(src))
	require.NoError(t, err)

	res := graphedit.Remove(g, "Dumbledore")
	assert.Equal(t, graphedit.Result{NodesRemoved: 0, EdgesRemoved: 1}, res)
}

func TestRemoveFile_Idempotent(t *testing.T) {
	dir := t.TempDir()
	path := storetest.WriteFile(t, dir, store.GraphFile, hogwarts())

	res, err := graphedit.RemoveFile(path, "Dumbledore", nil)
	require.NoError(t, err)
	assert.True(t, res.Changed())
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	res, err = graphedit.RemoveFile(path, "Dumbledore", nil)
	require.NoError(t, err)
	assert.False(t, res.Changed())
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRemoveFile_Missing(t *testing.T) {
	_, err := graphedit.RemoveFile(filepath.Join(t.TempDir(), "none.graphml"), "x", nil)
	assert.True(t, errors.Is(err, store.ErrDataFileMissing))
}

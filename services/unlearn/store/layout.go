// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"fmt"
	"path/filepath"
)

// Cache file names.
const (
	GraphFile       = "graph_chunk_entity_relation.graphml"
	CommunitiesFile = "kv_store_community_reports.json"
	ChunksFile      = "kv_store_text_chunks.json"
	VectorsFile     = "vdb_entities.json"
)

// Intermediate side files written to the work directory during a run.
const (
	TouchedClustersFile    = "deleted_clusters_cache.json"
	ChangeFlagFile         = "cluster_change_flags.json"
	SubgraphFile           = "graph_chunk_entity_relation2.graphml"
	RepairedSubgraphFile   = "graph_chunk_entity_relation3.graphml"
	ReclusteredReportsFile = "kv_store_community_reports3.json"
	BeforeSnapshotFile     = "kv_store_community_reports_before.json"
	OneHopFile             = "one_hop_nodes.txt"
	TwoHopFile             = "two_hop_nodes.txt"
	ThreeHopFile           = "three_hop_nodes.txt"
)

// Layout resolves store and side-file paths for one cache directory.
type Layout struct {
	// CacheDir holds the GraphRAG store files.
	CacheDir string

	// WorkDir holds intermediate side files. Defaults to CacheDir.
	WorkDir string
}

// NewLayout returns a layout whose work directory is the cache directory.
func NewLayout(cacheDir string) Layout {
	return Layout{CacheDir: cacheDir, WorkDir: cacheDir}
}

func (l Layout) work() string {
	if l.WorkDir == "" {
		return l.CacheDir
	}
	return l.WorkDir
}

// Graph returns the GraphML path.
func (l Layout) Graph() string { return filepath.Join(l.CacheDir, GraphFile) }

// Communities returns the community report store path.
func (l Layout) Communities() string { return filepath.Join(l.CacheDir, CommunitiesFile) }

// Chunks returns the text chunk store path.
func (l Layout) Chunks() string { return filepath.Join(l.CacheDir, ChunksFile) }

// Vectors returns the entity vector store path.
func (l Layout) Vectors() string { return filepath.Join(l.CacheDir, VectorsFile) }

// Work returns the path of a side file in the work directory.
func (l Layout) Work(name string) string { return filepath.Join(l.work(), name) }

// HopFile returns the side-file name listing k-hop neighbours.
func HopFile(k int) string {
	switch k {
	case 1:
		return OneHopFile
	case 2:
		return TwoHopFile
	case 3:
		return ThreeHopFile
	default:
		return fmt.Sprintf("hop_%d_nodes.txt", k)
	}
}

// MutableStores lists every store the pipeline rewrites, in backup order.
func (l Layout) MutableStores() []string {
	return []string{l.Graph(), l.Communities(), l.Chunks(), l.Vectors()}
}

// SideFiles lists every intermediate artifact removed at the end of a run
// for the given hop depth.
func (l Layout) SideFiles(hops int) []string {
	var names []string
	for k := 1; k <= hops || k <= 3; k++ {
		names = append(names, HopFile(k))
	}
	names = append(names,
		TouchedClustersFile, ChangeFlagFile,
		SubgraphFile, RepairedSubgraphFile,
		ReclusteredReportsFile, BeforeSnapshotFile,
	)
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = l.Work(n)
	}
	return out
}

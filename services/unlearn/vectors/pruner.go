// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectors removes a deleted entity from the entity embedding
// index: the local vdb_entities.json store and, optionally, a remote
// Weaviate mirror of it.
package vectors

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/ident"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// PruneResult describes one pruning pass.
type PruneResult struct {
	Removed int
	Kept    int

	// Names are the entity names of removed rows.
	Names []string
}

// Pruner removes embedding rows whose entity name contains a target.
//
// # Description
//
// Matching is a case-insensitive substring test on the cleaned entity
// name, so quoted and escaped names match their plain form. Metadata and
// matrix rows are removed together.
//
// # Thread Safety
//
// Safe for concurrent use on different stores.
type Pruner struct {
	logger *slog.Logger
}

// NewPruner creates a pruner.
func NewPruner(logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{logger: logger.With("component", "vectors.Pruner")}
}

// Prune removes matching rows from s in place.
func (p *Pruner) Prune(s *store.VectorStore, entity string) PruneResult {
	var res PruneResult
	keep := make([]int, 0, len(s.Records))
	for i, r := range s.Records {
		if ident.Contains(r.EntityName, entity) {
			res.Names = append(res.Names, r.EntityName)
			continue
		}
		keep = append(keep, i)
	}
	res.Kept = len(keep)
	res.Removed = len(s.Records) - len(keep)
	if res.Removed > 0 {
		s.Keep(keep)
	}
	return res
}

// Count returns the number of rows Prune would remove from s.
func (p *Pruner) Count(s *store.VectorStore, entity string) int {
	n := 0
	for _, r := range s.Records {
		if ident.Contains(r.EntityName, entity) {
			n++
		}
	}
	return n
}

// PruneFile prunes the store at path and rewrites it when rows were
// removed. A store that fails the row invariant is never written.
func (p *Pruner) PruneFile(path, entity string) (PruneResult, error) {
	s, err := store.LoadVectors(path)
	if err != nil {
		return PruneResult{}, err
	}
	res := p.Prune(s, entity)
	if res.Removed == 0 {
		p.logger.Debug("no embedding rows matched", "entity", entity)
		return res, nil
	}
	if err := s.Validate(); err != nil {
		return res, fmt.Errorf("pruned vector store: %w", err)
	}
	if err := s.Save(path); err != nil {
		return res, err
	}
	p.logger.Info("embedding rows removed", "entity", entity, "removed", res.Removed, "kept", res.Kept)
	return res, nil
}

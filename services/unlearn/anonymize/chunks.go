// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package anonymize

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// ChunkResult counts the chunks visited by one pass.
type ChunkResult struct {
	// Processed is the number of listed chunks present in the store.
	Processed int `json:"processed"`

	// Changed is the number of chunks whose content was rewritten.
	Changed int `json:"changed"`

	// Missing lists chunk ids referenced by the graph but absent from the
	// store.
	Missing []string `json:"missing,omitempty"`
}

// ChunkIDs returns the provenance chunk ids of the target and every hop
// neighbour, de-duplicated in discovery order.
func ChunkIDs(g *store.Graph, hops *HopSets) []string {
	seen := make(map[string]struct{})
	var out []string
	ids := append(append([]string(nil), hops.TargetIDs...), hops.All()...)
	for _, id := range ids {
		n := g.Node(id)
		if n == nil {
			continue
		}
		for _, c := range n.SourceIDs() {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// ChunkAnonymizer masks text chunks and keeps their token counts current.
type ChunkAnonymizer struct {
	counter TokenCounter
	logger  *slog.Logger
}

// NewChunkAnonymizer creates an anonymizer. A nil counter uses WordCounter.
func NewChunkAnonymizer(counter TokenCounter, logger *slog.Logger) *ChunkAnonymizer {
	if counter == nil {
		counter = WordCounter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkAnonymizer{counter: counter, logger: logger.With("component", "anonymize.ChunkAnonymizer")}
}

// Anonymize masks every listed chunk in s. Token counts are recomputed for
// chunks whose content changed, so a second pass leaves the store as it is.
func (a *ChunkAnonymizer) Anonymize(s *store.ChunkStore, ids []string, m *Masker) ChunkResult {
	var res ChunkResult
	for _, id := range ids {
		c, ok := s.Get(id)
		if !ok {
			res.Missing = append(res.Missing, id)
			continue
		}
		res.Processed++
		masked, changed := m.MaskChanged(c.Content)
		if !changed {
			continue
		}
		c.Content = masked
		c.Tokens = a.counter.Count(masked)
		res.Changed++
	}
	if len(res.Missing) > 0 {
		a.logger.Warn("chunks referenced by the graph are missing from the store",
			"missing", len(res.Missing))
	}
	return res
}

// AnonymizeFile loads the chunk store at path, masks ids and writes the
// whole store back atomically, whether or not any chunk changed.
//
// # Outputs
//
//   - ChunkResult: Counts for the pass.
//   - error: store.ErrDataFileMissing when path does not exist, so callers
//     can record it and continue.
func (a *ChunkAnonymizer) AnonymizeFile(path string, ids []string, m *Masker) (ChunkResult, error) {
	s, err := store.LoadChunks(path)
	if err != nil {
		return ChunkResult{}, err
	}
	res := a.Anonymize(s, ids, m)
	if err := s.Save(path); err != nil {
		return res, fmt.Errorf("saving chunk store: %w", err)
	}
	a.logger.Info("anonymized text chunks",
		"reference", m.Name(),
		"processed", res.Processed,
		"changed", res.Changed,
	)
	return res, nil
}

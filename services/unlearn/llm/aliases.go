// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/ident"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/resolve"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// DefaultAliasContextLines bounds the graph context sent with an alias
// prompt.
const DefaultAliasContextLines = 30

// AliasExtractor asks a model for aliases and spelling variants of an
// entity, using the graph's own descriptions as context.
//
// # Description
//
// Context lines are the nodes whose id or description mentions the name,
// followed by the descriptions of edges touching those nodes. The answer is
// parsed with resolve.ParseAliases; verification against the graph is the
// resolver's job.
type AliasExtractor struct {
	completer    Completer
	contextLines int
	logger       *slog.Logger
}

// NewAliasExtractor creates an extractor. contextLines <= 0 uses
// DefaultAliasContextLines.
func NewAliasExtractor(c Completer, contextLines int, logger *slog.Logger) *AliasExtractor {
	if contextLines <= 0 {
		contextLines = DefaultAliasContextLines
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AliasExtractor{
		completer:    c,
		contextLines: contextLines,
		logger:       logger.With("component", "llm.AliasExtractor"),
	}
}

// ExtractAliases implements resolve.AliasExtractor.
func (a *AliasExtractor) ExtractAliases(ctx context.Context, name string, g *store.Graph) ([]string, error) {
	lines := a.graphContext(name, g)
	answer, err := a.completer.Complete(ctx, AliasPrompt(name, lines))
	if err != nil {
		return nil, fmt.Errorf("extracting aliases for %q: %w", name, err)
	}
	aliases := resolve.ParseAliases(answer)
	a.logger.Debug("aliases extracted",
		slog.String("entity", name),
		slog.Int("context_lines", len(lines)),
		slog.Int("aliases", len(aliases)),
	)
	return aliases, nil
}

func (a *AliasExtractor) graphContext(name string, g *store.Graph) []string {
	var lines []string
	var matched []string
	for _, n := range g.Nodes() {
		if len(lines) >= a.contextLines {
			return lines
		}
		if ident.Contains(n.ID, name) || ident.Contains(n.Description(), name) {
			lines = append(lines, fmt.Sprintf("%s: %s", ident.Clean(n.ID), n.Description()))
			matched = append(matched, n.ID)
		}
	}
	for _, id := range matched {
		for _, e := range g.EdgesOf(id) {
			if len(lines) >= a.contextLines {
				return lines
			}
			if d := e.Description(); d != "" {
				lines = append(lines, fmt.Sprintf("%s - %s: %s", ident.Clean(e.Source), ident.Clean(e.Target), d))
			}
		}
	}
	return lines
}

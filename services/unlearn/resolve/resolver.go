// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve expands a raw entity identifier into the set of graph
// node identifiers that refer to it.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/ident"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// ErrEntityNotFound indicates the raw identifier has no exact node match.
var ErrEntityNotFound = errors.New("entity not found in graph")

const (
	// DefaultAliasTimeout bounds one alias extraction call.
	DefaultAliasTimeout = 60 * time.Second

	// DefaultConcurrency bounds concurrent resolutions in batch mode.
	DefaultConcurrency = 4
)

// AliasExtractor proposes alternative names for an entity. Proposals are
// unverified; the resolver keeps only those that name an existing node.
type AliasExtractor interface {
	ExtractAliases(ctx context.Context, name string, g *store.Graph) ([]string, error)
}

// Config configures a Resolver.
type Config struct {
	// AliasTimeout bounds each alias extraction call. Default: 60s
	AliasTimeout time.Duration

	// Concurrency bounds ResolveAll. Default: 4
	Concurrency int
}

// EntityInfo describes the exact structural match of a raw identifier.
type EntityInfo struct {
	ID          string
	Description string
	Clusters    string
	EdgeCount   int
}

// Resolution is the outcome for one raw identifier in batch mode.
type Resolution struct {
	Raw      string
	Entities []string

	// Info is nil when Raw has no exact match.
	Info *EntityInfo
}

// Resolver resolves raw identifiers against a graph.
//
// # Description
//
// Resolution merges two sources: case-insensitive substring matches over
// cleaned node ids, and aliases proposed by the AliasExtractor that exactly
// match a node. The alias source is optional; when it is nil, fails, or
// times out the resolver continues with substring matches only.
//
// # Thread Safety
//
// Safe for concurrent use as long as the graph is not mutated.
type Resolver struct {
	aliases AliasExtractor
	cfg     Config
	logger  *slog.Logger
}

// NewResolver creates a resolver. aliases may be nil.
func NewResolver(aliases AliasExtractor, cfg Config, logger *slog.Logger) *Resolver {
	if cfg.AliasTimeout <= 0 {
		cfg.AliasTimeout = DefaultAliasTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{aliases: aliases, cfg: cfg, logger: logger.With("component", "resolve.Resolver")}
}

// Fuzzy returns the cleaned ids of nodes whose cleaned id contains raw,
// case-insensitively, in document order.
func Fuzzy(raw string, g *store.Graph) []string {
	needle := strings.TrimSpace(raw)
	var out []string
	for _, n := range g.Nodes() {
		if ident.Contains(n.ID, needle) {
			out = append(out, ident.Clean(n.ID))
		}
	}
	return out
}

// Validate looks up the exact match of raw.
//
// # Outputs
//
//   - EntityInfo: The node's id, description prefix, clusters attribute
//     and incident edge count.
//   - error: ErrEntityNotFound when no node matches exactly.
func Validate(raw string, g *store.Graph) (EntityInfo, error) {
	nodes := g.FindNodes(strings.TrimSpace(raw))
	if len(nodes) == 0 {
		return EntityInfo{}, fmt.Errorf("%w: %q", ErrEntityNotFound, raw)
	}
	n := nodes[0]
	desc := n.Description()
	if r := []rune(desc); len(r) > 100 {
		desc = string(r[:100])
	}
	clusters, _ := n.Attr(store.AttrClusters)
	return EntityInfo{
		ID:          n.ID,
		Description: desc,
		Clusters:    clusters,
		EdgeCount:   len(g.EdgesOf(n.ID)),
	}, nil
}

// Merge concatenates lists keeping the first spelling of each
// case-insensitively distinct name.
func Merge(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, name := range list {
			key := strings.ToLower(name)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// Resolve returns every entity that raw refers to.
//
// # Inputs
//
//   - ctx: Parent context; alias extraction gets its own timeout.
//   - raw: The user supplied identifier.
//   - g: The graph before any modification.
//
// # Outputs
//
//   - []string: Cleaned node ids, substring matches first. Empty when
//     nothing matches.
//   - error: Only ctx cancellation.
func (r *Resolver) Resolve(ctx context.Context, raw string, g *store.Graph) ([]string, error) {
	if _, err := Validate(raw, g); err != nil {
		r.logger.Warn("entity has no exact match, continuing with fuzzy and alias matching",
			slog.String("entity", raw))
	}

	fuzzy := Fuzzy(raw, g)
	aliases, err := r.verifiedAliases(ctx, raw, g)
	if err != nil {
		return nil, err
	}
	merged := Merge(fuzzy, aliases)
	r.logger.Info("entity resolved",
		slog.String("entity", raw),
		slog.Int("fuzzy_matches", len(fuzzy)),
		slog.Int("alias_matches", len(aliases)),
		slog.Int("entities", len(merged)),
	)
	return merged, nil
}

func (r *Resolver) verifiedAliases(ctx context.Context, raw string, g *store.Graph) ([]string, error) {
	if r.aliases == nil {
		return nil, nil
	}
	actx, cancel := context.WithTimeout(ctx, r.cfg.AliasTimeout)
	defer cancel()

	proposed, err := r.aliases.ExtractAliases(actx, raw, g)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("alias extraction unavailable, using fuzzy matches only",
			slog.String("entity", raw),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	var verified []string
	for _, alias := range proposed {
		if nodes := g.FindNodes(alias); len(nodes) > 0 {
			verified = append(verified, ident.Clean(nodes[0].ID))
		}
	}
	return verified, nil
}

// ResolveAll resolves several identifiers concurrently.
//
// # Outputs
//
//   - []Resolution: One entry per input, in input order.
//   - error: The first cancellation error.
func (r *Resolver) ResolveAll(ctx context.Context, raws []string, g *store.Graph) ([]Resolution, error) {
	out := make([]Resolution, len(raws))
	sem := semaphore.NewWeighted(int64(r.cfg.Concurrency))
	eg, egctx := errgroup.WithContext(ctx)

	for i, raw := range raws {
		if err := sem.Acquire(egctx, 1); err != nil {
			break
		}
		eg.Go(func() error {
			defer sem.Release(1)
			entities, err := r.Resolve(egctx, raw, g)
			if err != nil {
				return err
			}
			res := Resolution{Raw: raw, Entities: entities}
			if info, err := Validate(raw, g); err == nil {
				res.Info = &info
			}
			out[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

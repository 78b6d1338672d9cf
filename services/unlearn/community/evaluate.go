// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package community

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

const (
	DefaultClusteringDelta    = 0.10
	DefaultAssortativityDelta = 0.10
	DefaultDensityDelta       = 0.05
)

// MissingPolicy decides how a leaf community absent from one snapshot is
// treated.
type MissingPolicy string

const (
	// MissingSkip logs and ignores the community.
	MissingSkip MissingPolicy = "skip"

	// MissingChanged counts the community as significantly changed.
	MissingChanged MissingPolicy = "changed"
)

// Thresholds are the metric deltas a community must strictly exceed to be
// considered significantly changed.
type Thresholds struct {
	Clustering    float64 `yaml:"clustering" validate:"gte=0"`
	Assortativity float64 `yaml:"assortativity" validate:"gte=0"`
	Density       float64 `yaml:"density" validate:"gte=0"`
}

// DefaultThresholds returns 0.10 / 0.10 / 0.05.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Clustering:    DefaultClusteringDelta,
		Assortativity: DefaultAssortativityDelta,
		Density:       DefaultDensityDelta,
	}
}

// ClusterEvaluation is the comparison of one leaf community.
type ClusterEvaluation struct {
	ID      string
	Before  Metrics
	After   Metrics
	Changed bool

	// Reasons names each metric whose delta exceeded its threshold.
	Reasons []string

	// Missing is "before" or "after" when the community was absent from
	// that snapshot.
	Missing string
}

// Evaluation is the outcome of one change-significance check.
type Evaluation struct {
	Changed bool

	// Leaves are the touched IDs that are level-0 communities.
	Leaves []string

	// Clusters holds the comparisons made, up to the first change.
	Clusters []ClusterEvaluation
}

// Evaluator decides whether a deletion changed community structure enough
// to warrant re-clustering.
//
// # Description
//
// Only level-0 touched communities are compared. For each one the member
// graphs before and after are measured and the absolute deltas checked
// against Thresholds. The first community over any threshold ends the
// evaluation. A NaN on either side never counts as a change.
//
// # Thread Safety
//
// Safe for concurrent use.
type Evaluator struct {
	thresholds Thresholds
	missing    MissingPolicy
	logger     *slog.Logger
}

// NewEvaluator creates an evaluator. An empty policy means MissingSkip.
func NewEvaluator(th Thresholds, missing MissingPolicy, logger *slog.Logger) *Evaluator {
	if missing == "" {
		missing = MissingSkip
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		thresholds: th,
		missing:    missing,
		logger:     logger.With("component", "community.Evaluator"),
	}
}

// LeafClusters returns the touched IDs whose level is 0. The level comes
// from before, or from after when before lacks the ID.
func LeafClusters(touched []string, before, after *store.CommunityStore) []string {
	var leaves []string
	for _, id := range touched {
		c, ok := before.Get(id)
		if !ok {
			c, ok = after.Get(id)
		}
		if ok && c.Level == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// Evaluate compares the leaf communities of touched between the two
// snapshots.
func (e *Evaluator) Evaluate(ctx context.Context, touched []string, before, after *store.CommunityStore) Evaluation {
	ctx, span := tracer.Start(ctx, "Evaluator.Evaluate")
	defer span.End()

	ev := Evaluation{Leaves: LeafClusters(touched, before, after)}
	for _, id := range ev.Leaves {
		b, inBefore := before.Get(id)
		a, inAfter := after.Get(id)
		if !inBefore || !inAfter {
			ce := ClusterEvaluation{ID: id, Missing: "after"}
			if !inBefore {
				ce.Missing = "before"
			}
			if e.missing == MissingChanged {
				ce.Changed = true
				ce.Reasons = []string{"missing " + ce.Missing}
				ev.Clusters = append(ev.Clusters, ce)
				ev.Changed = true
				break
			}
			e.logger.Warn("community missing from snapshot, skipping", "community", id, "missing", ce.Missing)
			ev.Clusters = append(ev.Clusters, ce)
			continue
		}

		ce := e.compare(id, ComputeMetrics(b), ComputeMetrics(a))
		ev.Clusters = append(ev.Clusters, ce)
		if ce.Changed {
			e.logger.Info("community changed significantly",
				"community", id, "reasons", strings.Join(ce.Reasons, ","))
			ev.Changed = true
			break
		}
	}

	span.SetAttributes(
		attribute.Int("unlearn.leaves", len(ev.Leaves)),
		attribute.Bool("unlearn.changed", ev.Changed),
	)
	recordEvaluation(ctx, ev.Changed)
	return ev
}

func (e *Evaluator) compare(id string, before, after Metrics) ClusterEvaluation {
	ce := ClusterEvaluation{ID: id, Before: before, After: after}
	check := func(name string, b, a, threshold float64) {
		d := math.Abs(a - b)
		if !math.IsNaN(d) && d > threshold {
			ce.Reasons = append(ce.Reasons, fmt.Sprintf("%s %.4f>%.4f", name, d, threshold))
		}
	}
	check("clustering", before.Clustering, after.Clustering, e.thresholds.Clustering)
	check("assortativity", before.Assortativity, after.Assortativity, e.thresholds.Assortativity)
	check("density", before.Density, after.Density, e.thresholds.Density)
	ce.Changed = len(ce.Reasons) > 0
	return ce
}

// WriteFlag persists the change flag as "true" or "false".
func WriteFlag(path string, changed bool) error {
	v := "false"
	if changed {
		v = "true"
	}
	return store.WriteFileAtomic(path, []byte(v), 0644)
}

// ReadFlag reads a flag written by WriteFlag. Anything other than "true"
// reads as false.
func ReadFlag(path string) (bool, error) {
	data, err := readSideFile(path)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(string(data)), "true"), nil
}

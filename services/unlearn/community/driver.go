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
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// BranchInput is the state the community branch runs against.
type BranchInput struct {
	Layout      store.Layout
	Graph       *store.Graph
	Communities *store.CommunityStore
	Target      string
	Memberships []store.Membership
}

// BranchResult collects the outcome of every community stage.
type BranchResult struct {
	Impact     *ImpactResult
	Evaluation Evaluation

	// Reclustered is set when fresh communities were merged in.
	Reclustered bool
	Fresh       int
	Mapping     map[string]string
	Merge       MergeResult
	Memberships MembershipResult

	// Warnings are non-fatal problems: report failures, skipped stages.
	Warnings []error
}

// Driver runs the community branch of one deletion: impact, evaluation
// and, when the change is significant, re-clustering through membership
// update.
//
// # Description
//
// Every stage persists its outputs before the next begins: the touched set
// and the before-snapshot go to the work directory, the community store
// and graph are saved after the impact stage and again after the merge.
// A skipped re-clustering leaves the stores as the impact stage wrote
// them.
//
// # Thread Safety
//
// Not safe for concurrent use on the same cache directory.
type Driver struct {
	impact      *ImpactEngine
	evaluator   *Evaluator
	reclusterer *Reclusterer
	logger      *slog.Logger
}

// NewDriver wires the stages together.
func NewDriver(impact *ImpactEngine, evaluator *Evaluator, reclusterer *Reclusterer, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		impact:      impact,
		evaluator:   evaluator,
		reclusterer: reclusterer,
		logger:      logger.With("component", "community.Driver"),
	}
}

// Run executes the branch.
//
// # Outputs
//
//   - *BranchResult: Stage outcomes, also on error.
//   - error: Persistence failures and cancellation. Anything else is a
//     warning in BranchResult.
func (d *Driver) Run(ctx context.Context, in BranchInput) (*BranchResult, error) {
	ctx, span := tracer.Start(ctx, "Driver.Run")
	defer span.End()
	span.SetAttributes(attribute.String("unlearn.target", in.Target))

	res := &BranchResult{}
	l := in.Layout

	before := in.Communities.Clone()
	if err := before.Save(l.Work(store.BeforeSnapshotFile)); err != nil {
		return res, fmt.Errorf("saving community snapshot: %w", err)
	}

	impact, err := d.impact.Run(ctx, ImpactInput{
		Target:      in.Target,
		Memberships: in.Memberships,
		Graph:       in.Graph,
		Communities: in.Communities,
	})
	res.Impact = impact
	if err != nil {
		return res, err
	}
	res.Warnings = append(res.Warnings, impact.ReportErrors...)

	if err := impact.Touched.Save(l.Work(store.TouchedClustersFile)); err != nil {
		return res, fmt.Errorf("saving touched clusters: %w", err)
	}
	if err := in.Communities.Save(l.Communities()); err != nil {
		return res, fmt.Errorf("saving community store: %w", err)
	}
	if err := in.Graph.Save(l.Graph()); err != nil {
		return res, fmt.Errorf("saving graph: %w", err)
	}

	touched := impact.Touched.IDs()
	res.Evaluation = d.evaluator.Evaluate(ctx, touched, before, in.Communities)
	if err := WriteFlag(l.Work(store.ChangeFlagFile), res.Evaluation.Changed); err != nil {
		return res, fmt.Errorf("saving change flag: %w", err)
	}
	if !res.Evaluation.Changed {
		d.logger.Info("community change below thresholds, skipping re-clustering",
			"target", in.Target, "leaves", len(res.Evaluation.Leaves))
		return res, nil
	}

	sub, err := ExtractSubgraph(in.Graph, in.Communities, touched)
	if errors.Is(err, ErrNoLeafCommunities) {
		res.Warnings = append(res.Warnings, err)
		return res, nil
	}
	if err != nil {
		return res, err
	}
	if err := sub.Graph.Save(l.Work(store.SubgraphFile)); err != nil {
		return res, fmt.Errorf("saving subgraph: %w", err)
	}
	if added := sub.RepairReferences(in.Graph); len(added) > 0 {
		d.logger.Debug("subgraph references repaired", "added", len(added))
	}
	if err := sub.Graph.Save(l.Work(store.RepairedSubgraphFile)); err != nil {
		return res, fmt.Errorf("saving repaired subgraph: %w", err)
	}

	fresh, err := d.reclusterer.Recluster(ctx, sub.Graph, in.Target)
	if errors.Is(err, ErrReclusterSkipped) {
		res.Warnings = append(res.Warnings, err)
		return res, nil
	}
	if err != nil {
		return res, err
	}
	if err := fresh.Save(l.Work(store.ReclusteredReportsFile)); err != nil {
		return res, fmt.Errorf("saving re-clustered reports: %w", err)
	}

	reconciled, mapping := Reconcile(in.Communities, fresh)
	res.Mapping = mapping
	res.Fresh = reconciled.Len()
	res.Merge = Merge(in.Communities, reconciled, touched)
	res.Memberships = UpdateMemberships(in.Graph, in.Communities, sub, d.logger)
	res.Reclustered = true

	if err := in.Communities.Save(l.Communities()); err != nil {
		return res, fmt.Errorf("saving merged community store: %w", err)
	}
	if err := in.Graph.Save(l.Graph()); err != nil {
		return res, fmt.Errorf("saving graph memberships: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("unlearn.reclustered", true),
		attribute.Int("unlearn.fresh_communities", res.Fresh),
	)
	d.logger.Info("communities re-clustered and merged",
		"target", in.Target,
		"deleted", res.Merge.Deleted,
		"inserted", res.Merge.Inserted,
		"memberships_replaced", res.Memberships.Replaced,
		"memberships_appended", res.Memberships.Appended,
	)
	return res, nil
}

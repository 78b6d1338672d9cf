// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("unlearn.pipeline")
	meter  = otel.Meter("unlearn.pipeline")
)

var (
	runsTotal       metric.Int64Counter
	stepErrorsTotal metric.Int64Counter
	entitiesDeleted metric.Int64Counter
	runDuration     metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		if runsTotal, err = meter.Int64Counter(
			"unlearn_runs_total",
			metric.WithDescription("Deletion runs by outcome"),
		); err != nil {
			metricsErr = err
			return
		}
		if stepErrorsTotal, err = meter.Int64Counter(
			"unlearn_step_errors_total",
			metric.WithDescription("Non-fatal errors recorded by step"),
		); err != nil {
			metricsErr = err
			return
		}
		if entitiesDeleted, err = meter.Int64Counter(
			"unlearn_entities_deleted_total",
			metric.WithDescription("Resolved entities processed by committed runs"),
		); err != nil {
			metricsErr = err
			return
		}
		runDuration, metricsErr = meter.Float64Histogram(
			"unlearn_run_duration_seconds",
			metric.WithDescription("Wall time of a deletion run"),
			metric.WithUnit("s"),
		)
	})
	return metricsErr
}

func recordRun(ctx context.Context, r *DeletionReport, now time.Time) {
	if err := initMetrics(); err != nil {
		return
	}
	outcome := attribute.String("outcome", string(r.Outcome))
	runsTotal.Add(ctx, 1, metric.WithAttributes(outcome, attribute.Bool("dry_run", r.DryRun)))
	runDuration.Record(ctx, now.Sub(r.StartedAt).Seconds(), metric.WithAttributes(outcome))
	for _, e := range r.Errors {
		stepErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("step", e.Step)))
	}
	if r.Outcome == OutcomeCompleted || r.Outcome == OutcomeCompletedWithErrors {
		entitiesDeleted.Add(ctx, int64(len(r.Entities)))
	}
}

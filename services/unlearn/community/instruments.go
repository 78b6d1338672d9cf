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
	"io/fs"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

var (
	tracer = otel.Tracer("unlearn.community")
	meter  = otel.Meter("unlearn.community")
)

var (
	touchedCommunities metric.Int64Histogram
	reportsGenerated   metric.Int64Counter
	evaluationsTotal   metric.Int64Counter
	reclusterTotal     metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		touchedCommunities, err = meter.Int64Histogram(
			"unlearn_touched_communities",
			metric.WithDescription("Communities touched by one entity deletion"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		reportsGenerated, err = meter.Int64Counter(
			"unlearn_reports_generated_total",
			metric.WithDescription("Community reports regenerated"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		evaluationsTotal, err = meter.Int64Counter(
			"unlearn_change_evaluations_total",
			metric.WithDescription("Change-significance evaluations by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		reclusterTotal, err = meter.Int64Counter(
			"unlearn_recluster_total",
			metric.WithDescription("Subgraph re-clustering runs by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordImpact(ctx context.Context, touched, regenerated int) {
	if err := initMetrics(); err != nil {
		return
	}
	touchedCommunities.Record(ctx, int64(touched))
	reportsGenerated.Add(ctx, int64(regenerated), metric.WithAttributes(attribute.String("stage", "impact")))
}

func recordEvaluation(ctx context.Context, changed bool) {
	if err := initMetrics(); err != nil {
		return
	}
	evaluationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("changed", changed)))
}

func recordRecluster(ctx context.Context, outcome string, reports int) {
	if err := initMetrics(); err != nil {
		return
	}
	reclusterTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if reports > 0 {
		reportsGenerated.Add(ctx, int64(reports), metric.WithAttributes(attribute.String("stage", "recluster")))
	}
}

// readSideFile reads an intermediate file, mapping absence to
// store.ErrDataFileMissing.
func readSideFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", store.ErrDataFileMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

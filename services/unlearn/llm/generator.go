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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/degrade"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/ident"
)

// ReportGenerator writes a community report.
type ReportGenerator interface {
	GenerateReport(ctx context.Context, req ReportRequest) (Report, error)
}

// =============================================================================
// Model-backed generator
// =============================================================================

// CompletionReportGenerator generates reports with a Completer.
type CompletionReportGenerator struct {
	completer Completer
}

// NewCompletionReportGenerator creates a model-backed generator.
func NewCompletionReportGenerator(c Completer) *CompletionReportGenerator {
	return &CompletionReportGenerator{completer: c}
}

// GenerateReport implements ReportGenerator.
//
// # Description
//
// Rows of the excluded entity are removed before the prompt is built and
// the prompt carries the exclude instruction. A community without entities
// gets EmptyReport without a model call.
func (g *CompletionReportGenerator) GenerateReport(ctx context.Context, req ReportRequest) (Report, error) {
	cleaned := req.Cleaned()
	if len(cleaned.Entities) == 0 {
		return EmptyReport(), nil
	}
	answer, err := g.completer.Complete(ctx, ReportPrompt(cleaned))
	if err != nil {
		return Report{}, fmt.Errorf("community %s report: %w", req.CommunityID, err)
	}
	report, err := ParseReport(answer)
	if err != nil {
		return Report{}, fmt.Errorf("community %s report: %w", req.CommunityID, err)
	}
	return report, nil
}

// =============================================================================
// Template generator
// =============================================================================

// maxTemplateFindings bounds the findings of a template report.
const maxTemplateFindings = 5

// TemplateReportGenerator builds reports from the tables alone. It is used
// when no model is configured and as the degraded fallback.
type TemplateReportGenerator struct{}

// GenerateReport implements ReportGenerator.
func (TemplateReportGenerator) GenerateReport(_ context.Context, req ReportRequest) (Report, error) {
	cleaned := req.Cleaned()
	if len(cleaned.Entities) == 0 {
		return EmptyReport(), nil
	}

	entities := append([]Entity(nil), cleaned.Entities...)
	sort.SliceStable(entities, func(i, j int) bool { return entities[i].Degree > entities[j].Degree })

	var names []string
	for i, e := range entities {
		if i == 3 {
			break
		}
		names = append(names, ident.Clean(e.Name))
	}

	r := EmptyReport()
	r.Title = strings.Join(names, ", ")
	r.Summary = fmt.Sprintf("The community contains %d entities connected by %d relationships.",
		len(cleaned.Entities), len(cleaned.Relationships))
	for i, e := range entities {
		if i == maxTemplateFindings {
			break
		}
		r.Findings = append(r.Findings, Finding{Summary: ident.Clean(e.Name), Explanation: e.Description})
	}
	return r, nil
}

// =============================================================================
// Fallback generator
// =============================================================================

// FallbackReportGenerator tries a primary generator and switches to a
// fallback when the primary is unavailable.
//
// # Description
//
// Failures wrapping ErrCollaboratorUnavailable or ErrMalformedResponse
// degrade the tracker and the request is answered by the fallback.
// Cancellation of ctx is returned as is.
//
// # Thread Safety
//
// Safe for concurrent use when both generators are.
type FallbackReportGenerator struct {
	primary  ReportGenerator
	fallback ReportGenerator
	tracker  *degrade.Tracker
}

// NewFallbackReportGenerator wires primary and fallback. A nil tracker gets
// a fresh one named "report_generator".
func NewFallbackReportGenerator(primary, fallback ReportGenerator, tracker *degrade.Tracker, logger *slog.Logger) *FallbackReportGenerator {
	if tracker == nil {
		tracker = degrade.NewTracker("report_generator", logger)
	}
	return &FallbackReportGenerator{primary: primary, fallback: fallback, tracker: tracker}
}

// Tracker returns the degradation tracker.
func (f *FallbackReportGenerator) Tracker() *degrade.Tracker { return f.tracker }

// GenerateReport implements ReportGenerator.
func (f *FallbackReportGenerator) GenerateReport(ctx context.Context, req ReportRequest) (Report, error) {
	if f.tracker.Mode() == degrade.ModeDisabled {
		return f.fallback.GenerateReport(ctx, req)
	}
	r, err := f.primary.GenerateReport(ctx, req)
	if err == nil {
		f.tracker.OnRecovered()
		return r, nil
	}
	if ctx.Err() != nil {
		return Report{}, ctx.Err()
	}
	if !errors.Is(err, ErrCollaboratorUnavailable) && !errors.Is(err, ErrMalformedResponse) {
		return Report{}, err
	}
	f.tracker.OnDegraded(err.Error())
	return f.fallback.GenerateReport(ctx, req)
}

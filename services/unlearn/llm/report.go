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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Finding is one titled paragraph of a community report.
type Finding struct {
	Summary     string `json:"summary"`
	Explanation string `json:"explanation"`
}

// Report is a community report as stored in `report_json`.
//
// Fields returned by the model beyond the known ones are kept and written
// back by Map.
type Report struct {
	Title             string
	Summary           string
	Rating            float64
	RatingExplanation string
	Findings          []Finding
	Recommendations   []string

	raw map[string]any
}

// EmptyReport is the report of a community whose entities were all removed.
func EmptyReport() Report {
	return Report{Findings: []Finding{}, Recommendations: []string{}}
}

// ParseReport extracts the first JSON object from a model response.
//
// # Description
//
// Code fences and prose around the object are ignored. Findings given as
// bare strings are accepted as summaries without explanation.
//
// # Outputs
//
//   - Report: Parsed report.
//   - error: Wraps ErrMalformedResponse when no object parses.
func ParseReport(response string) (Report, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end < start {
		return Report{}, fmt.Errorf("%w: no JSON object in response", ErrMalformedResponse)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(response[start:end+1]), &m); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return ReportFromMap(m), nil
}

// ReportFromMap builds a report from a decoded `report_json` value.
func ReportFromMap(m map[string]any) Report {
	r := Report{raw: m, Findings: []Finding{}, Recommendations: []string{}}
	r.Title, _ = m["title"].(string)
	r.Summary, _ = m["summary"].(string)
	r.RatingExplanation, _ = m["rating_explanation"].(string)
	switch v := m["rating"].(type) {
	case float64:
		r.Rating = v
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			r.Rating = f
		}
	}
	if list, ok := m["findings"].([]any); ok {
		for _, item := range list {
			switch f := item.(type) {
			case string:
				r.Findings = append(r.Findings, Finding{Summary: f})
			case map[string]any:
				s, _ := f["summary"].(string)
				e, _ := f["explanation"].(string)
				r.Findings = append(r.Findings, Finding{Summary: s, Explanation: e})
			}
		}
	}
	if list, ok := m["recommendations"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				r.Recommendations = append(r.Recommendations, s)
			}
		}
	}
	return r
}

// Map returns the `report_json` form of the report.
func (r Report) Map() map[string]any {
	out := make(map[string]any, len(r.raw)+4)
	for k, v := range r.raw {
		out[k] = v
	}
	out["title"] = r.Title
	out["summary"] = r.Summary
	findings := make([]any, 0, len(r.Findings))
	for _, f := range r.Findings {
		findings = append(findings, map[string]any{"summary": f.Summary, "explanation": f.Explanation})
	}
	out["findings"] = findings
	recs := make([]any, 0, len(r.Recommendations))
	for _, s := range r.Recommendations {
		recs = append(recs, s)
	}
	out["recommendations"] = recs
	if r.Rating != 0 || r.raw["rating"] != nil {
		out["rating"] = r.Rating
	}
	if r.RatingExplanation != "" {
		out["rating_explanation"] = r.RatingExplanation
	}
	return out
}

// IsEmpty reports whether the report carries no content.
func (r Report) IsEmpty() bool {
	return r.Title == "" && r.Summary == "" && len(r.Findings) == 0
}

// String renders the `report_string` form.
func (r Report) String() string {
	if r.IsEmpty() {
		return ""
	}
	return FormatReport(r.Map())
}

// FormatReport renders a decoded `report_json` value as markdown:
//
//	# title
//
//	summary
//
//	## finding summary
//
//	explanation
func FormatReport(m map[string]any) string {
	title, ok := m["title"].(string)
	if !ok {
		title = "Report"
	}
	summary, _ := m["summary"].(string)

	var sections []string
	if list, ok := m["findings"].([]any); ok {
		for _, item := range list {
			switch f := item.(type) {
			case string:
				sections = append(sections, fmt.Sprintf("## %s\n\n", f))
			case map[string]any:
				s, _ := f["summary"].(string)
				e, _ := f["explanation"].(string)
				sections = append(sections, fmt.Sprintf("## %s\n\n%s", s, e))
			}
		}
	}
	return fmt.Sprintf("# %s\n\n%s\n\n%s", title, summary, strings.Join(sections, "\n\n"))
}

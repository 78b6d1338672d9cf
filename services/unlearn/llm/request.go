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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/ident"
)

// Entity is one row of the Entities table handed to the report model.
type Entity struct {
	ID          int
	Name        string
	Type        string
	Description string
	Degree      int
}

// Relationship is one row of the Relationships table.
type Relationship struct {
	ID          int
	Source      string
	Target      string
	Description string
	Rank        int
}

// ReportRequest describes one community for report generation.
type ReportRequest struct {
	CommunityID   string
	Level         int
	Entities      []Entity
	Relationships []Relationship

	// Exclude names an entity that must not appear in the report. Rows
	// mentioning it are dropped before the request is sent and the prompt
	// carries an explicit instruction as well.
	Exclude string
}

// Cleaned returns a copy without the excluded entity's rows.
func (r ReportRequest) Cleaned() ReportRequest {
	if r.Exclude == "" {
		return r
	}
	out := r
	out.Entities = nil
	for _, e := range r.Entities {
		if !ident.Equal(e.Name, r.Exclude) {
			out.Entities = append(out.Entities, e)
		}
	}
	out.Relationships = nil
	for _, rel := range r.Relationships {
		if !ident.Equal(rel.Source, r.Exclude) && !ident.Equal(rel.Target, r.Exclude) {
			out.Relationships = append(out.Relationships, rel)
		}
	}
	return out
}

// Describe renders the community as the CSV tables used in report prompts.
func (r ReportRequest) Describe() string {
	var b strings.Builder
	b.WriteString("-----Entities-----\n```csv\n")
	b.WriteString(csvRow("id", "entity", "type", "description", "degree"))
	for _, e := range r.Entities {
		b.WriteString(csvRow(fmt.Sprint(e.ID), e.Name, e.Type, e.Description, fmt.Sprint(e.Degree)))
	}
	b.WriteString("```\n-----Relationships-----\n```csv\n")
	b.WriteString(csvRow("id", "source", "target", "description", "rank"))
	for _, rel := range r.Relationships {
		b.WriteString(csvRow(fmt.Sprint(rel.ID), rel.Source, rel.Target, rel.Description, fmt.Sprint(rel.Rank)))
	}
	b.WriteString("```")
	return b.String()
}

func csvRow(cols ...string) string {
	for i, c := range cols {
		cols[i] = strings.ReplaceAll(c, "\n", " ")
	}
	return strings.Join(cols, ",\t") + "\n"
}

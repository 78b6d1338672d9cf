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
)

// =============================================================================
// Prompts
// =============================================================================

const reportSystemPrompt = "You are a helpful assistant that writes analytical reports about communities of a knowledge graph."

const reportInstructions = `You are analysing one community of a knowledge graph. The community is
given as an Entities table and a Relationships table.

Write a report that a decision maker can read to understand the community:
who or what it contains, how the members relate, and which facts matter.

Return ONE JSON object with these fields and nothing else:
{
  "title": "<short name of the community naming its key entities>",
  "summary": "<executive summary of the community structure>",
  "rating": <float between 0 and 10, the importance of the community>,
  "rating_explanation": "<one sentence explaining the rating>",
  "findings": [
    {"summary": "<insight headline>", "explanation": "<several sentences grounded in the data>"}
  ]
}

Use only facts supported by the tables. Give between 1 and 5 findings.

-----Community-----
%s

Output:`

const excludePreamble = `IMPORTANT: You are given an 'Entities' section and a 'Relationships' section below.
Before generating the report, you MUST perform the following CLEANING steps:
  1. Remove any line in the Entities section where id == "%[1]s".
  2. Remove any line in the Relationships section where source == "%[1]s" OR target == "%[1]s".
After cleaning, you will ONLY use the remaining Entities and Relationships to generate the report.

Then, follow these RULES EXACTLY:
  - Do NOT mention, reference, or imply anything about "%[1]s".
  - Do NOT include any content derived from "%[1]s" (directly or indirectly).
  - If no entities remain after cleaning, output:
      { "title": "", "summary": "", "findings": [], "recommendations": [] }
  - Your output must be ONE SINGLE valid JSON object, and nothing else.

-----Begin Cleansed Input Below-----`

const aliasInstructions = `Text:
%s

Task: Identify all unique proper names, aliases, or spelling variants that refer to "%s".
Requirements:
1. Output exactly one line: a comma-separated list of the names.
2. Do NOT output any additional commentary, explanation, or punctuation.
3. Each name should appear only once, without quotes.
4. Case-insensitive matching; preserve original capitalization.
5. If no variants are found, output an empty line.`

// ReportPrompt builds the community report prompt. When req.Exclude is set
// the exclude-entity instruction is prepended.
func ReportPrompt(req ReportRequest) string {
	body := fmt.Sprintf(reportInstructions, req.Describe())
	if req.Exclude == "" {
		return body
	}
	return fmt.Sprintf(excludePreamble, req.Exclude) + "\n\n" + body
}

// AliasPrompt builds the alias extraction prompt for name over the given
// context lines.
func AliasPrompt(name string, context []string) string {
	return fmt.Sprintf(aliasInstructions, strings.Join(context, "\n"), name)
}

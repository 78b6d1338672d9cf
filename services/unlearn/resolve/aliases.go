// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import "strings"

var aliasSeparators = strings.NewReplacer("；", ",", "、", ",", ";", ",", "\r", "\n")

// ParseAliases splits a model answer into alias names.
//
// Names are separated by commas, semicolons or newlines. Surrounding
// whitespace and quotes are trimmed, empty names dropped and duplicates
// removed case-insensitively, keeping the first spelling.
func ParseAliases(answer string) []string {
	var names []string
	for _, line := range strings.Split(aliasSeparators.Replace(answer), "\n") {
		for _, part := range strings.Split(line, ",") {
			name := strings.TrimSpace(part)
			name = strings.Trim(name, `"'“”`)
			name = strings.TrimSpace(name)
			if name != "" {
				names = append(names, name)
			}
		}
	}
	return Merge(names)
}

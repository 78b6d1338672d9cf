// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ident canonicalizes knowledge-graph node identifiers.
//
// Graph builders store entity names HTML-escaped and wrapped in literal
// double quotes (`&quot;ALBUS DUMBLEDORE&quot;`). Every comparison in the
// unlearn pipeline goes through this package so that a name typed by an
// operator, a name returned by an LLM and a name read from GraphML all
// compare the same way.
package ident

import (
	"html"
	"strings"
)

// Clean unescapes HTML entities and strips one pair of surrounding double
// quotes.
//
// # Example
//
//	ident.Clean(`&quot;HAGRID&quot;`) // "HAGRID"
//	ident.Clean(`"HAGRID"`)           // "HAGRID"
//	ident.Clean(`HAGRID`)             // "HAGRID"
func Clean(raw string) string {
	s := html.UnescapeString(raw)
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = s[1 : len(s)-1]
	}
	return s
}

// Fold returns the case-folded clean form used as a comparison key.
func Fold(raw string) string {
	return strings.ToLower(Clean(raw))
}

// Equal reports whether two identifiers refer to the same node.
func Equal(a, b string) bool {
	return Fold(a) == Fold(b)
}

// Contains reports whether the clean form of haystack contains the clean
// form of needle, ignoring case. An empty needle never matches.
func Contains(haystack, needle string) bool {
	n := Fold(needle)
	if n == "" {
		return false
	}
	return strings.Contains(Fold(haystack), n)
}

// Dedup returns names in first-seen order with case-insensitive duplicates
// and empty names removed.
func Dedup(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		key := Fold(name)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out
}

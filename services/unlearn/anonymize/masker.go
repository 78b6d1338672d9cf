// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package anonymize masks mentions of a deleted entity in the free text that
// survives structural deletion: node and edge descriptions, raw text chunks
// and community reports.
package anonymize

import (
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaskToken replaces every masked mention.
const DefaultMaskToken = "[mask]"

// Masker replaces whole-word mentions of one name, including the possessive
// form, regardless of case.
//
// # Description
//
// A mention is the name, optionally followed by `'s`, that is neither
// preceded nor followed by a letter, digit or underscore in any script, so
// `Zoë` and `哈利` are bounded the same way as `Dumbledore`. Input is
// HTML-unescaped before matching so that `Dumbledore&#x27;s` is masked as a
// possessive. Matches inside an existing mask token are skipped, which
// keeps masking idempotent even when the token contains the name.
//
// # Example
//
//	m := anonymize.NewMasker("Dumbledore", "")
//	m.Mask("DUMBLEDORE's cloak") // "[mask] cloak"
//
// # Thread Safety
//
// Safe for concurrent use.
type Masker struct {
	name  string
	token string
	re    *regexp.Regexp
}

// NewMasker builds a masker for name. An empty token uses DefaultMaskToken.
// Surrounding quotes and HTML escapes on name are removed first.
func NewMasker(name, token string) *Masker {
	if token == "" {
		token = DefaultMaskToken
	}
	clean := strings.TrimSpace(html.UnescapeString(name))
	clean = strings.Trim(clean, `"`)
	pattern := `(?i)` + regexp.QuoteMeta(clean) + `((?:['‘’]s)?)`
	return &Masker{name: clean, token: token, re: regexp.MustCompile(pattern)}
}

// Name returns the cleaned reference name.
func (m *Masker) Name() string { return m.name }

// Token returns the replacement token.
func (m *Masker) Token() string { return m.token }

// Mask returns text with every mention replaced. Text without a mention is
// returned as it is.
func (m *Masker) Mask(text string) string {
	out, _ := m.MaskChanged(text)
	return out
}

// MaskChanged masks text and reports whether any mention was replaced.
// When nothing is replaced the input is returned unchanged, HTML escapes
// included.
func (m *Masker) MaskChanged(text string) (string, bool) {
	if m.name == "" {
		return text, false
	}
	unescaped := html.UnescapeString(text)
	spans := m.mentions(unescaped)
	if len(spans) == 0 {
		return text, false
	}
	var b strings.Builder
	b.Grow(len(unescaped))
	last := 0
	for _, sp := range spans {
		b.WriteString(unescaped[last:sp[0]])
		b.WriteString(m.token)
		last = sp[1]
	}
	b.WriteString(unescaped[last:])
	return b.String(), true
}

// mentions returns the [start, end) byte spans of every bounded mention in
// text, in order and without overlap.
func (m *Masker) mentions(text string) [][2]int {
	tokens := tokenSpans(text, m.token)
	var out [][2]int
	for pos := 0; pos < len(text); {
		loc := m.re.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end, core := pos+loc[0], pos+loc[1], pos+loc[2]
		if !wordBefore(text, start) && !insideAny(tokens, start, end) {
			switch {
			case !wordAt(text, end):
				out = append(out, [2]int{start, end})
				pos = end
				continue
			case end != core && !wordAt(text, core):
				out = append(out, [2]int{start, core})
				pos = core
				continue
			}
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		pos = start + size
	}
	return out
}

// isWordRune matches letters, numbers, combining marks and the underscore.
func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Mn, r)
}

// wordBefore reports whether the rune ending at i is a word rune.
func wordBefore(text string, i int) bool {
	if i <= 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return isWordRune(r)
}

// wordAt reports whether the rune starting at i is a word rune.
func wordAt(text string, i int) bool {
	if i >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return isWordRune(r)
}

func tokenSpans(text, token string) [][2]int {
	var out [][2]int
	for from := 0; token != ""; {
		i := strings.Index(text[from:], token)
		if i < 0 {
			break
		}
		out = append(out, [2]int{from + i, from + i + len(token)})
		from += i + len(token)
	}
	return out
}

func insideAny(spans [][2]int, start, end int) bool {
	for _, sp := range spans {
		if start < sp[1] && end > sp[0] {
			return true
		}
	}
	return false
}

// Mentions reports whether text mentions the name as a case-insensitive
// substring. Every text Mask would change is matched.
func (m *Masker) Mentions(text string) bool {
	if m.name == "" {
		return false
	}
	return strings.Contains(strings.ToLower(html.UnescapeString(text)), strings.ToLower(m.name))
}

// MaskValue masks every string inside a decoded JSON value. Maps and slices
// are copied, other values are returned as they are.
func (m *Masker) MaskValue(v any) any {
	switch t := v.(type) {
	case string:
		return m.Mask(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = m.MaskValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = m.MaskValue(val)
		}
		return out
	default:
		return v
	}
}

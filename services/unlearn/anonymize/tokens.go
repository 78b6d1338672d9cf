// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package anonymize

import (
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// TokenCounter recomputes the token count of a rewritten chunk.
type TokenCounter interface {
	Count(text string) int
}

// WordCounter counts whitespace-separated words.
type WordCounter struct{}

// Count implements TokenCounter.
func (WordCounter) Count(text string) int { return len(strings.Fields(text)) }

// TiktokenCounter counts model tokens with the tiktoken encoding of Model.
// Unknown models fall back to the gpt2 encoding.
type TiktokenCounter struct {
	Model string
}

// Count implements TokenCounter.
func (c TiktokenCounter) Count(text string) int {
	model := c.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return llms.CountTokens(model, text)
}

// NewTokenCounter returns the counter named by kind: "tiktoken" or
// "words" (the default).
func NewTokenCounter(kind, model string) TokenCounter {
	if kind == "tiktoken" {
		return TiktokenCounter{Model: model}
	}
	return WordCounter{}
}

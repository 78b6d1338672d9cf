// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm holds the language-model collaborators: alias extraction for
// entity resolution and community report generation.
package llm

import "errors"

var (
	// ErrCollaboratorUnavailable indicates the model endpoint could not be
	// reached, timed out, or rejected the request.
	ErrCollaboratorUnavailable = errors.New("llm collaborator unavailable")

	// ErrMalformedResponse indicates the model answered with something that
	// could not be parsed.
	ErrMalformedResponse = errors.New("malformed llm response")
)

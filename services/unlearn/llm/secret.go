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
	"net/http"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

// DefaultSecretPath is the mounted secret read when OPENAI_API_KEY is unset.
const DefaultSecretPath = "/run/secrets/openai_api_key"

// Secret holds an API key in an encrypted memguard enclave.
//
// # Description
//
// The plaintext key only exists in a locked buffer for the duration of a
// request, when the Authorization header is set.
//
// # Thread Safety
//
// Safe for concurrent use.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals key. The input slice is wiped.
func NewSecret(key []byte) *Secret {
	return &Secret{enclave: memguard.NewEnclave(key)}
}

// LoadSecret returns the key from envVar, falling back to the file at path.
func LoadSecret(envVar, path string) (*Secret, error) {
	if v := os.Getenv(envVar); v != "" {
		return NewSecret([]byte(v)), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not set and %s unreadable", ErrCollaboratorUnavailable, envVar, path)
	}
	key := strings.TrimSpace(string(data))
	memguard.WipeBytes(data)
	if key == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrCollaboratorUnavailable, path)
	}
	return NewSecret([]byte(key)), nil
}

// with opens the enclave, passes the key to fn and destroys the buffer.
func (s *Secret) with(fn func(key string)) error {
	buf, err := s.enclave.Open()
	if err != nil {
		return fmt.Errorf("opening secret: %w", err)
	}
	defer buf.Destroy()
	fn(buf.String())
	return nil
}

// bearerDoer sets the Authorization header from a Secret on each request.
type bearerDoer struct {
	secret *Secret
	client *http.Client
}

func (d *bearerDoer) Do(req *http.Request) (*http.Response, error) {
	if err := d.secret.with(func(key string) {
		req.Header.Set("Authorization", "Bearer "+key)
	}); err != nil {
		return nil, err
	}
	return d.client.Do(req)
}

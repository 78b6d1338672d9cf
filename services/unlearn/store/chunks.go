// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	fieldContent = "content"
	fieldTokens  = "tokens"
)

// Chunk is one entry of the text chunk store.
type Chunk struct {
	Content string
	Tokens  int

	// plain marks chunks stored as a bare JSON string.
	plain bool
	rest  *object
}

// ChunkStore is the insertion-ordered text chunk store
// (`kv_store_text_chunks.json`).
type ChunkStore struct {
	order   []string
	entries map[string]*Chunk
}

// LoadChunks reads a chunk store file.
func LoadChunks(path string) (*ChunkStore, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	s, err := ParseChunks(data)
	if err != nil {
		return nil, corrupt(path, err)
	}
	return s, nil
}

// ParseChunks parses chunk store JSON.
func ParseChunks(data []byte) (*ChunkStore, error) {
	o, err := parseObject(data)
	if err != nil {
		return nil, err
	}
	s := &ChunkStore{entries: make(map[string]*Chunk, len(o.keys))}
	for _, id := range o.keys {
		raw := bytes.TrimSpace(o.vals[id])
		c := &Chunk{}
		if len(raw) > 0 && raw[0] == '"' {
			if err := json.Unmarshal(raw, &c.Content); err != nil {
				return nil, fmt.Errorf("chunk %q: %w", id, err)
			}
			c.plain = true
		} else {
			co, err := parseObject(raw)
			if err != nil {
				return nil, fmt.Errorf("chunk %q: %w", id, err)
			}
			if _, err := co.get(fieldContent, &c.Content); err != nil {
				return nil, fmt.Errorf("chunk %q: %w", id, err)
			}
			if _, err := co.get(fieldTokens, &c.Tokens); err != nil {
				return nil, fmt.Errorf("chunk %q: %w", id, err)
			}
			c.rest = co
		}
		s.order = append(s.order, id)
		s.entries[id] = c
	}
	return s, nil
}

// IDs returns chunk ids in store order.
func (s *ChunkStore) IDs() []string { return append([]string(nil), s.order...) }

// Len returns the number of chunks.
func (s *ChunkStore) Len() int { return len(s.order) }

// Get returns the chunk with id.
func (s *ChunkStore) Get(id string) (*Chunk, bool) {
	c, ok := s.entries[id]
	return c, ok
}

// Bytes serializes the whole store.
func (s *ChunkStore) Bytes() ([]byte, error) {
	out := newObject()
	for _, id := range s.order {
		c := s.entries[id]
		if c.plain {
			if err := out.set(id, c.Content); err != nil {
				return nil, err
			}
			continue
		}
		o := c.rest
		if o == nil {
			o = newObject()
		} else {
			o = o.clone()
		}
		if err := o.set(fieldContent, c.Content); err != nil {
			return nil, err
		}
		if o.has(fieldTokens) || c.Tokens != 0 {
			if err := o.set(fieldTokens, c.Tokens); err != nil {
				return nil, err
			}
		}
		var buf bytes.Buffer
		if err := o.encode(&buf, 0); err != nil {
			return nil, err
		}
		out.setRaw(id, buf.Bytes())
	}
	var buf bytes.Buffer
	if err := out.encode(&buf, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the store atomically.
func (s *ChunkStore) Save(path string) error {
	data, err := s.Bytes()
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0644)
}

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

// Community field names in the report store.
const (
	fieldReportString   = "report_string"
	fieldReportJSON     = "report_json"
	fieldLevel          = "level"
	fieldTitle          = "title"
	fieldEdges          = "edges"
	fieldNodes          = "nodes"
	fieldChunkIDs       = "chunk_ids"
	fieldOccurrence     = "occurrence"
	fieldSubCommunities = "sub_communities"
)

// defaultCommunityFields is the field order used for new communities.
var defaultCommunityFields = []string{
	fieldReportString, fieldReportJSON, fieldLevel, fieldTitle, fieldEdges,
	fieldNodes, fieldChunkIDs, fieldOccurrence, fieldSubCommunities,
}

// Community is one entry of the community report store.
//
// Fields the pipeline does not understand are kept verbatim and written
// back in their original position.
type Community struct {
	Level          int
	Title          string
	Nodes          []string
	Edges          [][2]string
	SubCommunities []string
	ChunkIDs       []string
	Occurrence     float64
	ReportString   string
	ReportJSON     map[string]any

	rest *object
}

// NewCommunity returns an empty community that serializes every field.
func NewCommunity(level int) *Community {
	rest := newObject()
	for _, f := range defaultCommunityFields {
		rest.setRaw(f, json.RawMessage("null"))
	}
	return &Community{Level: level, ReportJSON: map[string]any{}, rest: rest}
}

func parseCommunity(raw json.RawMessage) (*Community, error) {
	o, err := parseObject(raw)
	if err != nil {
		return nil, err
	}
	c := &Community{rest: o}
	fields := []struct {
		key string
		dst any
	}{
		{fieldLevel, &c.Level},
		{fieldTitle, &c.Title},
		{fieldNodes, &c.Nodes},
		{fieldEdges, &c.Edges},
		{fieldSubCommunities, &c.SubCommunities},
		{fieldChunkIDs, &c.ChunkIDs},
		{fieldOccurrence, &c.Occurrence},
		{fieldReportString, &c.ReportString},
		{fieldReportJSON, &c.ReportJSON},
	}
	for _, f := range fields {
		if _, err := o.get(f.key, f.dst); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Community) toObject() (*object, error) {
	var o *object
	if c.rest != nil {
		o = c.rest.clone()
	} else {
		o = newObject()
		for _, f := range defaultCommunityFields {
			o.setRaw(f, json.RawMessage("null"))
		}
	}

	nodes := c.Nodes
	if nodes == nil {
		nodes = []string{}
	}
	edges := c.Edges
	if edges == nil {
		edges = [][2]string{}
	}
	report := c.ReportJSON
	if report == nil {
		report = map[string]any{}
	}

	values := map[string]any{
		fieldLevel:        c.Level,
		fieldTitle:        c.Title,
		fieldNodes:        nodes,
		fieldEdges:        edges,
		fieldReportString: c.ReportString,
		fieldReportJSON:   report,
	}
	// Optional fields are written only when present or populated.
	if o.has(fieldSubCommunities) || len(c.SubCommunities) > 0 {
		subs := c.SubCommunities
		if subs == nil {
			subs = []string{}
		}
		values[fieldSubCommunities] = subs
	}
	if o.has(fieldChunkIDs) || len(c.ChunkIDs) > 0 {
		ids := c.ChunkIDs
		if ids == nil {
			ids = []string{}
		}
		values[fieldChunkIDs] = ids
	}
	if o.has(fieldOccurrence) || c.Occurrence != 0 {
		values[fieldOccurrence] = c.Occurrence
	}

	for _, f := range defaultCommunityFields {
		v, ok := values[f]
		if !ok {
			continue
		}
		if err := o.set(f, v); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Clone returns a deep copy.
func (c *Community) Clone() *Community {
	o, err := c.toObject()
	if err != nil {
		return c.shallowClone()
	}
	var buf bytes.Buffer
	if err := o.encode(&buf, 0); err != nil {
		return c.shallowClone()
	}
	clone, err := parseCommunity(buf.Bytes())
	if err != nil {
		return c.shallowClone()
	}
	return clone
}

func (c *Community) shallowClone() *Community {
	cp := *c
	cp.Nodes = append([]string(nil), c.Nodes...)
	cp.Edges = append([][2]string(nil), c.Edges...)
	cp.SubCommunities = append([]string(nil), c.SubCommunities...)
	cp.ChunkIDs = append([]string(nil), c.ChunkIDs...)
	if c.rest != nil {
		cp.rest = c.rest.clone()
	}
	return &cp
}

// HasNode reports whether id is an exact member.
func (c *Community) HasNode(id string) bool {
	for _, n := range c.Nodes {
		if n == id {
			return true
		}
	}
	return false
}

// ============================================================================
// Community Store
// ============================================================================

// CommunityStore is the insertion-ordered community report store
// (`kv_store_community_reports.json`).
//
// # Thread Safety
//
// Not safe for concurrent mutation. Clone it to hand a read-only snapshot
// to concurrent readers.
type CommunityStore struct {
	order   []string
	entries map[string]*Community
}

// NewCommunityStore returns an empty store.
func NewCommunityStore() *CommunityStore {
	return &CommunityStore{entries: make(map[string]*Community)}
}

// LoadCommunities reads a community store file.
func LoadCommunities(path string) (*CommunityStore, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	s, err := ParseCommunities(data)
	if err != nil {
		return nil, corrupt(path, err)
	}
	return s, nil
}

// ParseCommunities parses community store JSON.
func ParseCommunities(data []byte) (*CommunityStore, error) {
	o, err := parseObject(data)
	if err != nil {
		return nil, err
	}
	s := NewCommunityStore()
	for _, id := range o.keys {
		c, err := parseCommunity(o.vals[id])
		if err != nil {
			return nil, fmt.Errorf("community %q: %w", id, err)
		}
		s.Set(id, c)
	}
	return s, nil
}

// IDs returns community ids in store order.
func (s *CommunityStore) IDs() []string {
	return append([]string(nil), s.order...)
}

// Len returns the number of communities.
func (s *CommunityStore) Len() int { return len(s.order) }

// Get returns the community with id.
func (s *CommunityStore) Get(id string) (*Community, bool) {
	c, ok := s.entries[id]
	return c, ok
}

// Set inserts or replaces a community. Replacing keeps the original position.
func (s *CommunityStore) Set(id string, c *Community) {
	if _, ok := s.entries[id]; !ok {
		s.order = append(s.order, id)
	}
	s.entries[id] = c
}

// Delete removes id and reports whether it existed.
func (s *CommunityStore) Delete(id string) bool {
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	for i, k := range s.order {
		if k == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Clone returns a deep copy, used as the read-only pre-edit snapshot.
func (s *CommunityStore) Clone() *CommunityStore {
	c := NewCommunityStore()
	for _, id := range s.order {
		c.Set(id, s.entries[id].Clone())
	}
	return c
}

// Bytes serializes the store with two-space indentation.
func (s *CommunityStore) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if len(s.order) == 0 {
		return []byte("{}"), nil
	}
	buf.WriteString("{\n")
	for i, id := range s.order {
		o, err := s.entries[id].toObject()
		if err != nil {
			return nil, fmt.Errorf("community %q: %w", id, err)
		}
		key, err := marshalNoEscape(id)
		if err != nil {
			return nil, err
		}
		buf.WriteString("  ")
		buf.Write(key)
		buf.WriteString(": ")
		if err := o.encode(&buf, 1); err != nil {
			return nil, fmt.Errorf("community %q: %w", id, err)
		}
		if i < len(s.order)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Save writes the store atomically.
func (s *CommunityStore) Save(path string) error {
	data, err := s.Bytes()
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0644)
}

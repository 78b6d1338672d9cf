// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package community

import (
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// TouchedSet is the ordered, duplicate-free set of community IDs whose
// membership changed during one deletion.
type TouchedSet struct {
	ids  []string
	seen map[string]struct{}
}

// NewTouchedSet returns a set holding ids in first-seen order.
func NewTouchedSet(ids ...string) *TouchedSet {
	t := &TouchedSet{seen: make(map[string]struct{})}
	for _, id := range ids {
		t.Add(id)
	}
	return t
}

// Add inserts id and reports whether it was new.
func (t *TouchedSet) Add(id string) bool {
	if _, ok := t.seen[id]; ok {
		return false
	}
	t.seen[id] = struct{}{}
	t.ids = append(t.ids, id)
	return true
}

// Has reports whether id is in the set.
func (t *TouchedSet) Has(id string) bool {
	_, ok := t.seen[id]
	return ok
}

// IDs returns the members in insertion order.
func (t *TouchedSet) IDs() []string { return append([]string(nil), t.ids...) }

// Len returns the number of members.
func (t *TouchedSet) Len() int { return len(t.ids) }

// Save writes the set as a JSON list of strings.
func (t *TouchedSet) Save(path string) error {
	ids := t.ids
	if ids == nil {
		ids = []string{}
	}
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return err
	}
	return store.WriteFileAtomic(path, data, 0644)
}

// LoadTouchedSet reads a set written by Save. Numeric entries are accepted.
func LoadTouchedSet(path string) (*TouchedSet, error) {
	data, err := readSideFile(path)
	if err != nil {
		return nil, err
	}
	var ids []store.ClusterID
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", store.ErrDataFileCorrupt, path, err)
	}
	t := NewTouchedSet()
	for _, id := range ids {
		t.Add(string(id))
	}
	return t, nil
}

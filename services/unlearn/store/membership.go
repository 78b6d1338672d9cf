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
	"strconv"
	"strings"
)

// ClusterID identifies a community. Graph builders emit integers, but the
// community store keys are strings and reconciled IDs may carry a suffix,
// so the canonical form is the string.
type ClusterID string

// IsNumeric reports whether the ID is a non-negative decimal integer.
func (c ClusterID) IsNumeric() bool {
	if c == "" {
		return false
	}
	for _, r := range c {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// MarshalJSON writes numeric IDs as JSON numbers and everything else as
// strings.
func (c ClusterID) MarshalJSON() ([]byte, error) {
	if c.IsNumeric() {
		n, err := strconv.ParseInt(string(c), 10, 64)
		if err == nil {
			return []byte(strconv.FormatInt(n, 10)), nil
		}
	}
	return json.Marshal(string(c))
}

// UnmarshalJSON accepts a JSON number or string.
func (c *ClusterID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ClusterID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("cluster id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*c = ClusterID(strconv.FormatInt(i, 10))
		return nil
	}
	*c = ClusterID(n.String())
	return nil
}

// Membership is one {level, cluster} entry of a node's community list.
type Membership struct {
	Level   int       `json:"level"`
	Cluster ClusterID `json:"cluster"`
}

// ParseMemberships decodes a node's clusters attribute.
//
// # Description
//
// Accepts the three encodings found in GraphRAG caches:
//   - a JSON list of {"level": n, "cluster": id} objects
//   - a JSON list of bare cluster IDs (level defaults to 0)
//   - a comma or `<SEP>` separated string of cluster IDs
//
// Entries without a cluster are dropped.
//
// # Outputs
//
//   - []Membership: Parsed entries in attribute order.
//   - error: Non-nil only when the value looks like JSON but does not parse.
func ParseMemberships(raw string) ([]Membership, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(s), &items); err != nil {
			return nil, fmt.Errorf("parsing clusters attribute: %w", err)
		}
		out := make([]Membership, 0, len(items))
		for _, item := range items {
			item = bytes.TrimSpace(item)
			if len(item) > 0 && item[0] == '{' {
				var m struct {
					Level   int        `json:"level"`
					Cluster *ClusterID `json:"cluster"`
				}
				if err := json.Unmarshal(item, &m); err != nil {
					return nil, fmt.Errorf("parsing cluster entry: %w", err)
				}
				if m.Cluster == nil || *m.Cluster == "" {
					continue
				}
				out = append(out, Membership{Level: m.Level, Cluster: *m.Cluster})
				continue
			}
			var id ClusterID
			if err := json.Unmarshal(item, &id); err != nil {
				return nil, fmt.Errorf("parsing cluster entry: %w", err)
			}
			if id != "" {
				out = append(out, Membership{Cluster: id})
			}
		}
		return out, nil
	}

	var out []Membership
	for _, part := range strings.Split(strings.ReplaceAll(s, GraphFieldSep, ","), ",") {
		part = strings.Trim(strings.TrimSpace(part), `"`)
		if part != "" {
			out = append(out, Membership{Cluster: ClusterID(part)})
		}
	}
	return out, nil
}

// FormatMemberships encodes memberships for the clusters attribute.
func FormatMemberships(ms []Membership) string {
	if ms == nil {
		ms = []Membership{}
	}
	data, err := json.Marshal(ms)
	if err != nil {
		// ClusterID marshalling cannot fail for string input.
		return "[]"
	}
	return string(data)
}

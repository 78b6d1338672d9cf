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
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// Reconcile renames the communities of fresh so none collides with an ID
// of base.
//
// # Description
//
// Numeric IDs are shifted by max(numeric base IDs)+1, or by 1 when base
// has none. Other IDs get a "_N" suffix, N counting up from 1 until the
// name is free in base and among IDs already assigned. Each rename is
// applied to the key, to every title embedding the old ID and to every
// sub_communities reference. fresh is not modified.
//
// # Outputs
//
//   - *store.CommunityStore: Renamed copy of fresh, in fresh order.
//   - map[string]string: Old ID to new ID.
func Reconcile(base, fresh *store.CommunityStore) (*store.CommunityStore, map[string]string) {
	offset := 1
	maxID, found := 0, false
	for _, id := range base.IDs() {
		if !store.ClusterID(id).IsNumeric() {
			continue
		}
		n, err := strconv.Atoi(id)
		if err != nil {
			continue
		}
		if !found || n > maxID {
			maxID, found = n, true
		}
	}
	if found {
		offset = maxID + 1
	}

	taken := make(map[string]struct{}, base.Len()+fresh.Len())
	for _, id := range base.IDs() {
		taken[id] = struct{}{}
	}

	mapping := make(map[string]string, fresh.Len())
	for _, id := range fresh.IDs() {
		next := id
		if n, err := strconv.Atoi(id); err == nil && store.ClusterID(id).IsNumeric() {
			next = strconv.Itoa(n + offset)
		} else {
			for i := 1; ; i++ {
				if _, clash := taken[next]; !clash {
					break
				}
				next = id + "_" + strconv.Itoa(i)
			}
		}
		taken[next] = struct{}{}
		mapping[id] = next
	}

	out := store.NewCommunityStore()
	for _, id := range fresh.IDs() {
		c, _ := fresh.Get(id)
		c = c.Clone()
		newID := mapping[id]
		if newID != id && c.Title != "" {
			c.Title = strings.ReplaceAll(c.Title, id, newID)
		}
		for i, sub := range c.SubCommunities {
			if to, ok := mapping[sub]; ok {
				c.SubCommunities[i] = to
			}
		}
		out.Set(newID, c)
	}
	return out, mapping
}

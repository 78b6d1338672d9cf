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
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// MergeResult counts what Merge changed.
type MergeResult struct {
	Deleted  int
	Inserted int

	// DanglingDropped lists sub_community references removed because
	// their target no longer exists.
	DanglingDropped []string
}

// Merge deletes every touched ID from base, then inserts every community
// of reconciled. Touched IDs absent from base are ignored. References to
// deleted communities left in surviving sub_communities lists are removed
// so the store never points at a missing key.
func Merge(base, reconciled *store.CommunityStore, touched []string) MergeResult {
	var res MergeResult
	for _, id := range touched {
		if base.Delete(id) {
			res.Deleted++
		}
	}
	for _, id := range reconciled.IDs() {
		c, _ := reconciled.Get(id)
		base.Set(id, c)
		res.Inserted++
	}
	res.DanglingDropped = dropDanglingSubs(base)
	return res
}

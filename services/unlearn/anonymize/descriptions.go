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
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// DescriptionResult counts the descriptions rewritten by one pass.
type DescriptionResult struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// AnonymizeDescriptions masks the description of the target, of every hop
// neighbour, and of every edge joining two consecutive hop layers
// (target to 1-hop, 1-hop to 2-hop, and so on).
//
// # Description
//
// Only elements whose text changes are marked for re-serialization; the
// rest of the document is written back untouched. The graph is edited in
// place and not saved.
func AnonymizeDescriptions(g *store.Graph, hops *HopSets, m *Masker) DescriptionResult {
	var res DescriptionResult
	ids := append(append([]string(nil), hops.TargetIDs...), hops.All()...)
	for _, id := range ids {
		n := g.Node(id)
		if n == nil {
			continue
		}
		desc, ok := n.Attr(store.AttrDescription)
		if !ok || desc == "" {
			continue
		}
		if masked, changed := m.MaskChanged(desc); changed {
			n.SetAttr(store.AttrDescription, masked)
			res.Nodes++
		}
	}

	for _, e := range g.Edges() {
		ls, lt := hops.Level(e.Source), hops.Level(e.Target)
		if ls < 0 || lt < 0 || (ls-lt != 1 && lt-ls != 1) {
			continue
		}
		desc, ok := e.Attr(store.AttrDescription)
		if !ok || desc == "" {
			continue
		}
		if masked, changed := m.MaskChanged(desc); changed {
			e.SetAttr(store.AttrDescription, masked)
			res.Edges++
		}
	}
	return res
}

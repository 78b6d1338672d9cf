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
	"encoding/json"
	"log/slog"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/store"
)

// ReportClusters returns the cluster ids of every hop neighbour, in
// discovery order. Nodes whose clusters attribute does not parse are
// skipped.
func ReportClusters(g *store.Graph, hops *HopSets, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}
	seen := make(map[string]struct{})
	var out []string
	for _, id := range hops.All() {
		n := g.Node(id)
		if n == nil || !n.HasClusters() {
			continue
		}
		ms, err := n.Clusters()
		if err != nil {
			logger.Warn("skipping unparsable clusters attribute", "node", id, "error", err)
			continue
		}
		for _, mb := range ms {
			cid := string(mb.Cluster)
			if _, ok := seen[cid]; ok {
				continue
			}
			seen[cid] = struct{}{}
			out = append(out, cid)
		}
	}
	return out
}

// AnonymizeReports masks the reference name in the reports of the given
// communities: `report_string` and every string inside `report_json`.
// Communities without a maskable mention are left untouched. It returns
// the number of communities rewritten.
func AnonymizeReports(cs *store.CommunityStore, clusterIDs []string, m *Masker) int {
	updated := 0
	for _, cid := range clusterIDs {
		c, ok := cs.Get(cid)
		if !ok {
			continue
		}
		encoded, err := json.Marshal(c.ReportJSON)
		if err != nil {
			encoded = nil
		}
		if !m.Mentions(c.ReportString) && !m.Mentions(string(encoded)) {
			continue
		}
		reportString, changed := m.MaskChanged(c.ReportString)
		var reportJSON map[string]any
		if c.ReportJSON != nil {
			if masked, ok := m.MaskValue(c.ReportJSON).(map[string]any); ok {
				if after, err := json.Marshal(masked); err == nil && string(after) != string(encoded) {
					reportJSON = masked
				}
			}
		}
		if !changed && reportJSON == nil {
			continue
		}
		c.ReportString = reportString
		if reportJSON != nil {
			c.ReportJSON = reportJSON
		}
		updated++
	}
	return updated
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storetest builds GraphRAG cache fixtures for tests.
package storetest

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"html"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Node describes a fixture node. Name is written quoted and escaped the way
// graph builders write entity ids.
type Node struct {
	Name        string
	Type        string
	Description string
	SourceIDs   []string
	Clusters    string // raw clusters attribute; empty omits it
}

// Edge describes a fixture edge between two node names.
type Edge struct {
	Source      string
	Target      string
	Description string
	SourceIDs   []string
	Weight      float64
}

// ID returns the raw GraphML id for a display name.
func ID(name string) string {
	return `"` + strings.ToUpper(name) + `"`
}

// GraphML renders a networkx-style GraphML document.
func GraphML(nodes []Node, edges []Edge) string {
	var b strings.Builder
	b.WriteString("<?xml version='1.0' encoding='utf-8'?>\n")
	b.WriteString(`<graphml xmlns="http://graphml.graphdrawing.org/xmlns" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:schemaLocation="http://graphml.graphdrawing.org/xmlns http://graphml.graphdrawing.org/xmlns/1.0/graphml.xsd">` + "\n")
	b.WriteString(`  <key id="d7" for="edge" attr.name="order" attr.type="long" />` + "\n")
	b.WriteString(`  <key id="d6" for="edge" attr.name="source_id" attr.type="string" />` + "\n")
	b.WriteString(`  <key id="d5" for="edge" attr.name="description" attr.type="string" />` + "\n")
	b.WriteString(`  <key id="d4" for="edge" attr.name="weight" attr.type="double" />` + "\n")
	b.WriteString(`  <key id="d3" for="node" attr.name="clusters" attr.type="string" />` + "\n")
	b.WriteString(`  <key id="d2" for="node" attr.name="source_id" attr.type="string" />` + "\n")
	b.WriteString(`  <key id="d1" for="node" attr.name="description" attr.type="string" />` + "\n")
	b.WriteString(`  <key id="d0" for="node" attr.name="entity_type" attr.type="string" />` + "\n")
	b.WriteString(`  <graph edgedefault="undirected">` + "\n")
	for _, n := range nodes {
		fmt.Fprintf(&b, "    <node id=\"%s\">\n", html.EscapeString(ID(n.Name)))
		typ := n.Type
		if typ == "" {
			typ = "PERSON"
		}
		fmt.Fprintf(&b, "      <data key=\"d0\">%s</data>\n", html.EscapeString(`"`+typ+`"`))
		fmt.Fprintf(&b, "      <data key=\"d1\">%s</data>\n", html.EscapeString(n.Description))
		fmt.Fprintf(&b, "      <data key=\"d2\">%s</data>\n", html.EscapeString(strings.Join(n.SourceIDs, "<SEP>")))
		if n.Clusters != "" {
			fmt.Fprintf(&b, "      <data key=\"d3\">%s</data>\n", html.EscapeString(n.Clusters))
		}
		b.WriteString("    </node>\n")
	}
	for _, e := range edges {
		w := e.Weight
		if w == 0 {
			w = 1
		}
		fmt.Fprintf(&b, "    <edge source=\"%s\" target=\"%s\">\n", html.EscapeString(ID(e.Source)), html.EscapeString(ID(e.Target)))
		fmt.Fprintf(&b, "      <data key=\"d4\">%g</data>\n", w)
		fmt.Fprintf(&b, "      <data key=\"d5\">%s</data>\n", html.EscapeString(e.Description))
		fmt.Fprintf(&b, "      <data key=\"d6\">%s</data>\n", html.EscapeString(strings.Join(e.SourceIDs, "<SEP>")))
		b.WriteString("      <data key=\"d7\">1</data>\n")
		b.WriteString("    </edge>\n")
	}
	b.WriteString("  </graph>\n</graphml>\n")
	return b.String()
}

// Chunks renders a chunk store from id → content.
func Chunks(contents map[string]string) string {
	m := make(map[string]map[string]any, len(contents))
	for id, c := range contents {
		m[id] = map[string]any{"content": c, "tokens": len(strings.Fields(c)), "chunk_order_index": 0, "full_doc_id": "doc-1"}
	}
	data, _ := json.MarshalIndent(m, "", "  ")
	return string(data)
}

// Vectors renders a vector store with one dim-sized row per name. Row i is
// filled with the value i.
func Vectors(dim int, names ...string) string {
	raw := make([]byte, 0, len(names)*dim*4)
	var data []map[string]any
	for i, n := range names {
		data = append(data, map[string]any{"__id__": fmt.Sprintf("ent-%d", i), "entity_name": ID(n)})
		for j := 0; j < dim; j++ {
			raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(float32(i)))
		}
	}
	doc := map[string]any{
		"embedding_dim": dim,
		"data":          data,
		"matrix":        base64.StdEncoding.EncodeToString(raw),
	}
	out, _ := json.MarshalIndent(doc, "", "  ")
	return string(out)
}

// WriteFile writes content under dir and returns the path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing fixture %s: %v", path, err)
	}
	return path
}

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
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/ident"
)

// GraphFieldSep separates chunk IDs inside source_id attributes.
const GraphFieldSep = "<SEP>"

// Logical GraphML attribute names.
const (
	AttrEntityType  = "entity_type"
	AttrDescription = "description"
	AttrSourceID    = "source_id"
	AttrClusters    = "clusters"
	AttrWeight      = "weight"
	AttrOrder       = "order"
)

const (
	domainNode = "node"
	domainEdge = "edge"
)

// defaultKeyIDs are used when a file has no <key> declaration for an
// attribute. They match the ids written by networkx for GraphRAG caches.
var defaultKeyIDs = map[string]map[string]string{
	domainNode: {
		AttrEntityType:  "d0",
		AttrDescription: "d1",
		AttrSourceID:    "d2",
		AttrClusters:    "d3",
	},
	domainEdge: {
		AttrWeight:      "d4",
		AttrDescription: "d5",
		AttrSourceID:    "d6",
		AttrOrder:       "d7",
	},
}

// ============================================================================
// Graph Model
// ============================================================================

type keyDecl struct {
	ID       string
	For      string
	AttrName string
	AttrType string
}

type dataField struct {
	Key   string
	Value string
}

// Node is a GraphML <node>. Fields are read through the owning Graph so that
// key ids resolve by attribute name.
type Node struct {
	ID string

	g       *Graph
	attrs   []xml.Attr
	data    []dataField
	raw     []byte
	gap     []byte
	dirty   bool
	removed bool
}

// Edge is a GraphML <edge>. Edges are treated as undirected.
type Edge struct {
	Source string
	Target string

	g       *Graph
	attrs   []xml.Attr
	data    []dataField
	raw     []byte
	gap     []byte
	dirty   bool
	removed bool
}

type element interface {
	render(indent string) []byte
	leading() []byte
	isRemoved() bool
}

// Graph is an in-memory GraphML document that writes untouched <node> and
// <edge> elements back byte-for-byte.
//
// # Description
//
// The file is split into a head (declaration, <key> elements and the
// <graph> start tag), the sequence of node and edge elements, and a tail.
// Only elements that were modified or added are re-serialized.
//
// # Thread Safety
//
// Not safe for concurrent mutation. The pipeline has a single writer.
type Graph struct {
	headPre  []byte // up to the <graph> start tag
	headPost []byte // <graph> start tag up to the first element
	tail     []byte

	keys      []keyDecl
	addedKeys []keyDecl
	elements  []element

	nodes map[string]*Node
	adj   map[string][]*Edge
}

type xmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

type xmlNode struct {
	ID    string     `xml:"id,attr"`
	Attrs []xml.Attr `xml:",any,attr"`
	Data  []xmlData  `xml:"data"`
}

type xmlEdge struct {
	Source string     `xml:"source,attr"`
	Target string     `xml:"target,attr"`
	Attrs  []xml.Attr `xml:",any,attr"`
	Data   []xmlData  `xml:"data"`
}

type xmlKey struct {
	ID       string `xml:"id,attr"`
	For      string `xml:"for,attr"`
	AttrName string `xml:"attr.name,attr"`
	AttrType string `xml:"attr.type,attr"`
}

// LoadGraph reads and parses a GraphML file.
//
// # Outputs
//
//   - *Graph: Parsed graph.
//   - error: ErrDataFileMissing or ErrDataFileCorrupt (wrapped).
func LoadGraph(path string) (*Graph, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	g, err := ParseGraph(data)
	if err != nil {
		return nil, corrupt(path, err)
	}
	return g, nil
}

// ParseGraph parses GraphML bytes.
func ParseGraph(src []byte) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]*Node),
		adj:   make(map[string][]*Edge),
	}

	dec := xml.NewDecoder(bytes.NewReader(src))
	depth := 0
	graphStart, graphOpenEnd := int64(-1), int64(-1)
	firstElem, lastElemEnd := int64(-1), int64(-1)
	prevEnd := int64(-1)

	for {
		off := dec.InputOffset()
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing graphml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch {
			case t.Name.Local == "key" && depth == 2:
				var k xmlKey
				if err := dec.DecodeElement(&k, &t); err != nil {
					return nil, fmt.Errorf("parsing key: %w", err)
				}
				depth--
				g.keys = append(g.keys, keyDecl(k))

			case t.Name.Local == "graph" && depth == 2:
				if graphStart >= 0 {
					return nil, errors.New("multiple <graph> elements are not supported")
				}
				graphStart = off
				graphOpenEnd = dec.InputOffset()

			case (t.Name.Local == "node" || t.Name.Local == "edge") && depth == 3 && graphStart >= 0:
				if firstElem < 0 {
					firstElem = off
					prevEnd = off
				}
				gap := src[prevEnd:off]
				var el element
				if t.Name.Local == "node" {
					var xn xmlNode
					if err := dec.DecodeElement(&xn, &t); err != nil {
						return nil, fmt.Errorf("parsing node: %w", err)
					}
					end := dec.InputOffset()
					n := &Node{ID: xn.ID, g: g, attrs: dropAttr(xn.Attrs, "id"), data: toFields(xn.Data), raw: src[off:end], gap: gap}
					if _, dup := g.nodes[n.ID]; dup {
						return nil, fmt.Errorf("duplicate node id %q", n.ID)
					}
					g.nodes[n.ID] = n
					el = n
					prevEnd, lastElemEnd = end, end
				} else {
					var xe xmlEdge
					if err := dec.DecodeElement(&xe, &t); err != nil {
						return nil, fmt.Errorf("parsing edge: %w", err)
					}
					end := dec.InputOffset()
					e := &Edge{Source: xe.Source, Target: xe.Target, g: g, attrs: dropAttr(xe.Attrs, "source", "target"), data: toFields(xe.Data), raw: src[off:end], gap: gap}
					g.link(e)
					el = e
					prevEnd, lastElemEnd = end, end
				}
				depth--
				g.elements = append(g.elements, el)
			}

		case xml.EndElement:
			depth--
		}
	}

	if graphStart < 0 {
		return nil, errors.New("no <graph> element")
	}
	if firstElem < 0 {
		firstElem, lastElemEnd = graphOpenEnd, graphOpenEnd
	}
	g.headPre = src[:graphStart]
	g.headPost = src[graphStart:firstElem]
	g.tail = src[lastElemEnd:]
	return g, nil
}

// NewEmptyLike returns an empty graph that shares g's header, key
// declarations and trailer. Used to build subgraph files.
func (g *Graph) NewEmptyLike() *Graph {
	return &Graph{
		headPre:   g.headPre,
		headPost:  trimTrailingSpace(g.headPost),
		tail:      g.tail,
		keys:      append([]keyDecl(nil), g.keys...),
		addedKeys: append([]keyDecl(nil), g.addedKeys...),
		nodes:     make(map[string]*Node),
		adj:       make(map[string][]*Edge),
	}
}

// Bytes renders the document.
func (g *Graph) Bytes() []byte {
	var buf bytes.Buffer
	buf.Write(g.headPre)
	if len(g.addedKeys) > 0 {
		indent := lineIndent(g.headPre)
		for _, k := range g.addedKeys {
			fmt.Fprintf(&buf, `<key id="%s" for="%s" attr.name="%s" attr.type="%s" />`,
				escapeAttr(k.ID), escapeAttr(k.For), escapeAttr(k.AttrName), escapeAttr(k.AttrType))
			buf.WriteString("\n" + indent)
		}
	}
	buf.Write(g.headPost)

	defaultGap := []byte("\n" + lineIndent(g.headPre) + "  ")
	for _, el := range g.elements {
		if el.isRemoved() {
			continue
		}
		gap := el.leading()
		if gap == nil {
			gap = defaultGap
		}
		buf.Write(gap)
		buf.Write(el.render(gapIndent(gap)))
	}
	buf.Write(g.tail)
	return buf.Bytes()
}

// Save writes the document atomically.
func (g *Graph) Save(path string) error {
	return WriteFileAtomic(path, g.Bytes(), 0644)
}

// ============================================================================
// Queries
// ============================================================================

// Nodes returns live nodes in document order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, el := range g.elements {
		if n, ok := el.(*Node); ok && !n.removed {
			out = append(out, n)
		}
	}
	return out
}

// Edges returns live edges in document order.
func (g *Graph) Edges() []*Edge {
	var out []*Edge
	for _, el := range g.elements {
		if e, ok := el.(*Edge); ok && !e.removed {
			out = append(out, e)
		}
	}
	return out
}

// NodeCount returns the number of live nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// Node returns the node with the exact raw id, or nil.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// HasNode reports whether a node with the exact raw id exists.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// FindNodes returns every node whose normalized id equals name's.
func (g *Graph) FindNodes(name string) []*Node {
	key := ident.Fold(name)
	var out []*Node
	for _, n := range g.Nodes() {
		if ident.Fold(n.ID) == key {
			out = append(out, n)
		}
	}
	return out
}

// EdgesOf returns live edges incident to the node with raw id.
func (g *Graph) EdgesOf(id string) []*Edge {
	var out []*Edge
	for _, e := range g.adj[id] {
		if !e.removed {
			out = append(out, e)
		}
	}
	return out
}

// Neighbors returns the raw ids adjacent to id, in edge order, without
// duplicates.
func (g *Graph) Neighbors(id string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range g.EdgesOf(id) {
		other := e.Other(id)
		if other == id {
			continue
		}
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		out = append(out, other)
	}
	return out
}

// ============================================================================
// Mutations
// ============================================================================

// RemoveNode removes n. Incident edges are not touched.
func (g *Graph) RemoveNode(n *Node) {
	if n == nil || n.removed {
		return
	}
	n.removed = true
	delete(g.nodes, n.ID)
}

// RemoveEdge removes e.
func (g *Graph) RemoveEdge(e *Edge) {
	if e == nil || e.removed {
		return
	}
	e.removed = true
}

// AddNodeCopy appends a copy of n (from any graph) and returns it. An
// existing node with the same id is returned unchanged.
func (g *Graph) AddNodeCopy(n *Node) *Node {
	if existing := g.nodes[n.ID]; existing != nil {
		return existing
	}
	c := &Node{
		ID:    n.ID,
		g:     g,
		attrs: append([]xml.Attr(nil), n.attrs...),
		data:  g.translateFields(n.g, domainNode, n.data),
		raw:   n.raw,
		dirty: n.dirty,
	}
	if n.g != g && !sameKeys(n.g, g) {
		c.dirty = true
	}
	g.nodes[c.ID] = c
	g.elements = append(g.elements, c)
	return c
}

// AddEdgeCopy appends a copy of e (from any graph) and returns it.
func (g *Graph) AddEdgeCopy(e *Edge) *Edge {
	c := &Edge{
		Source: e.Source,
		Target: e.Target,
		g:      g,
		attrs:  append([]xml.Attr(nil), e.attrs...),
		data:   g.translateFields(e.g, domainEdge, e.data),
		raw:    e.raw,
		dirty:  e.dirty,
	}
	if e.g != g && !sameKeys(e.g, g) {
		c.dirty = true
	}
	g.link(c)
	g.elements = append(g.elements, c)
	return c
}

func (g *Graph) link(e *Edge) {
	g.adj[e.Source] = append(g.adj[e.Source], e)
	if e.Target != e.Source {
		g.adj[e.Target] = append(g.adj[e.Target], e)
	}
}

// ============================================================================
// Attribute Access
// ============================================================================

// keyID resolves a logical attribute name to a key id for the domain.
func (g *Graph) keyID(domain, name string) (string, bool) {
	for _, list := range [][]keyDecl{g.keys, g.addedKeys} {
		for _, k := range list {
			if k.AttrName == name && (k.For == domain || k.For == "all") {
				return k.ID, true
			}
		}
	}
	if id, ok := defaultKeyIDs[domain][name]; ok {
		for _, list := range [][]keyDecl{g.keys, g.addedKeys} {
			for _, k := range list {
				if k.ID == id {
					// The default id is declared for a different attribute.
					return "", false
				}
			}
		}
		return id, len(g.keys) == 0
	}
	return "", false
}

// ensureKey returns the key id for name, declaring a new key if needed.
func (g *Graph) ensureKey(domain, name string) string {
	if id, ok := g.keyID(domain, name); ok {
		return id
	}
	used := make(map[string]struct{})
	for _, list := range [][]keyDecl{g.keys, g.addedKeys} {
		for _, k := range list {
			used[k.ID] = struct{}{}
		}
	}
	id := defaultKeyIDs[domain][name]
	if _, taken := used[id]; id == "" || taken {
		for i := 0; ; i++ {
			candidate := "d" + strconv.Itoa(i)
			if _, taken := used[candidate]; !taken {
				id = candidate
				break
			}
		}
	}
	g.addedKeys = append(g.addedKeys, keyDecl{ID: id, For: domain, AttrName: name, AttrType: "string"})
	return id
}

func getField(fields []dataField, key string) (string, bool) {
	for _, f := range fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

func setField(fields []dataField, key, value string) ([]dataField, bool) {
	for i, f := range fields {
		if f.Key == key {
			if f.Value == value {
				return fields, false
			}
			fields[i].Value = value
			return fields, true
		}
	}
	return append(fields, dataField{Key: key, Value: value}), true
}

// Attr returns a node attribute by logical name.
func (n *Node) Attr(name string) (string, bool) {
	id, ok := n.g.keyID(domainNode, name)
	if !ok {
		return "", false
	}
	return getField(n.data, id)
}

// SetAttr sets a node attribute by logical name.
func (n *Node) SetAttr(name, value string) {
	id := n.g.ensureKey(domainNode, name)
	var changed bool
	n.data, changed = setField(n.data, id, value)
	if changed {
		n.dirty = true
	}
}

// Description returns the description attribute.
func (n *Node) Description() string {
	v, _ := n.Attr(AttrDescription)
	return v
}

// EntityType returns the entity_type attribute.
func (n *Node) EntityType() string {
	v, _ := n.Attr(AttrEntityType)
	return v
}

// SourceIDs returns the provenance chunk ids.
func (n *Node) SourceIDs() []string {
	v, _ := n.Attr(AttrSourceID)
	return SplitSourceIDs(v)
}

// HasClusters reports whether the node carries a clusters attribute.
func (n *Node) HasClusters() bool {
	_, ok := n.Attr(AttrClusters)
	return ok
}

// Clusters parses the clusters attribute.
func (n *Node) Clusters() ([]Membership, error) {
	v, _ := n.Attr(AttrClusters)
	return ParseMemberships(v)
}

// SetClusters replaces the clusters attribute.
func (n *Node) SetClusters(ms []Membership) {
	n.SetAttr(AttrClusters, FormatMemberships(ms))
}

// Attr returns an edge attribute by logical name.
func (e *Edge) Attr(name string) (string, bool) {
	id, ok := e.g.keyID(domainEdge, name)
	if !ok {
		return "", false
	}
	return getField(e.data, id)
}

// SetAttr sets an edge attribute by logical name.
func (e *Edge) SetAttr(name, value string) {
	id := e.g.ensureKey(domainEdge, name)
	var changed bool
	e.data, changed = setField(e.data, id, value)
	if changed {
		e.dirty = true
	}
}

// Description returns the description attribute.
func (e *Edge) Description() string {
	v, _ := e.Attr(AttrDescription)
	return v
}

// Weight returns the weight attribute, defaulting to 1.
func (e *Edge) Weight() float64 {
	v, ok := e.Attr(AttrWeight)
	if !ok {
		return 1
	}
	w, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || w <= 0 {
		return 1
	}
	return w
}

// SourceIDs returns the provenance chunk ids.
func (e *Edge) SourceIDs() []string {
	v, _ := e.Attr(AttrSourceID)
	return SplitSourceIDs(v)
}

// Other returns the endpoint opposite id.
func (e *Edge) Other(id string) string {
	if e.Source == id {
		return e.Target
	}
	return e.Source
}

// Touches reports whether either endpoint normalizes to name.
func (e *Edge) Touches(name string) bool {
	return ident.Equal(e.Source, name) || ident.Equal(e.Target, name)
}

// SplitSourceIDs splits a `<SEP>` separated provenance list.
func SplitSourceIDs(v string) []string {
	var out []string
	for _, part := range strings.Split(v, GraphFieldSep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ============================================================================
// Rendering
// ============================================================================

func (n *Node) leading() []byte { return n.gap }
func (n *Node) isRemoved() bool { return n.removed }

func (n *Node) render(indent string) []byte {
	if !n.dirty && n.raw != nil {
		return n.raw
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<node id="%s"`, escapeAttr(n.ID))
	writeAttrs(&buf, n.attrs)
	writeData(&buf, "node", n.data, indent)
	return buf.Bytes()
}

func (e *Edge) leading() []byte { return e.gap }
func (e *Edge) isRemoved() bool { return e.removed }

func (e *Edge) render(indent string) []byte {
	if !e.dirty && e.raw != nil {
		return e.raw
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<edge source="%s" target="%s"`, escapeAttr(e.Source), escapeAttr(e.Target))
	writeAttrs(&buf, e.attrs)
	writeData(&buf, "edge", e.data, indent)
	return buf.Bytes()
}

func writeAttrs(buf *bytes.Buffer, attrs []xml.Attr) {
	for _, a := range attrs {
		name := a.Name.Local
		if a.Name.Space != "" {
			name = a.Name.Space + ":" + name
		}
		fmt.Fprintf(buf, ` %s="%s"`, name, escapeAttr(a.Value))
	}
}

func writeData(buf *bytes.Buffer, tag string, data []dataField, indent string) {
	if len(data) == 0 {
		buf.WriteString(" />")
		return
	}
	buf.WriteString(">")
	for _, f := range data {
		fmt.Fprintf(buf, "\n%s  <data key=\"%s\">%s</data>", indent, escapeAttr(f.Key), escapeText(f.Value))
	}
	fmt.Fprintf(buf, "\n%s</%s>", indent, tag)
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "\n", "&#10;")
)

func escapeText(s string) string { return textEscaper.Replace(s) }
func escapeAttr(s string) string { return attrEscaper.Replace(s) }

// ============================================================================
// Helpers
// ============================================================================

func toFields(data []xmlData) []dataField {
	out := make([]dataField, len(data))
	for i, d := range data {
		out[i] = dataField{Key: d.Key, Value: d.Value}
	}
	return out
}

func dropAttr(attrs []xml.Attr, names ...string) []xml.Attr {
	var out []xml.Attr
outer:
	for _, a := range attrs {
		if a.Name.Space == "" {
			for _, n := range names {
				if a.Name.Local == n {
					continue outer
				}
			}
		}
		out = append(out, a)
	}
	return out
}

// translateFields maps data keys from src's key ids to g's key ids.
func (g *Graph) translateFields(src *Graph, domain string, fields []dataField) []dataField {
	out := make([]dataField, 0, len(fields))
	for _, f := range fields {
		key := f.Key
		if src != nil && src != g {
			if name := src.attrName(domain, f.Key); name != "" {
				key = g.ensureKey(domain, name)
			}
		}
		out = append(out, dataField{Key: key, Value: f.Value})
	}
	return out
}

func (g *Graph) attrName(domain, keyID string) string {
	for _, list := range [][]keyDecl{g.keys, g.addedKeys} {
		for _, k := range list {
			if k.ID == keyID && (k.For == domain || k.For == "all") {
				return k.AttrName
			}
		}
	}
	if len(g.keys) == 0 {
		for name, id := range defaultKeyIDs[domain] {
			if id == keyID {
				return name
			}
		}
	}
	return ""
}

func sameKeys(a, b *Graph) bool {
	if a == nil || b == nil {
		return false
	}
	if len(a.keys) != len(b.keys) || len(a.addedKeys) != len(b.addedKeys) {
		return false
	}
	for i := range a.keys {
		if a.keys[i] != b.keys[i] {
			return false
		}
	}
	for i := range a.addedKeys {
		if a.addedKeys[i] != b.addedKeys[i] {
			return false
		}
	}
	return true
}

// lineIndent returns the whitespace following the last newline of b.
func lineIndent(b []byte) string {
	i := bytes.LastIndexByte(b, '\n')
	if i < 0 {
		return ""
	}
	rest := b[i+1:]
	j := 0
	for j < len(rest) && (rest[j] == ' ' || rest[j] == '\t') {
		j++
	}
	return string(rest[:j])
}

func gapIndent(gap []byte) string {
	return lineIndent(gap)
}

func trimTrailingSpace(b []byte) []byte {
	return bytes.TrimRight(b, " \t\r\n")
}

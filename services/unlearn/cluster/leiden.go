// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cluster

import (
	"context"
	"math/rand/v2"
	"sort"
)

// =============================================================================
// Leiden Community Detection
// =============================================================================

// Leiden configuration constants.
const (
	// DefaultMaxIterations is the maximum outer loop iterations.
	DefaultMaxIterations = 100

	// DefaultConvergenceThreshold stops early if modularity gain < this.
	DefaultConvergenceThreshold = 1e-6

	// DefaultResolution affects community granularity.
	// Higher values = smaller communities, lower = larger communities.
	DefaultResolution = 1.0

	// DefaultMaxClusterSize is the size above which a community is split
	// again at the next level.
	DefaultMaxClusterSize = 10

	// DefaultMaxLevels bounds the depth of the hierarchy.
	DefaultMaxLevels = 4

	// DefaultSeed seeds the node visiting order.
	DefaultSeed = 0xDEADBEEF
)

// Options configures hierarchical Leiden.
type Options struct {
	// MaxIterations limits outer loop passes per Leiden run. Default: 100
	MaxIterations int

	// ConvergenceThreshold stops early if modularity gain < this. Default: 1e-6
	ConvergenceThreshold float64

	// Resolution affects community granularity. Default: 1.0
	Resolution float64

	// MaxClusterSize triggers a nested run for larger communities. Default: 10
	MaxClusterSize int

	// MaxLevels bounds the hierarchy depth, level 0 included. Default: 4
	MaxLevels int

	// Seed controls the node visiting order. Zero visits nodes in id order.
	Seed uint64

	// AllComponents clusters every connected component. By default only the
	// largest connected component is clustered and the remaining nodes get
	// no membership.
	AllComponents bool
}

// Validate applies defaults for invalid values.
func (o *Options) Validate() {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.ConvergenceThreshold <= 0 {
		o.ConvergenceThreshold = DefaultConvergenceThreshold
	}
	if o.Resolution <= 0 {
		o.Resolution = DefaultResolution
	}
	if o.MaxClusterSize <= 0 {
		o.MaxClusterSize = DefaultMaxClusterSize
	}
	if o.MaxLevels <= 0 {
		o.MaxLevels = DefaultMaxLevels
	}
}

// DefaultOptions returns the defaults used by graph builders.
func DefaultOptions() Options {
	return Options{
		MaxIterations:        DefaultMaxIterations,
		ConvergenceThreshold: DefaultConvergenceThreshold,
		Resolution:           DefaultResolution,
		MaxClusterSize:       DefaultMaxClusterSize,
		MaxLevels:            DefaultMaxLevels,
		Seed:                 DefaultSeed,
	}
}

// neighbor is one weighted adjacency entry.
type neighbor struct {
	to     int
	weight float64
}

// network is a weighted undirected graph over dense indices. ids is sorted
// so that every run over the same node set is deterministic. Aggregated
// networks carry the internal weight of each super node in self.
type network struct {
	ids    []string
	adj    [][]neighbor
	degree []float64
	self   []float64

	// total is the sum of edge weights (m), internal weight included.
	total float64
}

func (nw *network) size() int { return len(nw.adj) }

// subnetwork returns the network induced by members, which must be sorted.
func (nw *network) subnetwork(members []int) *network {
	local := make(map[int]int, len(members))
	sub := &network{
		ids:    make([]string, len(members)),
		adj:    make([][]neighbor, len(members)),
		degree: make([]float64, len(members)),
		self:   make([]float64, len(members)),
	}
	for i, m := range members {
		local[m] = i
		sub.ids[i] = nw.ids[m]
	}
	for i, m := range members {
		for _, nb := range nw.adj[m] {
			j, ok := local[nb.to]
			if !ok {
				continue
			}
			sub.adj[i] = append(sub.adj[i], neighbor{to: j, weight: nb.weight})
			sub.degree[i] += nb.weight
			if i < j {
				sub.total += nb.weight
			}
		}
	}
	return sub
}

// aggregate collapses every community into one super node.
func (nw *network) aggregate(labels []int, count int) *network {
	agg := &network{
		adj:    make([][]neighbor, count),
		degree: make([]float64, count),
		self:   make([]float64, count),
		total:  nw.total,
	}
	type pair struct{ a, b int }
	weights := make(map[pair]float64)
	var pairs []pair
	for i, nbs := range nw.adj {
		a := labels[i]
		agg.degree[a] += nw.degree[i]
		agg.self[a] += nw.self[i]
		for _, nb := range nbs {
			b := labels[nb.to]
			if a == b {
				if i < nb.to {
					agg.self[a] += nb.weight
				}
				continue
			}
			p := pair{a, b}
			if _, ok := weights[p]; !ok {
				pairs = append(pairs, p)
			}
			weights[p] += nb.weight
		}
	}
	for _, p := range pairs {
		agg.adj[p.a] = append(agg.adj[p.a], neighbor{to: p.b, weight: weights[p]})
	}
	return agg
}

// components returns connected components, each sorted, ordered by their
// smallest index.
func (nw *network) components() [][]int {
	visited := make([]bool, nw.size())
	var out [][]int
	for start := range nw.adj {
		if visited[start] {
			continue
		}
		component := []int{start}
		visited[start] = true
		for q := 0; q < len(component); q++ {
			for _, nb := range nw.adj[component[q]] {
				if !visited[nb.to] {
					visited[nb.to] = true
					component = append(component, nb.to)
				}
			}
		}
		sort.Ints(component)
		out = append(out, component)
	}
	return out
}

// leidenResult is the outcome of one flat Leiden run.
type leidenResult struct {
	// membership maps node index to a community label in [0, count).
	membership []int
	count      int
	iterations int
	converged  bool
}

// leiden runs flat Leiden on nw.
//
// # Description
//
// Each round performs local moves (each node joins the neighbouring
// community with the best positive modularity gain, repeated until no node
// moves), then refinement, which splits every community into its connected
// components so that no community is internally disconnected. The refined
// communities are collapsed into super nodes and the next round runs on the
// aggregated network. The run stops when a round merges nothing.
//
// # Inputs
//
//   - ctx: Checked at every local-move pass.
//   - nw: Network to partition.
//   - opts: Validated options.
//
// # Outputs
//
//   - leidenResult: Labels are renumbered densely in order of first node.
//   - error: ctx.Err() on cancellation.
func leiden(ctx context.Context, nw *network, opts Options) (leidenResult, error) {
	membership := make([]int, nw.size())
	for i := range membership {
		membership[i] = i
	}
	if nw.total == 0 {
		return leidenResult{membership: membership, count: len(membership), converged: true}, nil
	}

	var rng *rand.Rand
	if opts.Seed != 0 {
		rng = rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9E3779B97F4A7C15))
	}

	current := nw
	iterations := 0
	converged := false
	for iterations < opts.MaxIterations {
		comm, passes, err := localMoves(ctx, current, opts, rng, opts.MaxIterations-iterations)
		if err != nil {
			return leidenResult{}, err
		}
		iterations += passes

		labels, count := renumber(refine(current, comm))
		if count == current.size() {
			converged = true
			break
		}
		for i, c := range membership {
			membership[i] = labels[c]
		}
		current = current.aggregate(labels, count)
	}

	labels, count := renumber(membership)
	return leidenResult{
		membership: labels,
		count:      count,
		iterations: iterations,
		converged:  converged,
	}, nil
}

// localMoves greedily moves nodes between communities until no move
// improves modularity by more than the convergence threshold.
func localMoves(ctx context.Context, nw *network, opts Options, rng *rand.Rand, maxPasses int) ([]int, int, error) {
	n := nw.size()
	comm := make([]int, n)
	commDegreeSum := make([]float64, n)
	order := make([]int, n)
	for i := range comm {
		comm[i] = i
		commDegreeSum[i] = nw.degree[i]
		order[i] = i
	}
	if rng != nil {
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	m := nw.total
	weightTo := make([]float64, n)
	var touched []int
	previousQ := 0.0
	passes := 0

	for passes < maxPasses {
		if err := ctx.Err(); err != nil {
			return nil, passes, err
		}
		passes++
		moved := false

		for _, i := range order {
			current := comm[i]
			ki := nw.degree[i]

			touched = touched[:0]
			for _, nb := range nw.adj[i] {
				c := comm[nb.to]
				if weightTo[c] == 0 {
					touched = append(touched, c)
				}
				weightTo[c] += nb.weight
			}

			best := current
			bestDeltaQ := 0.0
			toCurrent := weightTo[current]
			sumCurrent := commDegreeSum[current] - ki
			for _, c := range touched {
				if c == current {
					continue
				}
				deltaQ := (weightTo[c] - toCurrent) / m
				deltaQ -= opts.Resolution * ki * (commDegreeSum[c] - sumCurrent) / (2 * m * m)
				if deltaQ > bestDeltaQ {
					bestDeltaQ = deltaQ
					best = c
				}
			}
			for _, c := range touched {
				weightTo[c] = 0
			}

			if best != current {
				commDegreeSum[current] -= ki
				commDegreeSum[best] += ki
				comm[i] = best
				moved = true
			}
		}

		if !moved {
			break
		}
		q := modularity(nw, comm, commDegreeSum, opts.Resolution)
		if passes > 1 && q-previousQ < opts.ConvergenceThreshold {
			break
		}
		previousQ = q
	}
	return comm, passes, nil
}

// refine splits each community into its connected components.
func refine(nw *network, comm []int) []int {
	n := nw.size()
	refined := make([]int, n)
	for i := range refined {
		refined[i] = -1
	}
	next := 0
	for start := 0; start < n; start++ {
		if refined[start] >= 0 {
			continue
		}
		refined[start] = next
		queue := []int{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, nb := range nw.adj[cur] {
				if refined[nb.to] >= 0 || comm[nb.to] != comm[start] {
					continue
				}
				refined[nb.to] = next
				queue = append(queue, nb.to)
			}
		}
		next++
	}
	return refined
}

// modularity computes Q = Σ_c [L_c/m - γ(d_c/2m)²].
func modularity(nw *network, comm []int, commDegreeSum []float64, resolution float64) float64 {
	m := nw.total
	if m == 0 {
		return 0
	}
	internal := 0.0
	for i, nbs := range nw.adj {
		internal += 2 * nw.self[i]
		for _, nb := range nbs {
			if comm[nb.to] == comm[i] {
				internal += nb.weight
			}
		}
	}
	// Each internal edge was seen from both ends.
	q := internal / (2 * m)
	for _, d := range commDegreeSum {
		if d > 0 {
			x := d / (2 * m)
			q -= resolution * x * x
		}
	}
	return q
}

// renumber maps labels to [0, count) in order of first occurrence.
func renumber(comm []int) ([]int, int) {
	seen := make(map[int]int)
	out := make([]int, len(comm))
	for i, c := range comm {
		id, ok := seen[c]
		if !ok {
			id = len(seen)
			seen[c] = id
		}
		out[i] = id
	}
	return out, len(seen)
}

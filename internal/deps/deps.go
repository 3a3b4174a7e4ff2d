/* Copyright (c) 2026 M. Shams
 * SPDX-License-Identifier: BSD-3-Clause */

// Package deps extracts issue dependencies from description text and builds
// the dependency graph with cycle detection and critical-path depths.
package deps

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/mshams/portfolio-pulse/internal/domain"
)

// Patterns are tried in order; they reference project-local iids.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)blocked by #(\d+)`),
	regexp.MustCompile(`(?i)depends on #(\d+)`),
	regexp.MustCompile(`(?i)requires #(\d+)`),
	regexp.MustCompile(`(?i)waiting for #(\d+)`),
}

// ExtractDependencies returns the deduplicated iids an issue's description
// declares as prerequisites, in first-mention order.
func ExtractDependencies(description string) []int64 {
	seen := map[int64]bool{}
	var out []int64
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(description, -1) {
			n, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil || seen[n] { continue }
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// Edge points from a dependency to the issue depending on it.
type Edge struct {
	From int64 `json:"from"` // blocking issue iid
	To   int64 `json:"to"`   // blocked issue iid
}

// Graph is the dependency DAG (possibly with cycles) over issue iids.
type Graph struct {
	Edges    []Edge            `json:"edges"`
	Outgoing map[int64][]int64 `json:"-"` // dependency -> dependents
}

// BuildGraph scans every issue's description and links each referenced
// dependency to its dependent.
func BuildGraph(issues []domain.Issue) *Graph {
	g := &Graph{Outgoing: map[int64][]int64{}}
	for i := range issues {
		is := &issues[i]
		for _, dep := range ExtractDependencies(is.Description) {
			g.Edges = append(g.Edges, Edge{From: dep, To: is.IID})
			g.Outgoing[dep] = append(g.Outgoing[dep], is.IID)
		}
	}
	return g
}

// FindCircularDependencies reports every edge that closes a cycle, found by
// DFS with a recursion stack.
func (g *Graph) FindCircularDependencies() []Edge {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[int64]int{}
	var cycles []Edge

	nodes := make([]int64, 0, len(g.Outgoing))
	for n := range g.Outgoing { nodes = append(nodes, n) }
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	var visit func(n int64)
	visit = func(n int64) {
		color[n] = gray
		for _, next := range g.Outgoing[n] {
			switch color[next] {
			case gray:
				cycles = append(cycles, Edge{From: n, To: next})
			case white:
				visit(next)
			}
		}
		color[n] = black
	}
	for _, n := range nodes {
		if color[n] == white { visit(n) }
	}
	return cycles
}

// CriticalPathDepths returns, per node, the longest chain of dependencies
// feeding into it. Nodes on a cycle get depth 0 so the walk terminates.
func (g *Graph) CriticalPathDepths() map[int64]int {
	incoming := map[int64][]int64{} // dependent -> dependencies
	nodes := map[int64]bool{}
	for _, e := range g.Edges {
		incoming[e.To] = append(incoming[e.To], e.From)
		nodes[e.From] = true
		nodes[e.To] = true
	}
	onCycle := map[int64]bool{}
	for _, e := range g.FindCircularDependencies() {
		onCycle[e.From] = true
		onCycle[e.To] = true
	}

	depth := map[int64]int{}
	visiting := map[int64]bool{}
	var calc func(n int64) int
	calc = func(n int64) int {
		if onCycle[n] || visiting[n] { return 0 }
		if d, ok := depth[n]; ok { return d }
		visiting[n] = true
		best := 0
		for _, dep := range incoming[n] {
			if d := calc(dep) + 1; d > best { best = d }
		}
		delete(visiting, n)
		depth[n] = best
		return best
	}
	for n := range nodes { calc(n) }
	return depth
}

// BlockedIssues returns open issues that declare at least one still-open
// dependency.
func BlockedIssues(issues []domain.Issue) []domain.Issue {
	openByIID := map[int64]bool{}
	for i := range issues {
		if !issues[i].Closed() { openByIID[issues[i].IID] = true }
	}
	var out []domain.Issue
	for i := range issues {
		is := &issues[i]
		if is.Closed() { continue }
		for _, dep := range ExtractDependencies(is.Description) {
			if openByIID[dep] {
				out = append(out, *is)
				break
			}
		}
	}
	return out
}

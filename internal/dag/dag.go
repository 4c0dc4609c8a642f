// SPDX-License-Identifier: MPL-2.0

// Package dag provides topological ordering and cycle extraction over module
// requirement graphs. The resolver uses it to report the strongly connected
// groups that keep pending entries from ever resolving.
package dag

import (
	"fmt"
	"slices"
	"strings"
)

type (
	// CycleError indicates that the graph contains at least one cycle.
	CycleError struct {
		// Cycles lists every strongly connected group that forms a cycle,
		// each in insertion order.
		Cycles [][]string
	}

	// Graph is a directed graph over string-keyed nodes. An edge from A to B
	// means A must be resolved before B (B requires A).
	Graph struct {
		// adjacency maps each node to its outgoing neighbors (its dependents).
		adjacency map[string][]string
		// nodes tracks all nodes in insertion order for deterministic output.
		nodes []string
		// index provides O(1) lookup of a node's insertion position.
		index map[string]int
	}
)

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Cycles))
	for _, c := range e.Cycles {
		parts = append(parts, strings.Join(append(slices.Clone(c), c[0]), " -> "))
	}
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(parts, "; "))
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		adjacency: make(map[string][]string),
		index:     make(map[string]int),
	}
}

// AddNode adds a node to the graph. If the node already exists, this is a no-op.
func (g *Graph) AddNode(name string) {
	if _, ok := g.index[name]; ok {
		return
	}
	g.index[name] = len(g.nodes)
	g.nodes = append(g.nodes, name)
}

// AddEdge adds a directed edge from -> to, meaning "from" comes before "to".
// Both nodes are implicitly added if they don't exist. Duplicate edges are
// ignored.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	if slices.Contains(g.adjacency[from], to) {
		return
	}
	g.adjacency[from] = append(g.adjacency[from], to)
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// TopologicalSort returns a valid order using Kahn's algorithm, or a
// *CycleError naming every cycle when none exists. Nodes at the same level
// appear in insertion order.
func (g *Graph) TopologicalSort() ([]string, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(g.nodes))
	for _, neighbors := range g.adjacency {
		for _, neighbor := range neighbors {
			inDegree[neighbor]++
		}
	}

	queue := make([]string, 0)
	for _, node := range g.nodes {
		if inDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, neighbor := range g.adjacency[node] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
			}
		}
	}

	if len(result) != len(g.nodes) {
		// Leftover nodes include dependents of a cycle; only the strongly
		// connected groups are cycles.
		return nil, &CycleError{Cycles: g.Cycles()}
	}
	return result, nil
}

// Cycles returns every strongly connected group of more than one node, plus
// single nodes with a self edge. Groups and their members follow insertion
// order.
func (g *Graph) Cycles() [][]string {
	var (
		counter int
		stack   []string
		onStack = make(map[string]bool)
		low     = make(map[string]int)
		order   = make(map[string]int)
		cycles  [][]string
	)

	// Tarjan's algorithm.
	var visit func(v string)
	visit = func(v string) {
		counter++
		order[v], low[v] = counter, counter
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.adjacency[v] {
			if _, seen := order[w]; !seen {
				visit(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], order[w])
			}
		}

		if low[v] != order[v] {
			return
		}
		var group []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			group = append(group, w)
			if w == v {
				break
			}
		}
		if len(group) > 1 || slices.Contains(g.adjacency[v], v) {
			slices.SortFunc(group, func(a, b string) int { return g.index[a] - g.index[b] })
			cycles = append(cycles, group)
		}
	}

	for _, node := range g.nodes {
		if _, seen := order[node]; !seen {
			visit(node)
		}
	}

	slices.SortFunc(cycles, func(a, b []string) int { return g.index[a[0]] - g.index[b[0]] })
	return cycles
}

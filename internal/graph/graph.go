// Package graph tracks the proposal DAG: which action proposals point at
// which child actions, by action hash. The evaluator consults it before
// finalizing any composite action so a proposal can never smuggle in a
// reference cycle.
package graph

// #region imports
import (
	"sort"
	"sync"
)

// #endregion imports

// #region dag

// DAG is a concurrency-safe directed graph over action hashes.
type DAG struct {
	mu    sync.RWMutex
	edges map[string][]string
}

// NewDAG returns an empty proposal graph.
func NewDAG() *DAG {
	return &DAG{edges: make(map[string][]string)}
}

// AddNode registers a hash with no outgoing edges. Adding an existing
// node is a no-op.
func (d *DAG) AddNode(hash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.edges[hash]; !ok {
		d.edges[hash] = nil
	}
}

// AddEdge records that parent references child. Duplicate edges collapse.
func (d *DAG) AddEdge(parent, child string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.edges[parent] {
		if c == child {
			return
		}
	}
	d.edges[parent] = append(d.edges[parent], child)
	if _, ok := d.edges[child]; !ok {
		d.edges[child] = nil
	}
}

// Children returns a copy of parent's outgoing edges.
func (d *DAG) Children(parent string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.edges[parent]))
	copy(out, d.edges[parent])
	return out
}

// Len reports the number of known nodes.
func (d *DAG) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.edges)
}

// #endregion dag

// #region cycle-check

// HasCycle reports whether any directed cycle is reachable in the graph.
// DFS with a recursion stack: a grey-node hit is a back edge.
func (d *DAG) HasCycle() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(d.edges))

	roots := make([]string, 0, len(d.edges))
	for n := range d.edges {
		roots = append(roots, n)
	}
	sort.Strings(roots)

	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = grey
		for _, c := range d.edges[n] {
			switch color[c] {
			case grey:
				return true
			case white:
				if visit(c) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}

	for _, n := range roots {
		if color[n] == white && visit(n) {
			return true
		}
	}
	return false
}

// WouldCycle reports whether adding parent->child would close a cycle,
// without mutating the graph. True when child can already reach parent.
func (d *DAG) WouldCycle(parent, child string) bool {
	if parent == child {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := map[string]bool{}
	var reach func(n string) bool
	reach = func(n string) bool {
		if n == parent {
			return true
		}
		if seen[n] {
			return false
		}
		seen[n] = true
		for _, c := range d.edges[n] {
			if reach(c) {
				return true
			}
		}
		return false
	}
	return reach(child)
}

// #endregion cycle-check

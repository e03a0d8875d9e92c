// Package graph defines the typed command DAG and the builder that infers
// it from ranked candidates. Given the same candidates the builder emits
// bit-identical graphs; every ordering decision below is deterministic.
package graph

import (
	"errors"
	"fmt"
	"sort"
)

// EdgeKind distinguishes dataflow edges from pure ordering edges.
type EdgeKind string

const (
	// EdgePipe streams the producer's stdout into the consumer's stdin.
	EdgePipe EdgeKind = "pipe"
	// EdgeSequence imposes happens-before only; producer output is
	// discarded.
	EdgeSequence EdgeKind = "sequence"
)

// ErrDanglingEdge is returned by Validate when an edge references a node
// id that does not exist.
var ErrDanglingEdge = errors.New("edge references unknown node")

// Node is one DAG vertex. Inputs lists the node ids whose stdout feeds
// this node's stdin, in order; after building it holds at most one entry.
type Node struct {
	ID       string
	Command  string
	Args     []string
	Inputs   []string
	Metadata map[string]string
}

// Argv returns the full command line for the node.
func (n Node) Argv() []string {
	return append([]string{n.Command}, n.Args...)
}

// Edge is a dependency from producer to consumer.
type Edge struct {
	From      string
	To        string
	Kind      EdgeKind
	Rationale string
}

// Graph is the executable DAG. Diagnostics records builder interventions
// such as cycle breaks.
type Graph struct {
	Nodes       []Node
	Edges       []Edge
	Diagnostics []string
}

// NodeByID returns the node with the given id.
func (g *Graph) NodeByID(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Validate checks that every edge endpoint exists and that the graph is
// acyclic.
func (g *Graph) Validate() error {
	ids := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if ids[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		ids[n.ID] = true
	}
	for _, e := range g.Edges {
		if !ids[e.From] {
			return fmt.Errorf("%w: %q -> %q (from)", ErrDanglingEdge, e.From, e.To)
		}
		if !ids[e.To] {
			return fmt.Errorf("%w: %q -> %q (to)", ErrDanglingEdge, e.From, e.To)
		}
	}
	if cycle := findCycle(nodeIDs(g.Nodes), g.Edges); len(cycle) > 0 {
		return fmt.Errorf("graph contains a cycle through %v", cycle)
	}
	return nil
}

// TopoOrder returns node ids in topological order, ties broken by id. The
// graph must be acyclic.
func (g *Graph) TopoOrder() []string {
	indeg := make(map[string]int, len(g.Nodes))
	succ := make(map[string][]string)
	for _, n := range g.Nodes {
		indeg[n.ID] = 0
	}
	for _, e := range g.Edges {
		indeg[e.To]++
		succ[e.From] = append(succ[e.From], e.To)
	}

	var ready []string
	for id, d := range indeg {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.Nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		changed := false
		for _, next := range succ[id] {
			indeg[next]--
			if indeg[next] == 0 {
				ready = append(ready, next)
				changed = true
			}
		}
		if changed {
			sort.Strings(ready)
		}
	}
	return order
}

func nodeIDs(nodes []Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

// findCycle returns the node ids left over after repeatedly removing
// zero-indegree nodes, sorted. Empty means acyclic.
func findCycle(ids []string, edges []Edge) []string {
	indeg := make(map[string]int, len(ids))
	succ := make(map[string][]string)
	for _, id := range ids {
		indeg[id] = 0
	}
	for _, e := range edges {
		indeg[e.To]++
		succ[e.From] = append(succ[e.From], e.To)
	}

	var queue []string
	for id, d := range indeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	removed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		removed++
		for _, next := range succ[id] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if removed == len(ids) {
		return nil
	}
	var cyclic []string
	for id, d := range indeg {
		if d > 0 {
			cyclic = append(cyclic, id)
		}
	}
	sort.Strings(cyclic)
	return cyclic
}

// Copyright 2019, Square, Inc.

// Package graph provides the dataflow graph model: PEs, their ports, and the
// directed edges between ports. A graph is built once per run and is not
// modified after it is handed to the partitioner or assigner.
package graph

import (
	"fmt"
	"io"
	"sort"

	"github.com/square/peflow/errors"
	"github.com/square/peflow/proto"
)

// Edge connects an output port of one PE to an input port of another.
type Edge struct {
	From     string // source PE id
	FromPort string
	To       string // destination PE id
	ToPort   string
	Grouping proto.Grouping
}

func (e Edge) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s (%s)", e.From, e.FromPort, e.To, e.ToPort, e.Grouping)
}

// Graph is a set of PEs and the edges between them. PEs are kept in the order
// they were added, which makes every traversal deterministic.
type Graph struct {
	Name string

	// Partitions optionally lists PE ids that must run together when the
	// graph is partitioned. PEs not listed end up in one extra partition.
	Partitions [][]string

	pes   []PE
	index map[string]PE
	edges []Edge
}

// New returns an empty graph.
func New(name string) *Graph {
	return &Graph{
		Name:  name,
		index: map[string]PE{},
	}
}

// Add adds pe to the graph. Adding the same PE twice is a no-op.
func (g *Graph) Add(pe PE) {
	if _, ok := g.index[pe.ID()]; ok {
		return
	}
	g.pes = append(g.pes, pe)
	g.index[pe.ID()] = pe
}

// Connect adds both PEs (if needed) and an edge from.fromPort -> to.toPort.
// The grouping is the one declared by the destination input port, if any,
// else shuffle.
func (g *Graph) Connect(from PE, fromPort string, to PE, toPort string) {
	grouping := proto.Grouping{Type: proto.GROUPING_SHUFFLE}
	if ig, ok := to.(InputGrouper); ok {
		if declared, ok := ig.InputGrouping(toPort); ok {
			grouping = declared
		}
	}
	g.ConnectGrouping(from, fromPort, to, toPort, grouping)
}

// ConnectGrouping is like Connect but uses the given grouping.
func (g *Graph) ConnectGrouping(from PE, fromPort string, to PE, toPort string, grouping proto.Grouping) {
	g.Add(from)
	g.Add(to)
	if grouping.Type == "" {
		grouping.Type = proto.GROUPING_SHUFFLE
	}
	g.edges = append(g.edges, Edge{
		From:     from.ID(),
		FromPort: fromPort,
		To:       to.ID(),
		ToPort:   toPort,
		Grouping: grouping,
	})
}

// Nodes returns all PEs in the order they were added.
func (g *Graph) Nodes() []PE {
	return g.pes
}

// Edges returns all edges in the order they were added.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// Get returns the PE with the given id.
func (g *Graph) Get(id string) (PE, bool) {
	pe, ok := g.index[id]
	return pe, ok
}

// Len returns the number of PEs.
func (g *Graph) Len() int {
	return len(g.pes)
}

// Parallelism returns the sum of the parallelism requested by all PEs.
func (g *Graph) Parallelism() int {
	n := 0
	for _, pe := range g.pes {
		n += pe.Parallelism()
	}
	return n
}

// Validate checks that every edge references known PEs and declared ports,
// and that the graph has no cycles. The termination protocol needs a fixed,
// finite number of upstream sources per PE, which a cycle cannot provide.
func (g *Graph) Validate() error {
	for _, e := range g.edges {
		from, ok := g.index[e.From]
		if !ok {
			return errors.NewErrInvalidGraph("edge %s: unknown PE %s", e, e.From)
		}
		to, ok := g.index[e.To]
		if !ok {
			return errors.NewErrInvalidGraph("edge %s: unknown PE %s", e, e.To)
		}
		if !HasOutput(from, e.FromPort) {
			return errors.NewErrInvalidGraph("edge %s: %s has no output %s", e, e.From, e.FromPort)
		}
		if !HasInput(to, e.ToPort) {
			return errors.NewErrInvalidGraph("edge %s: %s has no input %s", e, e.To, e.ToPort)
		}
	}
	if g.HasCycles() {
		return errors.ErrCycle
	}
	return nil
}

// HasCycles returns true iff the graph has at least one cycle.
func (g *Graph) HasCycles() bool {
	_, err := g.TopoSort()
	return err != nil
}

// TopoSort returns the PEs in topological order. Among PEs that are ready at
// the same time, the one added first comes first. It returns errors.ErrCycle
// if the graph has a cycle.
func (g *Graph) TopoSort() ([]PE, error) {
	indegree := map[string]int{}
	for _, e := range g.edges {
		indegree[e.To]++
	}
	pos := g.positions()

	var ready []string
	for _, pe := range g.pes {
		if indegree[pe.ID()] == 0 {
			ready = append(ready, pe.ID())
		}
	}

	sorted := make([]PE, 0, len(g.pes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		sorted = append(sorted, g.index[id])
		for _, e := range g.edges {
			if e.From != id {
				continue
			}
			indegree[e.To]--
			if indegree[e.To] == 0 {
				ready = append(ready, e.To)
				sort.Slice(ready, func(i, j int) bool { return pos[ready[i]] < pos[ready[j]] })
			}
		}
	}
	if len(sorted) != len(g.pes) {
		return nil, errors.ErrCycle
	}
	return sorted, nil
}

// Components returns the weakly connected components of the graph as lists of
// PE ids. Components are ordered by their first PE, PEs within a component by
// the order they were added.
func (g *Graph) Components() [][]string {
	adj := map[string][]string{}
	for _, e := range g.edges {
		adj[e.From] = append(adj[e.From], e.To)
		adj[e.To] = append(adj[e.To], e.From)
	}
	pos := g.positions()

	seen := map[string]bool{}
	var comps [][]string
	for _, pe := range g.pes {
		if seen[pe.ID()] {
			continue
		}
		var comp []string
		stack := []string{pe.ID()}
		seen[pe.ID()] = true
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp = append(comp, id)
			for _, next := range adj[id] {
				if !seen[next] {
					seen[next] = true
					stack = append(stack, next)
				}
			}
		}
		sort.Slice(comp, func(i, j int) bool { return pos[comp[i]] < pos[comp[j]] })
		comps = append(comps, comp)
	}
	return comps
}

// PrintDot writes g in DOT graph format.
func (g *Graph) PrintDot(w io.Writer) {
	fmt.Fprintf(w, "digraph {\n")
	fmt.Fprintf(w, "\trankdir=UD;\n")
	fmt.Fprintf(w, "\tlabelloc=\"t\";\n")
	fmt.Fprintf(w, "\tlabel=\"%s\"\n", g.Name)
	for _, pe := range g.pes {
		fmt.Fprintf(w, "\tnode [style=filled,color=\"%s\",shape=box]\n", "#86cedf")
		fmt.Fprintf(w, "\t\"%s\" [label=\"%s\\n x%d\"]\n", pe.ID(), pe.ID(), pe.Parallelism())
	}
	for _, e := range g.edges {
		fmt.Fprintf(w, "\t\"%s\" -> \"%s\" [label=\"%s:%s %s\"];\n", e.From, e.To, e.FromPort, e.ToPort, e.Grouping)
	}
	fmt.Fprintln(w, "}")
}

// --------------------------------------------------------------------------

func (g *Graph) positions() map[string]int {
	pos := make(map[string]int, len(g.pes))
	for i, pe := range g.pes {
		pos[pe.ID()] = i
	}
	return pos
}

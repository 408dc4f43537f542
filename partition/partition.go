// Copyright 2019, Square, Inc.

// Package partition clusters the PEs of a graph so that it fits on fewer
// workers than it has PEs. Each cluster becomes one Composite PE, and the
// composites form a new graph that is assigned like any other.
package partition

import (
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/square/peflow/errors"
	"github.com/square/peflow/graph"
	"github.com/square/peflow/proto"
)

// Result is a partitioned graph.
type Result struct {
	Graph   *graph.Graph      // composites and the edges between them
	Owner   map[string]string // original PE id => composite id
	Members [][]string        // composite N => member ids in topological order
}

// Partition clusters g onto at most workers composites. If g declares
// explicit partitions, each is one cluster and every PE not listed goes into
// one extra cluster. Otherwise every PE starts as its own cluster and, while
// there are more clusters than workers, the edge between two clusters that
// makes the smallest merged cluster is contracted. Ties go to the clusters
// first in topological order. Only edges that do not create a cycle between
// clusters are contracted, so the partitioned graph is acyclic.
//
// The result is deterministic: the same graph and worker count always give the
// same clusters and composite ids partition0, partition1, ... in topological
// order. It returns an errors.PlanningError if g has more weakly connected
// components than workers, since clusters never span components.
func Partition(g *graph.Graph, workers int) (*Result, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if comps := g.Components(); len(comps) > workers {
		return nil, errors.PlanningError{
			Requested: len(comps),
			Workers:   workers,
			Reason:    "more connected components than workers",
		}
	}

	sorted, err := g.TopoSort()
	if err != nil {
		return nil, err
	}
	pos := make(map[string]int, len(sorted))
	for i, pe := range sorted {
		pos[pe.ID()] = i
	}

	var clusters [][]string
	if len(g.Partitions) > 0 {
		clusters, err = explicit(g, sorted, pos)
	} else {
		clusters, err = contract(g, sorted, pos, workers)
	}
	if err != nil {
		return nil, err
	}

	res := &Result{
		Graph:   graph.New(g.Name),
		Owner:   map[string]string{},
		Members: clusters,
	}
	composites := make(map[string]*Composite, len(clusters))
	for i, ids := range clusters {
		c := NewComposite(fmt.Sprintf("partition%d", i), g, ids)
		composites[c.ID()] = c
		res.Graph.Add(c)
		for _, id := range ids {
			res.Owner[id] = c.ID()
		}
		log.Infof("%s contains %v", c.ID(), ids)
	}
	for _, e := range g.Edges() {
		from, to := res.Owner[e.From], res.Owner[e.To]
		if from == to {
			continue
		}
		res.Graph.ConnectGrouping(
			composites[from], graph.Qualify(e.From, e.FromPort),
			composites[to], graph.Qualify(e.To, e.ToPort),
			e.Grouping,
		)
	}
	if res.Graph.HasCycles() {
		return nil, errors.NewErrInvalidGraph("partitions %v make a cycle", g.Partitions)
	}
	return res, nil
}

// MemberResults rekeys results written by the composites in r on the member
// PE and port that produced them. Other results are kept as they are.
func (r *Result) MemberResults(results proto.Results) proto.Results {
	rekeyed := proto.Results{}
	for key, values := range results {
		isMember := func(id string) bool { return r.Owner[id] == key.PE }
		if id, port, ok := graph.Unqualify(key.Port, isMember); ok {
			key = proto.ResultKey{PE: id, Port: port}
		}
		rekeyed[key] = append(rekeyed[key], values...)
	}
	return rekeyed
}

// --------------------------------------------------------------------------

func explicit(g *graph.Graph, sorted []graph.PE, pos map[string]int) ([][]string, error) {
	listed := map[string]bool{}
	var clusters [][]string
	for _, p := range g.Partitions {
		if len(p) == 0 {
			continue
		}
		ids := make([]string, 0, len(p))
		for _, id := range p {
			if _, ok := g.Get(id); !ok {
				return nil, errors.NewErrInvalidGraph("partition %v: unknown PE %s", p, id)
			}
			if listed[id] {
				return nil, errors.NewErrInvalidGraph("PE %s is in more than one partition", id)
			}
			listed[id] = true
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return pos[ids[i]] < pos[ids[j]] })
		clusters = append(clusters, ids)
	}
	var rest []string
	for _, pe := range sorted {
		if !listed[pe.ID()] {
			rest = append(rest, pe.ID())
		}
	}
	if len(rest) > 0 {
		clusters = append(clusters, rest)
	}
	sort.SliceStable(clusters, func(i, j int) bool { return pos[clusters[i][0]] < pos[clusters[j][0]] })
	return clusters, nil
}

// contract merges clusters until there are at most workers. Clusters are keyed
// on the topological position of their first member, which stays the key
// when two clusters merge.
func contract(g *graph.Graph, sorted []graph.PE, pos map[string]int, workers int) ([][]string, error) {
	owner := make(map[string]int, len(sorted))
	members := make(map[int][]string, len(sorted))
	for i, pe := range sorted {
		owner[pe.ID()] = i
		members[i] = []string{pe.ID()}
	}

	for len(members) > workers {
		a, b, ok := smallestSafeEdge(g, owner, members)
		if !ok {
			// Cannot happen while components <= workers: in each component
			// the edge from a cluster to its topologically first successor
			// is always safe.
			return nil, errors.PlanningError{Requested: len(members), Workers: workers, Reason: "no edge to contract"}
		}
		if b < a {
			a, b = b, a
		}
		for _, id := range members[b] {
			owner[id] = a
		}
		merged := append(members[a], members[b]...)
		sort.Slice(merged, func(i, j int) bool { return pos[merged[i]] < pos[merged[j]] })
		members[a] = merged
		delete(members, b)
	}

	keys := make([]int, 0, len(members))
	for k := range members {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	clusters := make([][]string, len(keys))
	for i, k := range keys {
		clusters[i] = members[k]
	}
	return clusters, nil
}

// smallestSafeEdge returns the clusters a -> b joined by an edge that makes
// the smallest merged cluster without a second, longer path from a to b.
func smallestSafeEdge(g *graph.Graph, owner map[string]int, members map[int][]string) (int, int, bool) {
	succ := map[int]map[int]bool{}
	for _, e := range g.Edges() {
		a, b := owner[e.From], owner[e.To]
		if a == b {
			continue
		}
		if succ[a] == nil {
			succ[a] = map[int]bool{}
		}
		succ[a][b] = true
	}

	best, bestA, bestB := 0, 0, 0
	found := false
	for _, a := range sortedKeys(succ) {
		for _, b := range sortedSet(succ[a]) {
			if !safe(succ, a, b) {
				continue
			}
			size := len(members[a]) + len(members[b])
			if !found || size < best {
				best, bestA, bestB, found = size, a, b, true
			}
		}
	}
	return bestA, bestB, found
}

// safe returns true if the only path from cluster a to cluster b is the direct
// edge. Contracting any other edge would put a cycle through the merged
// cluster.
func safe(succ map[int]map[int]bool, a, b int) bool {
	seen := map[int]bool{a: true}
	var stack []int
	for next := range succ[a] {
		if next != b {
			stack = append(stack, next)
			seen[next] = true
		}
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == b {
			return false
		}
		for next := range succ[n] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return true
}

func sortedKeys(m map[int]map[int]bool) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func sortedSet(m map[int]bool) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

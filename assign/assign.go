// Copyright 2019, Square, Inc.

// Package assign maps the PEs of a graph onto a fixed pool of workers and
// builds every worker's routing tables.
package assign

import (
	"fmt"
	"sort"

	"github.com/square/peflow/errors"
	"github.com/square/peflow/graph"
	"github.com/square/peflow/proto"
)

// Assign reserves a contiguous block of workers for each PE, sized to its
// parallelism, walking the PEs in topological order. Worker ids start at 0.
// Workers left over host nothing. It returns an errors.PlanningError and an
// empty plan if the graph requests more replicas than there are workers.
//
// For every edge, each worker hosting the source PE gets a route to all
// workers hosting the destination PE, and each destination worker counts every
// distinct upstream worker once. An upstream worker sends exactly one
// termination signal to every distinct worker it routes to, so the count is
// the number of termination signals the destination must see.
func Assign(g *graph.Graph, workers int) (proto.Plan, error) {
	if workers < 1 {
		return proto.Plan{}, errors.PlanningError{Requested: g.Parallelism(), Workers: workers, Reason: errors.ErrEmptyPool.Error()}
	}
	if err := g.Validate(); err != nil {
		return proto.Plan{}, err
	}
	requested := g.Parallelism()
	if requested > workers {
		return proto.Plan{}, errors.PlanningError{Requested: requested, Workers: workers}
	}
	return assign(g, workers, func(pe graph.PE) int { return pe.Parallelism() })
}

// Sequential assigns every PE to exactly one worker, ignoring parallelism.
// Worker N hosts the Nth PE in topological order, so running workers in
// order 0, 1, 2, ... runs every PE after all of its upstream PEs.
func Sequential(g *graph.Graph) (proto.Plan, error) {
	if err := g.Validate(); err != nil {
		return proto.Plan{}, err
	}
	return assign(g, g.Len(), func(graph.PE) int { return 1 })
}

func assign(g *graph.Graph, workers int, replicas func(graph.PE) int) (proto.Plan, error) {
	sorted, err := g.TopoSort()
	if err != nil {
		return proto.Plan{}, err
	}

	plan := proto.Plan{
		Success:    true,
		Assignment: map[string][]int{},
		Inputs:     make([]proto.InputMapping, workers),
		Outputs:    make([]proto.OutputMapping, workers),
	}
	next := 0
	for _, pe := range sorted {
		ranks := make([]int, replicas(pe))
		for i := range ranks {
			ranks[i] = next
			plan.Inputs[next].PE = pe.ID()
			next++
		}
		plan.Assignment[pe.ID()] = ranks
	}
	for w := range plan.Outputs {
		plan.Outputs[w] = proto.OutputMapping{}
	}

	sources := make([]map[int]bool, workers)
	for _, e := range g.Edges() {
		dest := plan.Assignment[e.To]
		for _, src := range plan.Assignment[e.From] {
			plan.Outputs[src][e.FromPort] = append(plan.Outputs[src][e.FromPort], proto.Route{
				DestPE:   e.To,
				DestPort: e.ToPort,
				Grouping: e.Grouping,
				Workers:  dest,
			})
			for _, d := range dest {
				if sources[d] == nil {
					sources[d] = map[int]bool{}
				}
				sources[d][src] = true
			}
		}
	}
	for w, set := range sources {
		if len(set) == 0 {
			continue
		}
		ranks := make([]int, 0, len(set))
		for src := range set {
			ranks = append(ranks, src)
		}
		sort.Ints(ranks)
		plan.Inputs[w].SourceWorkers = ranks
		plan.Inputs[w].Sources = len(ranks)
	}

	return plan, nil
}

// Destinations returns the distinct workers reachable through all routes in
// the mapping, ascending. These are the workers that get a termination signal.
func Destinations(out proto.OutputMapping) []int {
	set := map[int]bool{}
	for _, routes := range out {
		for _, r := range routes {
			for _, w := range r.Workers {
				set[w] = true
			}
		}
	}
	dest := make([]int, 0, len(set))
	for w := range set {
		dest = append(dest, w)
	}
	sort.Ints(dest)
	return dest
}

// NormalizeInputs rekeys inputs on PE id. Keys may be PE ids or PE names; a
// name must match exactly one PE.
func NormalizeInputs(g *graph.Graph, inputs map[string][]map[string]interface{}) (proto.Inputs, error) {
	byName := map[string][]string{}
	for _, pe := range g.Nodes() {
		byName[pe.Name()] = append(byName[pe.Name()], pe.ID())
	}
	norm := proto.Inputs{}
	for key, units := range inputs {
		id := key
		if _, ok := g.Get(key); !ok {
			matches := byName[key]
			switch len(matches) {
			case 0:
				return nil, fmt.Errorf("inputs for unknown PE %s", key)
			case 1:
				id = matches[0]
			default:
				return nil, fmt.Errorf("inputs for %s match %d PEs: %v", key, len(matches), matches)
			}
		}
		norm[id] = append(norm[id], units...)
	}
	return norm, nil
}

// RemapInputs rekeys inputs from original PE ids to the ids of the composite
// PEs that contain them. owner maps original PE id => composite id. Port p of
// member m becomes the boundary port graph.Qualify(m, p); an empty unit becomes
// graph.Qualify(m, "") which fires m with no input. Units for PEs not in owner
// are kept as they are.
func RemapInputs(owner map[string]string, inputs proto.Inputs) proto.Inputs {
	ids := make([]string, 0, len(inputs))
	for id := range inputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	remapped := proto.Inputs{}
	for _, id := range ids {
		units := inputs[id]
		comp, ok := owner[id]
		if !ok {
			remapped[id] = append(remapped[id], units...)
			continue
		}
		for _, unit := range units {
			qualified := map[string]interface{}{}
			if len(unit) == 0 {
				qualified[graph.Qualify(id, "")] = nil
			}
			for port, v := range unit {
				qualified[graph.Qualify(id, port)] = v
			}
			remapped[comp] = append(remapped[comp], qualified)
		}
	}
	return remapped
}

// SelectInputs returns the units provided for one PE, in order.
func SelectInputs(peId string, inputs proto.Inputs) []map[string]interface{} {
	return inputs[peId]
}

// ReplicaInputs splits units round-robin across the n replicas of a PE and
// returns the share of replica i (0-based): units i, i+n, i+2n, ...
func ReplicaInputs(units []map[string]interface{}, i, n int) []map[string]interface{} {
	if n <= 1 {
		return units
	}
	var share []map[string]interface{}
	for j := i; j < len(units); j += n {
		share = append(share, units[j])
	}
	return share
}

// Copyright 2019, Square, Inc.

// Package mpi runs a graph on a group of ranks connected by a comm.Comm. Every
// rank calls Process with the same graph. Rank 0 is the coordinator: it plans
// the run and broadcasts the plan, then every rank runs the PE the plan
// assigns to it.
package mpi

import (
	"context"

	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"

	"github.com/square/peflow/assign"
	"github.com/square/peflow/comm"
	"github.com/square/peflow/errors"
	"github.com/square/peflow/graph"
	"github.com/square/peflow/partition"
	"github.com/square/peflow/proto"
	"github.com/square/peflow/runner"
)

// COORDINATOR is the rank that plans the run.
const COORDINATOR = 0

// Options for Process.
type Options struct {
	// Simple partitions the graph even if it fits on the ranks as is.
	Simple bool

	// Repo, if set, holds the rank's Runner while it runs.
	Repo runner.Repo
}

// Process runs this rank's share of g and returns the data the rank wrote to
// output ports without a destination. inputs are keyed on PE id or name and
// only matter on the coordinator.
//
// If the coordinator cannot plan the run, for example because there are not
// enough ranks, every rank returns nil, nil: the run ends cleanly without
// doing anything. Ranks the plan does not use also return nil, nil.
func Process(ctx context.Context, c comm.Comm, g *graph.Graph, inputs map[string][]map[string]interface{}, opts Options) (proto.Results, error) {
	rank := c.Rank()
	logger := log.WithFields(log.Fields{"rank": rank, "graph": g.Name})

	var plan proto.Plan
	if rank == COORDINATOR {
		var err error
		plan, err = NewPlan(g, inputs, c.Size(), opts.Simple)
		if err != nil {
			logger.Errorf("cannot run graph: %s", err)
		} else {
			logger.Infof("run %s: assignment %v (partitioned: %t)", plan.RunId, plan.Assignment, plan.Partitioned)
		}
	}
	if err := c.Broadcast(ctx, COORDINATOR, &plan); err != nil {
		return nil, errors.TransportError{Op: "broadcast", Rank: -1, Err: err}
	}
	if !plan.Success {
		logger.Debug("no plan, nothing to run")
		return nil, nil
	}
	logger = logger.WithField("runId", plan.RunId)

	if rank >= len(plan.Inputs) || plan.Inputs[rank].PE == "" {
		logger.Info("rank not used by plan")
		return nil, nil
	}

	// Partitioning is deterministic, so every rank makes the same composites
	// the coordinator planned with.
	hosted := g
	var parts *partition.Result
	if plan.Partitioned {
		var err error
		parts, err = partition.Partition(g, c.Size())
		if err != nil {
			return nil, err
		}
		hosted = parts.Graph
	}

	in := plan.Inputs[rank]
	pe, ok := hosted.Get(in.PE)
	if !ok {
		return nil, errors.NewErrInvalidGraph("plan assigns PE %s to rank %d but the graph has no such PE", in.PE, rank)
	}
	if cl, ok := pe.(graph.Cloner); ok {
		pe = cl.Clone()
	}

	replicas := plan.Assignment[in.PE]
	replica := 0
	for i, r := range replicas {
		if r == rank {
			replica = i
		}
	}
	provided := assign.ReplicaInputs(assign.SelectInputs(in.PE, plan.Provided), replica, len(replicas))

	r := runner.New(runner.Config{
		PE:        pe,
		Worker:    graph.WorkerContext{ID: rank, PoolSize: c.Size()},
		Input:     in,
		Output:    plan.Outputs[rank],
		Provided:  provided,
		Transport: c,
		Logger:    logger.WithField("pe", pe.ID()),
	})
	if opts.Repo != nil {
		opts.Repo.Set(rank, r)
		defer opts.Repo.Remove(rank)
	}
	if err := r.Run(ctx); err != nil {
		return nil, err
	}

	results := r.Results()
	if parts != nil {
		results = parts.MemberResults(results)
	}
	for key, values := range results {
		logger.Warnf("%d values on %s have no destination", len(values), key)
	}
	return results, nil
}

// NewPlan plans a run of g on workers ranks. Unless simple is set, it assigns
// g as is. If simple is set, or g needs more workers than there are, it
// partitions g and assigns the partitioned graph instead, with inputs
// remapped onto the composites. On error, the returned plan has Success false.
func NewPlan(g *graph.Graph, inputs map[string][]map[string]interface{}, workers int, simple bool) (proto.Plan, error) {
	provided, err := assign.NormalizeInputs(g, inputs)
	if err != nil {
		return proto.Plan{}, err
	}

	var plan proto.Plan
	if !simple {
		plan, err = assign.Assign(g, workers)
		switch err.(type) {
		case nil:
			plan.Provided = provided
		case errors.PlanningError:
			log.Infof("partitioning graph %s: %s", g.Name, err)
		default:
			return proto.Plan{}, err
		}
	}
	if simple || err != nil {
		res, err := partition.Partition(g, workers)
		if err != nil {
			return proto.Plan{}, err
		}
		plan, err = assign.Assign(res.Graph, workers)
		if err != nil {
			return proto.Plan{}, err
		}
		plan.Partitioned = true
		plan.Provided = assign.RemapInputs(res.Owner, provided)
	}
	plan.RunId = xid.New().String()
	return plan, nil
}

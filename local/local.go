// Copyright 2019, Square, Inc.

// Package local runs a graph sequentially in the calling goroutine. Every PE
// runs exactly once, with parallelism 1, on its own logical worker. Messages
// between workers are queued in memory, so there is no transport failure mode.
package local

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/square/peflow/assign"
	"github.com/square/peflow/graph"
	"github.com/square/peflow/proto"
	"github.com/square/peflow/runner"
)

// Process runs g with the given inputs, keyed on PE id or name, and returns
// the data written to output ports that have no destination, keyed on
// (PE id, port). Workers run to completion one at a time in topological
// order, so when a worker runs, every message it will ever receive is already
// queued.
func Process(ctx context.Context, g *graph.Graph, inputs map[string][]map[string]interface{}) (proto.Results, error) {
	plan, err := assign.Sequential(g)
	if err != nil {
		return nil, err
	}
	provided, err := assign.NormalizeInputs(g, inputs)
	if err != nil {
		return nil, err
	}

	logger := log.WithFields(log.Fields{"graph": g.Name, "backend": "local"})
	logger.Infof("running %d PEs", len(plan.Inputs))

	queues := newQueues(len(plan.Inputs))
	results := proto.Results{}
	for w, in := range plan.Inputs {
		pe, _ := g.Get(in.PE)
		r := runner.New(runner.Config{
			PE:        pe,
			Worker:    graph.WorkerContext{ID: w, PoolSize: len(plan.Inputs)},
			Input:     in,
			Output:    plan.Outputs[w],
			Provided:  assign.SelectInputs(pe.ID(), provided),
			Transport: queues.transport(w),
			Logger:    logger.WithFields(log.Fields{"rank": w, "pe": pe.ID()}),
		})
		if err := r.Run(ctx); err != nil {
			return nil, err
		}
		results.Merge(r.Results())
	}

	logger.Infof("done: %d result ports", len(results))
	return results, nil
}

// --------------------------------------------------------------------------

// queues holds one FIFO queue of messages per worker.
type queues struct {
	q [][]proto.Message
}

func newQueues(n int) *queues {
	return &queues{q: make([][]proto.Message, n)}
}

func (q *queues) transport(w int) *queueTransport {
	return &queueTransport{worker: w, queues: q}
}

// queueTransport is the runner.Transport of one worker.
type queueTransport struct {
	worker int
	queues *queues
}

func (t *queueTransport) Send(ctx context.Context, dest int, msg proto.Message) error {
	if dest < 0 || dest >= len(t.queues.q) {
		return fmt.Errorf("no worker %d", dest)
	}
	t.queues.q[dest] = append(t.queues.q[dest], msg)
	return nil
}

// Receive returns the next queued message. Upstream workers have finished
// before this one runs, so an empty queue means a termination signal is
// missing, which is an error rather than something to wait for.
func (t *queueTransport) Receive(ctx context.Context) (proto.Message, error) {
	if err := ctx.Err(); err != nil {
		return proto.Message{}, err
	}
	q := t.queues.q[t.worker]
	if len(q) == 0 {
		return proto.Message{}, fmt.Errorf("worker %d: queue empty before all sources terminated", t.worker)
	}
	msg := q[0]
	t.queues.q[t.worker] = q[1:]
	return msg, nil
}

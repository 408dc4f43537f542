// Copyright 2019, Square, Inc.

// Package engine is the entry point for running a graph in one process.
package engine

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/square/peflow/comm"
	"github.com/square/peflow/errors"
	"github.com/square/peflow/graph"
	"github.com/square/peflow/local"
	"github.com/square/peflow/mpi"
	"github.com/square/peflow/proto"
)

// Backends.
const (
	BACKEND_LOCAL = "local" // sequential, one goroutine
	BACKEND_WORLD = "world" // one goroutine per rank, connected by a comm.World
)

// DEFAULT_BUFFER is the mailbox size of a world rank if Options.Buffer is 0.
const DEFAULT_BUFFER = 100

// Options for Run.
type Options struct {
	Backend string // default BACKEND_LOCAL
	Workers int    // number of ranks, BACKEND_WORLD only
	Simple  bool   // always partition, BACKEND_WORLD only
	Buffer  int    // world mailbox size, default DEFAULT_BUFFER
}

// Run runs g with inputs, keyed on PE id or name, and returns the data written
// to output ports that have no destination, keyed on (PE id, port).
//
// With BACKEND_WORLD, if the graph cannot be planned on opts.Workers ranks,
// Run logs why and returns nil, nil. The first rank to fail cancels the
// others, and its error is returned.
func Run(ctx context.Context, g *graph.Graph, inputs map[string][]map[string]interface{}, opts Options) (proto.Results, error) {
	switch opts.Backend {
	case "", BACKEND_LOCAL:
		return local.Process(ctx, g, inputs)
	case BACKEND_WORLD:
		return runWorld(ctx, g, inputs, opts)
	default:
		return nil, fmt.Errorf("invalid backend: %s (valid: %s, %s)", opts.Backend, BACKEND_LOCAL, BACKEND_WORLD)
	}
}

func runWorld(ctx context.Context, g *graph.Graph, inputs map[string][]map[string]interface{}, opts Options) (proto.Results, error) {
	if opts.Workers < 1 {
		return nil, errors.ErrEmptyPool
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = DEFAULT_BUFFER
	}
	log.Infof("running graph %s on %d ranks", g.Name, opts.Workers)

	w := comm.NewWorld(opts.Workers, buffer)
	results := make([]proto.Results, opts.Workers)
	eg, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < opts.Workers; rank++ {
		rank := rank
		eg.Go(func() error {
			res, err := mpi.Process(ctx, w.Comm(rank), g, inputs, mpi.Options{Simple: opts.Simple})
			results[rank] = res
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// Ranks return nil results if the run was not planned or the rank was
	// not used, so merged is nil only if nothing ran.
	var merged proto.Results
	for _, res := range results {
		if res == nil {
			continue
		}
		if merged == nil {
			merged = proto.Results{}
		}
		merged.Merge(res)
	}
	return merged, nil
}

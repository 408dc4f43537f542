// Copyright 2019, Square, Inc.

// Package comm provides the point-to-point and broadcast primitives that ranks
// use to talk to each other. A World connects ranks in one process with
// channels; HTTP connects ranks in different processes.
package comm

import (
	"context"

	"github.com/square/peflow/proto"
)

// A Comm is one rank's view of a fixed group of ranks 0..Size()-1. It is a
// runner.Transport. Messages between a pair of ranks are delivered in order.
type Comm interface {
	// Rank returns the rank of this member of the group.
	Rank() int

	// Size returns the number of ranks in the group.
	Size() int

	// Send blocks until dest accepts msg or ctx is done.
	Send(ctx context.Context, dest int, msg proto.Message) error

	// Receive blocks until a DATA or TERMINATED message from any rank
	// arrives or ctx is done.
	Receive(ctx context.Context) (proto.Message, error)

	// Broadcast sends plan from root to every other rank. On root it returns
	// once every rank has accepted the plan. On other ranks it blocks until
	// the plan arrives and stores it in plan.
	Broadcast(ctx context.Context, root int, plan *proto.Plan) error
}

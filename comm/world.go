// Copyright 2019, Square, Inc.

package comm

import (
	"context"
	"fmt"
	"strconv"

	"github.com/orcaman/concurrent-map"

	"github.com/square/peflow/proto"
)

// A World is a group of ranks in one process. Every rank has a buffered
// mailbox; Send blocks while the destination mailbox is full.
type World struct {
	size      int
	mailboxes cmap.ConcurrentMap // rank => chan proto.Message
	plans     cmap.ConcurrentMap // rank => chan proto.Plan
}

// NewWorld makes a World of size ranks with mailboxes that hold buffer
// messages.
func NewWorld(size, buffer int) *World {
	w := &World{
		size:      size,
		mailboxes: cmap.New(),
		plans:     cmap.New(),
	}
	for rank := 0; rank < size; rank++ {
		w.mailboxes.Set(strconv.Itoa(rank), make(chan proto.Message, buffer))
		w.plans.Set(strconv.Itoa(rank), make(chan proto.Plan, 1))
	}
	return w
}

// Size returns the number of ranks.
func (w *World) Size() int {
	return w.size
}

// Comm returns the Comm of one rank.
func (w *World) Comm(rank int) Comm {
	return &worldComm{rank: rank, world: w}
}

func (w *World) mailbox(rank int) (chan proto.Message, error) {
	v, ok := w.mailboxes.Get(strconv.Itoa(rank))
	if !ok {
		return nil, fmt.Errorf("no rank %d in world of %d", rank, w.size)
	}
	return v.(chan proto.Message), nil
}

func (w *World) planbox(rank int) (chan proto.Plan, error) {
	v, ok := w.plans.Get(strconv.Itoa(rank))
	if !ok {
		return nil, fmt.Errorf("no rank %d in world of %d", rank, w.size)
	}
	return v.(chan proto.Plan), nil
}

// --------------------------------------------------------------------------

type worldComm struct {
	rank  int
	world *World
}

func (c *worldComm) Rank() int { return c.rank }
func (c *worldComm) Size() int { return c.world.size }

func (c *worldComm) Send(ctx context.Context, dest int, msg proto.Message) error {
	mb, err := c.world.mailbox(dest)
	if err != nil {
		return err
	}
	select {
	case mb <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *worldComm) Receive(ctx context.Context) (proto.Message, error) {
	mb, err := c.world.mailbox(c.rank)
	if err != nil {
		return proto.Message{}, err
	}
	select {
	case msg := <-mb:
		return msg, nil
	case <-ctx.Done():
		return proto.Message{}, ctx.Err()
	}
}

func (c *worldComm) Broadcast(ctx context.Context, root int, plan *proto.Plan) error {
	if c.rank != root {
		pb, err := c.world.planbox(c.rank)
		if err != nil {
			return err
		}
		select {
		case p := <-pb:
			*plan = p
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for rank := 0; rank < c.world.size; rank++ {
		if rank == root {
			continue
		}
		pb, err := c.world.planbox(rank)
		if err != nil {
			return err
		}
		select {
		case pb <- *plan:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

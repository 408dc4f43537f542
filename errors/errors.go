// Copyright 2019, Square, Inc.

// Package errors provides the errors that end a run. Planning errors are
// reported once and end the run cleanly on every worker. Transport and
// transform errors are fatal to the worker that hits them; they are never
// retried.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrCycle     = errors.New("graph has a cycle")
	ErrEmptyPool = errors.New("worker pool is empty")
)

var _ error = PlanningError{}

// PlanningError is returned by the partitioner and assigner when the graph
// does not fit on the worker pool.
type PlanningError struct {
	Requested int // workers needed (replicas or connected components)
	Workers   int // workers available
	Reason    string
}

func (e PlanningError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("not enough workers: %s (need %d, have %d)", e.Reason, e.Requested, e.Workers)
	}
	return fmt.Sprintf("not enough workers: need %d, have %d", e.Requested, e.Workers)
}

// --------------------------------------------------------------------------

var _ error = TransportError{}

// TransportError wraps a failed send or receive.
type TransportError struct {
	Op   string // send, receive, broadcast
	Rank int    // peer rank, -1 if any
	Err  error
}

func (e TransportError) Error() string {
	if e.Rank < 0 {
		return fmt.Sprintf("transport %s: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s rank %d: %s", e.Op, e.Rank, e.Err)
}

// --------------------------------------------------------------------------

var _ error = TransformError{}

// TransformError wraps an error returned by a PE.
type TransformError struct {
	PE  string
	Err error
}

func (e TransformError) Error() string {
	return fmt.Sprintf("PE %s: %s", e.PE, e.Err)
}

// --------------------------------------------------------------------------

var _ error = ErrInvalidGraph{}

// ErrInvalidGraph is returned when a graph references PEs or ports that do
// not exist.
type ErrInvalidGraph struct {
	Message string
}

func NewErrInvalidGraph(msgFmt string, msgArgs ...interface{}) ErrInvalidGraph {
	return ErrInvalidGraph{Message: fmt.Sprintf(msgFmt, msgArgs...)}
}

func (e ErrInvalidGraph) Error() string {
	return "invalid graph: " + e.Message
}

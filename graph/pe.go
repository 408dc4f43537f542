// Copyright 2019, Square, Inc.

package graph

import (
	"fmt"
	"strings"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/square/peflow/proto"
)

// A PE (processing element) is one node in a dataflow graph. It declares named
// input and output ports and transforms one set of inputs at a time.
//
// peflow defines the PE interface, but PEs are provided by the user. The
// runner calls Process once per data unit (or once per complete round of
// inputs if the PE is a Joiner). Process returns outputs keyed on output port;
// a PE that produces more than one value per port in one step uses
// Context.Write instead. An error returned by Process is fatal to the worker
// hosting the PE.
type PE interface {
	// ID returns the process-unique id of the PE. It must not change during
	// the lifetime of the graph.
	ID() string

	// Name returns the human-readable name of the PE.
	Name() string

	// Inputs and Outputs return the port names, in declaration order.
	Inputs() []string
	Outputs() []string

	// Parallelism returns the number of workers requested for replicas of
	// this PE. It is at least 1.
	Parallelism() int

	// Process transforms one data unit.
	Process(ctx Context, inputs map[string]interface{}) (map[string]interface{}, error)
}

// A Joiner is a PE that must receive one data unit on every required input
// port before it fires. Units are matched in arrival order per port.
type Joiner interface {
	RequiredInputs() []string
}

// A Preprocessor is called once before the PE processes any data.
type Preprocessor interface {
	Preprocess(ctx Context) error
}

// A Postprocessor is called once after the last data unit and before the PE
// signals termination downstream. It can still write outputs.
type Postprocessor interface {
	Postprocess(ctx Context) error
}

// A Cloner is a PE that can make a fresh replica of itself: same id, ports and
// parallelism, but none of the state built up by Process. Ranks that run in
// one process share the graph, so each rank runs a clone of the PE it hosts
// when the PE is a Cloner. Stateful PEs with parallelism > 1 must be Cloners
// to run in-process.
type Cloner interface {
	Clone() PE
}

// An InputGrouper declares the grouping used on edges into an input port.
// Graph.Connect uses it when no grouping is given explicitly.
type InputGrouper interface {
	InputGrouping(port string) (proto.Grouping, bool)
}

// Context is the capability a PE receives while it runs. It replaces any
// global state: the PE learns which worker it runs on, logs, and writes
// outputs only through it.
type Context interface {
	// Write sends data on an output port. Errors are reported by the runner
	// after Process returns.
	Write(port string, data interface{})

	// Log returns a logger with the PE and worker fields set.
	Log() log.FieldLogger

	// Worker returns the worker the PE runs on.
	Worker() WorkerContext
}

// WorkerContext identifies a worker in a pool of PoolSize workers.
type WorkerContext struct {
	ID       int
	PoolSize int
}

func (w WorkerContext) String() string {
	return fmt.Sprintf("%d/%d", w.ID, w.PoolSize)
}

// --------------------------------------------------------------------------

var peCount uint64

// Base is an embeddable partial PE. It provides everything except Process.
type Base struct {
	id          string
	name        string
	inputs      []string
	outputs     []string
	parallelism int
	groupings   map[string]proto.Grouping
}

// NewBase returns a Base with a new process-unique id made from name and a
// counter, for example "Producer3".
func NewBase(name string, inputs, outputs []string) Base {
	n := atomic.AddUint64(&peCount, 1) - 1
	return Base{
		id:          fmt.Sprintf("%s%d", name, n),
		name:        name,
		inputs:      inputs,
		outputs:     outputs,
		parallelism: 1,
	}
}

func (b *Base) ID() string        { return b.id }
func (b *Base) Name() string      { return b.name }
func (b *Base) Inputs() []string  { return b.inputs }
func (b *Base) Outputs() []string { return b.outputs }
func (b *Base) Parallelism() int  { return b.parallelism }

// SetParallelism sets the number of replicas requested. Values < 1 are set to 1.
func (b *Base) SetParallelism(n int) {
	if n < 1 {
		n = 1
	}
	b.parallelism = n
}

// SetInputGrouping declares the grouping for edges into port.
func (b *Base) SetInputGrouping(port string, g proto.Grouping) {
	if b.groupings == nil {
		b.groupings = map[string]proto.Grouping{}
	}
	b.groupings[port] = g
}

func (b *Base) InputGrouping(port string) (proto.Grouping, bool) {
	g, ok := b.groupings[port]
	return g, ok
}

// HasInput returns true if port is a declared input.
func HasInput(pe PE, port string) bool {
	for _, p := range pe.Inputs() {
		if p == port {
			return true
		}
	}
	return false
}

// HasOutput returns true if port is a declared output.
func HasOutput(pe PE, port string) bool {
	for _, p := range pe.Outputs() {
		if p == port {
			return true
		}
	}
	return false
}

// PortSep separates a member PE id from its port in the boundary port names
// of composite PEs, for example "OneInOneOut4.input".
const PortSep = "."

// Qualify returns the boundary port name for port on the PE with the given id.
// An empty port names the PE itself, which fires it with no input.
func Qualify(id, port string) string {
	return id + PortSep + port
}

// Unqualify splits a boundary port name into a member PE id and port. Ports
// can contain PortSep, so the name is split after the longest prefix that
// isMember accepts. ok is false if no prefix names a member.
func Unqualify(name string, isMember func(id string) bool) (id, port string, ok bool) {
	for i := strings.LastIndex(name, PortSep); i >= 0; i = strings.LastIndex(name[:i], PortSep) {
		if isMember(name[:i]) {
			return name[:i], name[i+len(PortSep):], true
		}
	}
	return "", name, false
}

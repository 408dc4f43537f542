// Copyright 2019, Square, Inc.

package partition

import (
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/square/peflow/errors"
	"github.com/square/peflow/graph"
	"github.com/square/peflow/runner"
)

// A Composite is a PE that runs a cluster of PEs (its members) in one worker.
// Its ports are the members' ports qualified with the member id, for example
// "OneInOneOut4.input". Data on an edge between two members is passed by a
// direct call; data on any other member output is written to the composite's
// output of the same qualified name. The boundary input graph.Qualify(m, "")
// fires member m with no input.
//
// A composite always has parallelism 1. The parallelism of its members is
// ignored.
type Composite struct {
	id       string
	members  []graph.PE // topological order
	index    map[string]graph.PE
	inputs   []string
	outputs  []string
	internal map[string][]graph.Edge // qualified output => edges to members
	boundary map[string]bool         // qualified output => written to the composite output
	// --
	buffers map[string]*runner.Buffer           // member id => round buffer, Joiners only
	pending map[string][]map[string]interface{} // member id => units not processed yet
}

var (
	_ graph.PE            = &Composite{}
	_ graph.Preprocessor  = &Composite{}
	_ graph.Postprocessor = &Composite{}
)

// NewComposite makes a composite of the PEs in g with the given ids, which
// must be in topological order.
func NewComposite(id string, g *graph.Graph, ids []string) *Composite {
	c := &Composite{
		id:       id,
		index:    map[string]graph.PE{},
		internal: map[string][]graph.Edge{},
		boundary: map[string]bool{},
		buffers:  map[string]*runner.Buffer{},
		pending:  map[string][]map[string]interface{}{},
	}
	for _, mid := range ids {
		pe, _ := g.Get(mid)
		c.members = append(c.members, pe)
		c.index[mid] = pe
		if j, ok := pe.(graph.Joiner); ok && len(j.RequiredInputs()) > 0 {
			c.buffers[mid] = runner.NewBuffer(j.RequiredInputs())
		}
	}

	external := map[string]bool{}
	for _, e := range g.Edges() {
		_, fromIn := c.index[e.From]
		_, toIn := c.index[e.To]
		key := graph.Qualify(e.From, e.FromPort)
		switch {
		case fromIn && toIn:
			c.internal[key] = append(c.internal[key], e)
		case fromIn:
			external[key] = true
		}
	}

	for _, pe := range c.members {
		for _, port := range pe.Inputs() {
			c.inputs = append(c.inputs, graph.Qualify(pe.ID(), port))
		}
		for _, port := range pe.Outputs() {
			key := graph.Qualify(pe.ID(), port)
			if len(c.internal[key]) == 0 || external[key] {
				c.boundary[key] = true
				c.outputs = append(c.outputs, key)
			}
		}
	}
	return c
}

func (c *Composite) ID() string        { return c.id }
func (c *Composite) Name() string      { return "partition" }
func (c *Composite) Inputs() []string  { return c.inputs }
func (c *Composite) Outputs() []string { return c.outputs }
func (c *Composite) Parallelism() int  { return 1 }

func (c *Composite) isMember(id string) bool {
	_, ok := c.index[id]
	return ok
}

// Process passes inputs to the members they are qualified with, then runs
// every member that has data, in topological order, until no member has data.
// All outputs are written through ctx, so Process returns no outputs.
func (c *Composite) Process(ctx graph.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	units := map[string]map[string]interface{}{}
	for name, v := range inputs {
		mid, port, ok := graph.Unqualify(name, c.isMember)
		if !ok {
			return nil, fmt.Errorf("%s: input %s is not qualified with a member id", c.id, name)
		}
		if units[mid] == nil {
			units[mid] = map[string]interface{}{}
		}
		if port != "" {
			units[mid][port] = v
		}
	}
	for mid, unit := range units {
		c.pending[mid] = append(c.pending[mid], unit)
	}
	return nil, c.run(ctx)
}

// Preprocess preprocesses all members, then runs any data they wrote.
func (c *Composite) Preprocess(ctx graph.Context) error {
	for _, pe := range c.members {
		p, ok := pe.(graph.Preprocessor)
		if !ok {
			continue
		}
		if err := p.Preprocess(c.memberContext(ctx, pe)); err != nil {
			return errors.TransformError{PE: pe.ID(), Err: err}
		}
	}
	return c.run(ctx)
}

// Postprocess postprocesses members in topological order. A member's
// Postprocess can write to later members, so each member first processes
// whatever is pending for it.
func (c *Composite) Postprocess(ctx graph.Context) error {
	for _, pe := range c.members {
		if err := c.drain(ctx, pe); err != nil {
			return err
		}
		if b := c.buffers[pe.ID()]; b != nil && b.Pending() > 0 {
			ctx.Log().Warnf("member %s: dropping %d buffered inputs that never formed a complete round", pe.ID(), b.Pending())
		}
		p, ok := pe.(graph.Postprocessor)
		if !ok {
			continue
		}
		if err := p.Postprocess(c.memberContext(ctx, pe)); err != nil {
			return errors.TransformError{PE: pe.ID(), Err: err}
		}
	}
	return nil
}

// --------------------------------------------------------------------------

func (c *Composite) run(ctx graph.Context) error {
	for _, pe := range c.members {
		if err := c.drain(ctx, pe); err != nil {
			return err
		}
	}
	return nil
}

func (c *Composite) drain(ctx graph.Context, pe graph.PE) error {
	for len(c.pending[pe.ID()]) > 0 {
		unit := c.pending[pe.ID()][0]
		c.pending[pe.ID()] = c.pending[pe.ID()][1:]
		if err := c.fire(ctx, pe, unit); err != nil {
			return err
		}
	}
	return nil
}

func (c *Composite) fire(ctx graph.Context, pe graph.PE, unit map[string]interface{}) error {
	b := c.buffers[pe.ID()]
	if b == nil {
		return c.call(ctx, pe, unit)
	}
	if rest := b.Add(unit); rest != nil {
		if err := c.call(ctx, pe, rest); err != nil {
			return err
		}
	}
	for {
		round, ok := b.Next()
		if !ok {
			return nil
		}
		if err := c.call(ctx, pe, round); err != nil {
			return err
		}
	}
}

func (c *Composite) call(ctx graph.Context, pe graph.PE, inputs map[string]interface{}) error {
	out, err := pe.Process(c.memberContext(ctx, pe), inputs)
	if err != nil {
		return errors.TransformError{PE: pe.ID(), Err: err}
	}
	seen := map[string]bool{}
	for _, port := range pe.Outputs() {
		if v, ok := out[port]; ok {
			c.emit(ctx, pe.ID(), port, v)
			seen[port] = true
		}
	}
	var extra []string
	for port := range out {
		if !seen[port] {
			extra = append(extra, port)
		}
	}
	sort.Strings(extra)
	for _, port := range extra {
		c.emit(ctx, pe.ID(), port, out[port])
	}
	return nil
}

// emit queues data written by member mid on port for the members it is
// connected to, and writes it to the composite output if the port is a
// boundary output or is not connected at all.
func (c *Composite) emit(ctx graph.Context, mid, port string, data interface{}) {
	key := graph.Qualify(mid, port)
	for _, e := range c.internal[key] {
		c.pending[e.To] = append(c.pending[e.To], map[string]interface{}{e.ToPort: data})
	}
	if len(c.internal[key]) == 0 || c.boundary[key] {
		ctx.Write(key, data)
	}
}

func (c *Composite) memberContext(ctx graph.Context, pe graph.PE) graph.Context {
	return &memberContext{c: c, parent: ctx, member: pe.ID()}
}

// memberContext is the graph.Context a member runs with. Writes go through
// the composite.
type memberContext struct {
	c      *Composite
	parent graph.Context
	member string
}

func (m *memberContext) Write(port string, data interface{}) {
	m.c.emit(m.parent, m.member, port, data)
}

func (m *memberContext) Log() log.FieldLogger {
	return m.parent.Log().WithField("member", m.member)
}

func (m *memberContext) Worker() graph.WorkerContext {
	return m.parent.Worker()
}

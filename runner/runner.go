// Copyright 2019, Square, Inc.

// Package runner implements running one PE on one worker: the generic
// read-process-write loop and the termination protocol. It does not know how
// messages cross workers; that is the job of the Transport.
package runner

import (
	"context"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/square/peflow/assign"
	"github.com/square/peflow/errors"
	"github.com/square/peflow/graph"
	"github.com/square/peflow/proto"
)

// A Transport moves messages between workers. Send blocks until the message is
// accepted for delivery. Receive blocks until a data or termination message
// from any source arrives. Messages between one source and one destination
// are delivered in order.
type Transport interface {
	Send(ctx context.Context, dest int, msg proto.Message) error
	Receive(ctx context.Context) (proto.Message, error)
}

// Config is everything a Runner needs. Input and Output come from the plan and
// must not be modified.
type Config struct {
	PE        graph.PE
	Worker    graph.WorkerContext
	Input     proto.InputMapping
	Output    proto.OutputMapping
	Provided  []map[string]interface{} // data given directly to this PE, in order
	Transport Transport
	Logger    *log.Entry // optional
}

// A Runner runs one PE replica. Its lifecycle is READY -> RUNNING ->
// DRAINING -> TERMINATED:
//
//   - RUNNING: provided data is processed first, then data from the transport.
//   - DRAINING: at least one upstream source has terminated; others may still
//     send data.
//   - TERMINATED: every upstream source has terminated (or, with no upstream
//     sources, the provided data is used up). The runner has sent exactly one
//     termination signal to every distinct downstream worker.
//
// A Runner never terminates early because data stops arriving. If a source
// never terminates, Run blocks until ctx is done.
type Runner struct {
	pe        graph.PE
	worker    graph.WorkerContext
	input     proto.InputMapping
	output    proto.OutputMapping
	provided  []map[string]interface{}
	transport Transport
	logger    *log.Entry
	// --
	selectors  map[string][]graph.Selector // output port => one per route
	buffer     *Buffer                     // nil unless PE is a graph.Joiner
	sources    map[int]bool                // expected sources, from Input.SourceWorkers
	terminated map[int]bool                // sources that sent a termination signal
	results    proto.Results
	processed  uint
	writeErr   error
	state      byte
	*sync.Mutex // guards state
}

// New makes a Runner in state READY.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithFields(log.Fields{"rank": cfg.Worker.ID, "pe": cfg.PE.ID()})
	}

	selectors := map[string][]graph.Selector{}
	for port, routes := range cfg.Output {
		for _, route := range routes {
			selectors[port] = append(selectors[port], graph.NewSelector(route.Grouping, route.Workers, cfg.Worker.ID))
		}
	}

	sources := make(map[int]bool, len(cfg.Input.SourceWorkers))
	for _, w := range cfg.Input.SourceWorkers {
		sources[w] = true
	}

	var buffer *Buffer
	if j, ok := cfg.PE.(graph.Joiner); ok && len(j.RequiredInputs()) > 0 {
		buffer = NewBuffer(j.RequiredInputs())
	}

	return &Runner{
		pe:         cfg.PE,
		worker:     cfg.Worker,
		input:      cfg.Input,
		output:     cfg.Output,
		provided:   cfg.Provided,
		transport:  cfg.Transport,
		logger:     logger,
		selectors:  selectors,
		buffer:     buffer,
		sources:    sources,
		terminated: map[int]bool{},
		results:    proto.Results{},
		state:      proto.STATE_READY,
		Mutex:      &sync.Mutex{},
	}
}

// Run runs the PE until every upstream source has terminated, then signals
// termination downstream. It returns errors.TransformError if the PE fails and
// errors.TransportError if a send or receive fails. Either error leaves the
// runner in state FAIL without signaling termination downstream.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Infof("runner started: %d sources, %d provided inputs", r.input.Sources, len(r.provided))
	defer r.logger.Infof("runner done: %s after %d inputs", r.Status(), r.processed)

	if err := r.preprocess(ctx); err != nil {
		return r.fail(err)
	}
	r.setState(proto.STATE_RUNNING)

	for !r.sourcesDone() || len(r.provided) > 0 {
		if len(r.provided) > 0 {
			unit := r.provided[0]
			r.provided = r.provided[1:]
			if err := r.fire(ctx, unit); err != nil {
				return r.fail(err)
			}
			continue
		}

		msg, err := r.transport.Receive(ctx)
		if err != nil {
			return r.fail(errors.TransportError{Op: "receive", Rank: -1, Err: err})
		}
		switch msg.Tag {
		case proto.TAG_DATA:
			if err := r.fire(ctx, msg.Data); err != nil {
				return r.fail(err)
			}
		case proto.TAG_TERMINATED:
			r.sourceTerminated(msg.Source)
		default:
			r.logger.Warnf("ignoring unexpected message %s", msg)
		}
	}

	if r.buffer != nil && r.buffer.Pending() > 0 {
		r.logger.Warnf("dropping %d buffered inputs that never formed a complete round", r.buffer.Pending())
	}
	if err := r.postprocess(ctx); err != nil {
		return r.fail(err)
	}
	if err := r.terminate(ctx); err != nil {
		return r.fail(err)
	}
	r.setState(proto.STATE_TERMINATED)
	return nil
}

// Status returns the name of the current state.
func (r *Runner) Status() string {
	return proto.StateName[r.State()]
}

// State returns the current proto.STATE_* state.
func (r *Runner) State() byte {
	r.Lock()
	defer r.Unlock()
	return r.state
}

// Terminated returns the number of distinct sources that have terminated.
func (r *Runner) Terminated() int {
	return len(r.terminated)
}

// Results returns the data written to output ports that have no routes.
// It is only complete after Run returns.
func (r *Runner) Results() proto.Results {
	return r.results
}

// --------------------------------------------------------------------------

func (r *Runner) sourcesDone() bool {
	return len(r.terminated) >= r.input.Sources
}

func (r *Runner) sourceTerminated(source int) {
	if !r.sources[source] {
		r.logger.Warnf("ignoring termination from worker %d, which is not a source", source)
		return
	}
	if r.terminated[source] {
		r.logger.Warnf("ignoring duplicate termination from worker %d", source)
		return
	}
	r.terminated[source] = true
	r.logger.Debugf("worker %d terminated (%d/%d)", source, len(r.terminated), r.input.Sources)
	if r.State() == proto.STATE_RUNNING {
		r.setState(proto.STATE_DRAINING)
	}
}

// fire processes one unit, or buffers it until its round is complete.
func (r *Runner) fire(ctx context.Context, unit map[string]interface{}) error {
	if r.buffer == nil {
		return r.process(ctx, unit)
	}
	if rest := r.buffer.Add(unit); rest != nil {
		if err := r.process(ctx, rest); err != nil {
			return err
		}
	}
	for {
		round, ok := r.buffer.Next()
		if !ok {
			return nil
		}
		if err := r.process(ctx, round); err != nil {
			return err
		}
	}
}

func (r *Runner) process(ctx context.Context, inputs map[string]interface{}) error {
	if inputs == nil {
		inputs = map[string]interface{}{}
	}
	pctx := &peContext{r: r, ctx: ctx}
	out, err := r.pe.Process(pctx, inputs)
	r.processed++
	if err != nil {
		return errors.TransformError{PE: r.pe.ID(), Err: err}
	}
	for _, port := range outputOrder(r.pe, out) {
		r.write(ctx, port, out[port])
	}
	return r.writeErr
}

func (r *Runner) preprocess(ctx context.Context) error {
	p, ok := r.pe.(graph.Preprocessor)
	if !ok {
		return nil
	}
	if err := p.Preprocess(&peContext{r: r, ctx: ctx}); err != nil {
		return errors.TransformError{PE: r.pe.ID(), Err: err}
	}
	return r.writeErr
}

func (r *Runner) postprocess(ctx context.Context) error {
	p, ok := r.pe.(graph.Postprocessor)
	if !ok {
		return nil
	}
	if err := p.Postprocess(&peContext{r: r, ctx: ctx}); err != nil {
		return errors.TransformError{PE: r.pe.ID(), Err: err}
	}
	return r.writeErr
}

// write routes data on port to every destination worker picked by each
// route's grouping. Data on a port without routes is kept as a result. After
// the first send error, writes are dropped; the error is returned by process.
func (r *Runner) write(ctx context.Context, port string, data interface{}) {
	if r.writeErr != nil {
		return
	}
	routes := r.output[port]
	if len(routes) == 0 {
		key := proto.ResultKey{PE: r.pe.ID(), Port: port}
		r.results[key] = append(r.results[key], data)
		return
	}
	for i, route := range routes {
		for _, dest := range r.selectors[port][i].Select(map[string]interface{}{route.DestPort: data}) {
			msg := proto.Message{
				Tag:    proto.TAG_DATA,
				Source: r.worker.ID,
				Data:   map[string]interface{}{route.DestPort: data},
			}
			r.logger.Debugf("sending %s.%s to worker %d", route.DestPE, route.DestPort, dest)
			if err := r.transport.Send(ctx, dest, msg); err != nil {
				r.writeErr = errors.TransportError{Op: "send", Rank: dest, Err: err}
				return
			}
		}
	}
}

// terminate sends one termination signal to every distinct downstream worker,
// no matter how many edges or ports lead to it.
func (r *Runner) terminate(ctx context.Context) error {
	for _, dest := range assign.Destinations(r.output) {
		r.logger.Debugf("terminating worker %d", dest)
		msg := proto.Message{Tag: proto.TAG_TERMINATED, Source: r.worker.ID}
		if err := r.transport.Send(ctx, dest, msg); err != nil {
			return errors.TransportError{Op: "send", Rank: dest, Err: err}
		}
	}
	return nil
}

func (r *Runner) fail(err error) error {
	r.setState(proto.STATE_FAIL)
	r.logger.Errorf("runner failed: %s", err)
	return err
}

func (r *Runner) setState(state byte) {
	r.Lock()
	r.state = state
	r.Unlock()
}

// outputOrder returns the ports in out: declared outputs first, in declaration
// order, then any others sorted.
func outputOrder(pe graph.PE, out map[string]interface{}) []string {
	ports := make([]string, 0, len(out))
	seen := map[string]bool{}
	for _, port := range pe.Outputs() {
		if _, ok := out[port]; ok {
			ports = append(ports, port)
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
	return append(ports, extra...)
}

// --------------------------------------------------------------------------

// peContext implements graph.Context for the PE a Runner runs.
type peContext struct {
	r   *Runner
	ctx context.Context
}

func (c *peContext) Write(port string, data interface{}) {
	c.r.write(c.ctx, port, data)
}

func (c *peContext) Log() log.FieldLogger {
	return c.r.logger
}

func (c *peContext) Worker() graph.WorkerContext {
	return c.r.worker
}

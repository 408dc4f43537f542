// Copyright 2019, Square, Inc.

package mock

import (
	"errors"
	"fmt"

	"github.com/square/peflow/graph"
)

var (
	ErrPE = errors.New("forced error in PE")
)

// Producer emits 1, 2, 3, ... on every output port, one number per call.
type Producer struct {
	graph.Base
	count int
}

// NewProducer makes a Producer with n output ports. One port is named
// "output", more are named "output0", "output1", etc.
func NewProducer(n int) *Producer {
	outputs := []string{"output"}
	if n > 1 {
		outputs = make([]string, n)
		for i := range outputs {
			outputs[i] = fmt.Sprintf("output%d", i)
		}
	}
	return &Producer{Base: graph.NewBase("Producer", nil, outputs)}
}

func (p *Producer) Process(ctx graph.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	p.count++
	out := map[string]interface{}{}
	for _, port := range p.Outputs() {
		out[port] = p.count
	}
	return out, nil
}

// OneInOneOut copies "input" to "output".
type OneInOneOut struct {
	graph.Base
}

func NewOneInOneOut() *OneInOneOut {
	return &OneInOneOut{Base: graph.NewBase("OneInOneOut", []string{"input"}, []string{"output"})}
}

func (p *OneInOneOut) Process(ctx graph.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{"output": inputs["input"]}, nil
}

// TwoInOneOut fires once per unit on either "input0" or "input1" and writes
// the value as a string to "output".
type TwoInOneOut struct {
	graph.Base
}

func NewTwoInOneOut() *TwoInOneOut {
	return &TwoInOneOut{Base: graph.NewBase("TwoInOneOut", []string{"input0", "input1"}, []string{"output"})}
}

func (p *TwoInOneOut) Process(ctx graph.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	for _, port := range p.Inputs() {
		if v, ok := inputs[port]; ok {
			ctx.Write("output", fmt.Sprint(v))
		}
	}
	return nil, nil
}

// Join needs one unit on both "input0" and "input1" before it fires. It
// writes the pair to "output" and counts how often it fired.
type Join struct {
	graph.Base
	Fired int
}

func NewJoin() *Join {
	return &Join{Base: graph.NewBase("Join", []string{"input0", "input1"}, []string{"output"})}
}

func (p *Join) RequiredInputs() []string {
	return p.Inputs()
}

func (p *Join) Process(ctx graph.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	p.Fired++
	return map[string]interface{}{"output": []interface{}{inputs["input0"], inputs["input1"]}}, nil
}

// Counter counts the units it sees on "input" and writes the total to
// "output" when postprocessed.
type Counter struct {
	graph.Base
	Preprocessed bool
	n            int
}

func NewCounter() *Counter {
	return &Counter{Base: graph.NewBase("Counter", []string{"input"}, []string{"output"})}
}

func (p *Counter) Preprocess(ctx graph.Context) error {
	p.Preprocessed = true
	return nil
}

func (p *Counter) Process(ctx graph.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	p.n++
	return nil, nil
}

func (p *Counter) Postprocess(ctx graph.Context) error {
	ctx.Write("output", p.n)
	return nil
}

// Fail returns ErrPE on the Nth call (1-based).
type Fail struct {
	graph.Base
	N     int
	calls int
}

func NewFail(n int) *Fail {
	return &Fail{Base: graph.NewBase("Fail", []string{"input"}, []string{"output"}), N: n}
}

func (p *Fail) Process(ctx graph.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	p.calls++
	if p.calls >= p.N {
		return nil, ErrPE
	}
	return map[string]interface{}{"output": inputs["input"]}, nil
}

// Copy copies its one input port to its one output port. Port names are
// chosen by the caller.
type Copy struct {
	graph.Base
}

func NewCopy(input, output string) *Copy {
	return &Copy{Base: graph.NewBase("Copy", []string{input}, []string{output})}
}

func (p *Copy) Process(ctx graph.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{p.Outputs()[0]: inputs[p.Inputs()[0]]}, nil
}

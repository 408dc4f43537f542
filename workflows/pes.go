// Copyright 2019, Square, Inc.

package workflows

import (
	"fmt"
	"sort"
	"strings"

	"github.com/square/peflow/graph"
	"github.com/square/peflow/proto"
)

// Numbers emits 1, 2, 3, ... on every output port, one number per data unit.
type Numbers struct {
	graph.Base
	n int
}

// NewNumbers makes a Numbers PE with ports outputs. One port is named
// "output", more are named "output0", "output1", etc.
func NewNumbers(ports int) *Numbers {
	outputs := []string{"output"}
	if ports > 1 {
		outputs = make([]string, ports)
		for i := range outputs {
			outputs[i] = fmt.Sprintf("output%d", i)
		}
	}
	return &Numbers{Base: graph.NewBase("Numbers", nil, outputs)}
}

func (p *Numbers) Process(ctx graph.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	p.n++
	out := map[string]interface{}{}
	for _, port := range p.Outputs() {
		out[port] = p.n
	}
	return out, nil
}

func (p *Numbers) Clone() graph.PE {
	return &Numbers{Base: p.Base}
}

// Double writes input * 2.
type Double struct {
	graph.Base
}

func NewDouble() *Double {
	return &Double{Base: graph.NewBase("Double", []string{"input"}, []string{"output"})}
}

func (p *Double) Process(ctx graph.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	v, err := mul(inputs["input"], 2)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"output": v}, nil
}

// Square writes input * input.
type Square struct {
	graph.Base
}

func NewSquare() *Square {
	return &Square{Base: graph.NewBase("Square", []string{"input"}, []string{"output"})}
}

func (p *Square) Process(ctx graph.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	v, err := mul(inputs["input"], inputs["input"])
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"output": v}, nil
}

// Sum waits for one number on both "input0" and "input1" and writes their sum.
type Sum struct {
	graph.Base
}

func NewSum() *Sum {
	return &Sum{Base: graph.NewBase("Sum", []string{"input0", "input1"}, []string{"output"})}
}

func (p *Sum) RequiredInputs() []string {
	return p.Inputs()
}

func (p *Sum) Process(ctx graph.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	v, err := add(inputs["input0"], inputs["input1"])
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"output": v}, nil
}

// SplitWords writes [word, 1] for every word in the "input" line.
type SplitWords struct {
	graph.Base
}

func NewSplitWords() *SplitWords {
	return &SplitWords{Base: graph.NewBase("SplitWords", []string{"input"}, []string{"output"})}
}

func (p *SplitWords) Process(ctx graph.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	line, ok := inputs["input"].(string)
	if !ok {
		return nil, fmt.Errorf("input is %T, expected a string", inputs["input"])
	}
	for _, word := range strings.Fields(strings.ToLower(line)) {
		ctx.Write("output", []interface{}{word, 1})
	}
	return nil, nil
}

// CountWords sums [word, n] pairs per word and writes [word, total] pairs,
// sorted by word, when the input ends. Its input is grouped by word, so
// replicas count disjoint sets of words.
type CountWords struct {
	graph.Base
	counts map[string]int
}

func NewCountWords() *CountWords {
	p := &CountWords{Base: graph.NewBase("CountWords", []string{"input"}, []string{"output"})}
	p.SetInputGrouping("input", proto.Grouping{Type: proto.GROUPING_GROUP_BY, Keys: []string{"0"}})
	return p
}

func (p *CountWords) Preprocess(ctx graph.Context) error {
	p.counts = map[string]int{}
	ctx.Log().Debugf("counting words on worker %s", ctx.Worker())
	return nil
}

func (p *CountWords) Process(ctx graph.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	pair, ok := inputs["input"].([]interface{})
	if !ok || len(pair) != 2 {
		return nil, fmt.Errorf("input is %v, expected [word, count]", inputs["input"])
	}
	word, ok := pair[0].(string)
	if !ok {
		return nil, fmt.Errorf("word is %T, expected a string", pair[0])
	}
	n, err := mul(pair[1], 1)
	if err != nil {
		return nil, err
	}
	switch t := n.(type) {
	case int:
		p.counts[word] += t
	case float64:
		p.counts[word] += int(t)
	}
	return nil, nil
}

func (p *CountWords) Postprocess(ctx graph.Context) error {
	words := make([]string, 0, len(p.counts))
	for w := range p.counts {
		words = append(words, w)
	}
	sort.Strings(words)
	for _, w := range words {
		ctx.Write("output", []interface{}{w, p.counts[w]})
	}
	return nil
}

func (p *CountWords) Clone() graph.PE {
	return &CountWords{Base: p.Base}
}

// --------------------------------------------------------------------------

// Numbers sent over HTTP arrive as float64. Arithmetic stays int if both
// operands are int.

func mul(a, b interface{}) (interface{}, error) {
	x, y, isInt, err := operands(a, b)
	if err != nil {
		return nil, err
	}
	if isInt {
		return int(x) * int(y), nil
	}
	return x * y, nil
}

func add(a, b interface{}) (interface{}, error) {
	x, y, isInt, err := operands(a, b)
	if err != nil {
		return nil, err
	}
	if isInt {
		return int(x) + int(y), nil
	}
	return x + y, nil
}

func operands(a, b interface{}) (float64, float64, bool, error) {
	x, xInt, err := number(a)
	if err != nil {
		return 0, 0, false, err
	}
	y, yInt, err := number(b)
	if err != nil {
		return 0, 0, false, err
	}
	return x, y, xInt && yInt, nil
}

func number(v interface{}) (float64, bool, error) {
	switch t := v.(type) {
	case int:
		return float64(t), true, nil
	case float64:
		return t, false, nil
	}
	return 0, false, fmt.Errorf("%v is %T, expected a number", v, v)
}

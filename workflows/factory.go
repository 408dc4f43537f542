// Copyright 2019, Square, Inc.

// Package workflows provides ready-made graphs and a factory to make them by
// name. The peflow binary runs them; they are also the reference for writing
// PEs.
package workflows

import (
	"errors"
	"sort"

	"github.com/square/peflow/graph"
	"github.com/square/peflow/proto"
)

var (
	ErrUnknownWorkflow = errors.New("unknown workflow")
)

// A Workflow is a graph and the inputs to run it with.
type Workflow struct {
	Graph  *graph.Graph
	Inputs proto.Inputs
}

// A Factory makes workflows. Every call to Make returns a new graph with new
// PEs. units is the number of data units given to the source PE; values < 1
// are set to 1.
type Factory interface {
	Make(name string, units int) (Workflow, error)
}

// Builtin makes the workflows in this package. Every rank of a run must make
// the same workflow with the same units.
var Builtin Factory = factory{}

type factory struct{}

func (f factory) Make(name string, units int) (Workflow, error) {
	if units < 1 {
		units = 1
	}
	switch name {
	case "pipeline":
		return Pipeline(units), nil
	case "tee":
		return Tee(units), nil
	case "square":
		return SquareWorkflow(units), nil
	case "wordcount":
		return WordCount(units), nil
	}
	return Workflow{}, ErrUnknownWorkflow
}

// Names returns the names Builtin can make, sorted.
func Names() []string {
	names := []string{"pipeline", "tee", "square", "wordcount"}
	sort.Strings(names)
	return names
}

// Pipeline doubles numbers three times: Numbers -> Double (x2) -> Double -> Double.
// The second stage runs two replicas, so it needs five workers.
func Pipeline(units int) Workflow {
	g := graph.New("pipeline")
	numbers := NewNumbers(1)
	d1 := NewDouble()
	d1.SetParallelism(2)
	d2 := NewDouble()
	d3 := NewDouble()
	g.Connect(numbers, "output", d1, "input")
	g.Connect(d1, "output", d2, "input")
	g.Connect(d2, "output", d3, "input")
	return Workflow{Graph: g, Inputs: proto.Inputs{numbers.ID(): empty(units)}}
}

// Tee sends every number to Double and to Square.
func Tee(units int) Workflow {
	g := graph.New("tee")
	numbers := NewNumbers(1)
	g.Connect(numbers, "output", NewDouble(), "input")
	g.Connect(numbers, "output", NewSquare(), "input")
	return Workflow{Graph: g, Inputs: proto.Inputs{numbers.ID(): empty(units)}}
}

// SquareWorkflow computes 2n + n*n for n = 1..units: one branch doubles, the
// other squares, and Sum joins them.
func SquareWorkflow(units int) Workflow {
	g := graph.New("square")
	numbers := NewNumbers(2)
	double := NewDouble()
	square := NewSquare()
	sum := NewSum()
	g.Connect(numbers, "output0", double, "input")
	g.Connect(numbers, "output1", square, "input")
	g.Connect(double, "output", sum, "input0")
	g.Connect(square, "output", sum, "input1")
	return Workflow{Graph: g, Inputs: proto.Inputs{numbers.ID(): empty(units)}}
}

// WordCount counts the words in units lines of text. Words are grouped by
// word onto two CountWords replicas, so each word is counted on one replica.
func WordCount(units int) Workflow {
	g := graph.New("wordcount")
	split := NewSplitWords()
	count := NewCountWords()
	count.SetParallelism(2)
	g.Connect(split, "output", count, "input")

	lines := make([]map[string]interface{}, units)
	for i := range lines {
		lines[i] = map[string]interface{}{"input": text[i%len(text)]}
	}
	return Workflow{Graph: g, Inputs: proto.Inputs{split.ID(): lines}}
}

var text = []string{
	"the quick brown fox",
	"jumps over the lazy dog",
	"the dog sleeps",
}

func empty(n int) []map[string]interface{} {
	units := make([]map[string]interface{}, n)
	for i := range units {
		units[i] = map[string]interface{}{}
	}
	return units
}

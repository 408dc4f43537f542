// Copyright 2019, Square, Inc.

package workflows_test

import (
	"context"
	"sort"
	"testing"

	"github.com/go-test/deep"

	"github.com/square/peflow/graph"
	"github.com/square/peflow/local"
	"github.com/square/peflow/proto"
	"github.com/square/peflow/workflows"
)

// values returns the results of every PE named name, sorted.
func values(t *testing.T, g *graph.Graph, results proto.Results, name string) []int {
	var n []int
	for key, vals := range results {
		pe, ok := g.Get(key.PE)
		if !ok {
			t.Fatalf("result for unknown PE %s", key.PE)
		}
		if pe.Name() != name {
			continue
		}
		for _, v := range vals {
			n = append(n, v.(int))
		}
	}
	sort.Ints(n)
	return n
}

func run(t *testing.T, name string, units int) (workflows.Workflow, proto.Results) {
	wf, err := workflows.Builtin.Make(name, units)
	if err != nil {
		t.Fatal(err)
	}
	results, err := local.Process(context.Background(), wf.Graph, wf.Inputs)
	if err != nil {
		t.Fatal(err)
	}
	return wf, results
}

func TestMake(t *testing.T) {
	for _, name := range workflows.Names() {
		wf, err := workflows.Builtin.Make(name, 0)
		if err != nil {
			t.Errorf("%s: %s", name, err)
			continue
		}
		if err := wf.Graph.Validate(); err != nil {
			t.Errorf("%s: %s", name, err)
		}
		for _, units := range wf.Inputs {
			if len(units) != 1 {
				t.Errorf("%s: %d input units, expected 1", name, len(units))
			}
		}
	}

	_, err := workflows.Builtin.Make("nope", 1)
	if err != workflows.ErrUnknownWorkflow {
		t.Errorf("err = %v, expected ErrUnknownWorkflow", err)
	}
}

func TestPipeline(t *testing.T) {
	wf, results := run(t, "pipeline", 3)
	if diff := deep.Equal(values(t, wf.Graph, results, "Double"), []int{8, 16, 24}); diff != nil {
		t.Error(diff)
	}
	if wf.Graph.Parallelism() != 5 {
		t.Errorf("parallelism %d, expected 5", wf.Graph.Parallelism())
	}
}

func TestTee(t *testing.T) {
	wf, results := run(t, "tee", 3)
	if diff := deep.Equal(values(t, wf.Graph, results, "Double"), []int{2, 4, 6}); diff != nil {
		t.Error(diff)
	}
	if diff := deep.Equal(values(t, wf.Graph, results, "Square"), []int{1, 4, 9}); diff != nil {
		t.Error(diff)
	}
}

func TestSquare(t *testing.T) {
	wf, results := run(t, "square", 3)
	if diff := deep.Equal(values(t, wf.Graph, results, "Sum"), []int{3, 8, 15}); diff != nil {
		t.Error(diff)
	}

	// Same graph without the factory
	wf = workflows.SquareWorkflow(2)
	results, err := local.Process(context.Background(), wf.Graph, wf.Inputs)
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(values(t, wf.Graph, results, "Sum"), []int{3, 8}); diff != nil {
		t.Error(diff)
	}
	if diff := deep.Equal(values(t, wf.Graph, results, "Square"), []int(nil)); diff != nil {
		t.Error(diff)
	}
}

func TestWordCount(t *testing.T) {
	_, results := run(t, "wordcount", 3)
	counts := map[string]int{}
	for _, vals := range results {
		for _, v := range vals {
			pair := v.([]interface{})
			counts[pair[0].(string)] += pair[1].(int)
		}
	}
	expect := map[string]int{
		"the": 3, "quick": 1, "brown": 1, "fox": 1, "jumps": 1,
		"over": 1, "lazy": 1, "dog": 2, "sleeps": 1,
	}
	if diff := deep.Equal(counts, expect); diff != nil {
		t.Error(diff)
	}
}

// JSON turns numbers into float64; arithmetic still works.
func TestFloatInputs(t *testing.T) {
	g := graph.New("float")
	double := workflows.NewDouble()
	sum := workflows.NewSum()
	g.Connect(double, "output", sum, "input0")
	g.Connect(double, "output", sum, "input1")

	inputs := map[string][]map[string]interface{}{double.ID(): {{"input": 1.5}, {"input": float64(2)}}}
	results, err := local.Process(context.Background(), g, inputs)
	if err != nil {
		t.Fatal(err)
	}
	expect := proto.Results{{PE: sum.ID(), Port: "output"}: {6.0, 8.0}}
	if diff := deep.Equal(results, expect); diff != nil {
		t.Error(diff)
	}

	_, err = local.Process(context.Background(), g, map[string][]map[string]interface{}{double.ID(): {{"input": "x"}}})
	if err == nil {
		t.Error("no error for a string input")
	}
}

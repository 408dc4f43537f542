// Copyright 2019, Square, Inc.

package local_test

import (
	"context"
	"testing"

	"github.com/go-test/deep"

	"github.com/square/peflow/assign"
	"github.com/square/peflow/errors"
	"github.com/square/peflow/graph"
	"github.com/square/peflow/local"
	"github.com/square/peflow/partition"
	"github.com/square/peflow/proto"
	"github.com/square/peflow/test/mock"
)

func empty(n int) []map[string]interface{} {
	units := make([]map[string]interface{}, n)
	for i := range units {
		units[i] = map[string]interface{}{}
	}
	return units
}

func TestPipeline(t *testing.T) {
	g := graph.New("pipeline")
	prod := mock.NewProducer(1)
	var prev graph.PE = prod
	for i := 0; i < 5; i++ {
		cons := mock.NewOneInOneOut()
		g.Connect(prev, "output", cons, "input")
		prev = cons
	}

	results, err := local.Process(context.Background(), g, map[string][]map[string]interface{}{prod.ID(): empty(5)})
	if err != nil {
		t.Fatal(err)
	}
	expect := proto.Results{{PE: prev.ID(), Port: "output"}: {1, 2, 3, 4, 5}}
	if diff := deep.Equal(results, expect); diff != nil {
		t.Error(diff)
	}
}

func TestSquare(t *testing.T) {
	g := graph.New("square")
	prod := mock.NewProducer(2)
	cons1 := mock.NewOneInOneOut()
	cons2 := mock.NewOneInOneOut()
	last := mock.NewTwoInOneOut()
	g.Connect(prod, "output0", cons1, "input")
	g.Connect(prod, "output1", cons2, "input")
	g.Connect(cons1, "output", last, "input0")
	g.Connect(cons2, "output", last, "input1")

	results, err := local.Process(context.Background(), g, map[string][]map[string]interface{}{prod.ID(): empty(1)})
	if err != nil {
		t.Fatal(err)
	}
	expect := proto.Results{{PE: last.ID(), Port: "output"}: {"1", "1"}}
	if diff := deep.Equal(results, expect); diff != nil {
		t.Error(diff)
	}
}

func TestTee(t *testing.T) {
	g := graph.New("tee")
	prod := mock.NewProducer(1)
	cons1 := mock.NewOneInOneOut()
	cons2 := mock.NewOneInOneOut()
	g.Connect(prod, "output", cons1, "input")
	g.Connect(prod, "output", cons2, "input")

	results, err := local.Process(context.Background(), g, map[string][]map[string]interface{}{prod.ID(): empty(5)})
	if err != nil {
		t.Fatal(err)
	}
	expect := proto.Results{
		{PE: cons1.ID(), Port: "output"}: {1, 2, 3, 4, 5},
		{PE: cons2.ID(), Port: "output"}: {1, 2, 3, 4, 5},
	}
	if diff := deep.Equal(results, expect); diff != nil {
		t.Error(diff)
	}
}

func TestPipelineWithInput(t *testing.T) {
	g := graph.New("pipeline")
	first := mock.NewOneInOneOut()
	var prev graph.PE = first
	for i := 0; i < 5; i++ {
		cons := mock.NewOneInOneOut()
		g.Connect(prev, "output", cons, "input")
		prev = cons
	}

	// By id
	units := []map[string]interface{}{{"input": 1}, {"input": 2}, {"input": 3}}
	results, err := local.Process(context.Background(), g, map[string][]map[string]interface{}{first.ID(): units})
	if err != nil {
		t.Fatal(err)
	}
	expect := proto.Results{{PE: prev.ID(), Port: "output"}: {1, 2, 3}}
	if diff := deep.Equal(results, expect); diff != nil {
		t.Error(diff)
	}

	// By name: every PE is a OneInOneOut, so the name is ambiguous
	_, err = local.Process(context.Background(), g, map[string][]map[string]interface{}{"OneInOneOut": units})
	if err == nil {
		t.Error("no error for ambiguous PE name")
	}
}

func TestSinglePE(t *testing.T) {
	g := graph.New("single")
	pe := mock.NewOneInOneOut()
	g.Add(pe)

	results, err := local.Process(context.Background(), g, map[string][]map[string]interface{}{pe.ID(): {{"input": 1}}})
	if err != nil {
		t.Fatal(err)
	}
	expect := proto.Results{{PE: pe.ID(), Port: "output"}: {1}}
	if diff := deep.Equal(results, expect); diff != nil {
		t.Error(diff)
	}
}

func TestOnePEByName(t *testing.T) {
	g := graph.New("one")
	prod := mock.NewProducer(1)
	g.Add(prod)

	results, err := local.Process(context.Background(), g, map[string][]map[string]interface{}{"Producer": empty(1)})
	if err != nil {
		t.Fatal(err)
	}
	expect := proto.Results{{PE: prod.ID(), Port: "output"}: {1}}
	if diff := deep.Equal(results, expect); diff != nil {
		t.Error(diff)
	}
}

func TestParallelismIgnored(t *testing.T) {
	g := graph.New("parallel")
	prod := mock.NewProducer(1)
	cons := mock.NewOneInOneOut()
	cons.SetParallelism(3)
	g.Connect(prod, "output", cons, "input")

	results, err := local.Process(context.Background(), g, map[string][]map[string]interface{}{prod.ID(): empty(3)})
	if err != nil {
		t.Fatal(err)
	}
	expect := proto.Results{{PE: cons.ID(), Port: "output"}: {1, 2, 3}}
	if diff := deep.Equal(results, expect); diff != nil {
		t.Error(diff)
	}
}

func TestJoinFiresOncePerRound(t *testing.T) {
	g := graph.New("join")
	prod := mock.NewProducer(2)
	join := mock.NewJoin()
	g.Connect(prod, "output0", join, "input0")
	g.Connect(prod, "output1", join, "input1")

	results, err := local.Process(context.Background(), g, map[string][]map[string]interface{}{prod.ID(): empty(2)})
	if err != nil {
		t.Fatal(err)
	}
	if join.Fired != 2 {
		t.Errorf("fired %d times, expected 2", join.Fired)
	}
	expect := proto.Results{{PE: join.ID(), Port: "output"}: {[]interface{}{1, 1}, []interface{}{2, 2}}}
	if diff := deep.Equal(results, expect); diff != nil {
		t.Error(diff)
	}
}

func TestTransformError(t *testing.T) {
	g := graph.New("fail")
	prod := mock.NewProducer(1)
	fail := mock.NewFail(2)
	g.Connect(prod, "output", fail, "input")

	_, err := local.Process(context.Background(), g, map[string][]map[string]interface{}{prod.ID(): empty(3)})
	if _, ok := err.(errors.TransformError); !ok {
		t.Errorf("err = %v, expected a TransformError", err)
	}
}

// A partitioned graph gives the same results as the original once results
// are rekeyed on member PEs.
func TestPartitionedSquare(t *testing.T) {
	g := graph.New("square")
	prod := mock.NewProducer(2)
	cons1 := mock.NewOneInOneOut()
	cons2 := mock.NewOneInOneOut()
	last := mock.NewTwoInOneOut()
	g.Connect(prod, "output0", cons1, "input")
	g.Connect(prod, "output1", cons2, "input")
	g.Connect(cons1, "output", last, "input0")
	g.Connect(cons2, "output", last, "input1")

	res, err := partition.Partition(g, 2)
	if err != nil {
		t.Fatal(err)
	}
	inputs := assign.RemapInputs(res.Owner, proto.Inputs{prod.ID(): empty(2)})
	results, err := local.Process(context.Background(), res.Graph, inputs)
	if err != nil {
		t.Fatal(err)
	}
	expect := proto.Results{{PE: last.ID(), Port: "output"}: {"1", "1", "2", "2"}}
	if diff := deep.Equal(res.MemberResults(results), expect); diff != nil {
		t.Error(diff)
	}
}

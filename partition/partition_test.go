// Copyright 2019, Square, Inc.

package partition_test

import (
	"testing"

	"github.com/go-test/deep"

	"github.com/square/peflow/errors"
	"github.com/square/peflow/graph"
	"github.com/square/peflow/partition"
	"github.com/square/peflow/proto"
	"github.com/square/peflow/test/mock"
)

func pipeline(n int) (*graph.Graph, []graph.PE) {
	g := graph.New("pipeline")
	pes := []graph.PE{mock.NewProducer(1)}
	for i := 1; i < n; i++ {
		next := mock.NewOneInOneOut()
		g.Connect(pes[i-1], "output", next, "input")
		pes = append(pes, next)
	}
	return g, pes
}

func ids(pes ...graph.PE) []string {
	s := make([]string, len(pes))
	for i, pe := range pes {
		s[i] = pe.ID()
	}
	return s
}

func TestPartitionPipeline(t *testing.T) {
	g, pes := pipeline(4)

	res, err := partition.Partition(g, 2)
	if err != nil {
		t.Fatal(err)
	}
	expect := [][]string{ids(pes[0], pes[1]), ids(pes[2], pes[3])}
	if diff := deep.Equal(res.Members, expect); diff != nil {
		t.Error(diff)
	}
	expectOwner := map[string]string{
		pes[0].ID(): "partition0",
		pes[1].ID(): "partition0",
		pes[2].ID(): "partition1",
		pes[3].ID(): "partition1",
	}
	if diff := deep.Equal(res.Owner, expectOwner); diff != nil {
		t.Error(diff)
	}

	expectEdges := []graph.Edge{
		{
			From:     "partition0",
			FromPort: graph.Qualify(pes[1].ID(), "output"),
			To:       "partition1",
			ToPort:   graph.Qualify(pes[2].ID(), "input"),
			Grouping: proto.Grouping{Type: proto.GROUPING_SHUFFLE},
		},
	}
	if diff := deep.Equal(res.Graph.Edges(), expectEdges); diff != nil {
		t.Error(diff)
	}
	if err := res.Graph.Validate(); err != nil {
		t.Error(err)
	}
	if res.Graph.Parallelism() != 2 {
		t.Errorf("parallelism = %d, expected 2", res.Graph.Parallelism())
	}
}

func TestPartitionDeterministic(t *testing.T) {
	g, _ := pipeline(7)
	first, err := partition.Partition(g, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		res, err := partition.Partition(g, 3)
		if err != nil {
			t.Fatal(err)
		}
		if diff := deep.Equal(res.Members, first.Members); diff != nil {
			t.Fatalf("run %d: %v", i, diff)
		}
	}
	if len(first.Members) != 3 {
		t.Errorf("got %d partitions, expected 3", len(first.Members))
	}
}

// The square topology: a producer feeds two PEs that both feed one. Merging
// the producer with the sink first would make a cycle, so it never happens.
func TestPartitionSquare(t *testing.T) {
	g := graph.New("square")
	prod := mock.NewProducer(2)
	a := mock.NewOneInOneOut()
	b := mock.NewOneInOneOut()
	last := mock.NewTwoInOneOut()
	g.Connect(prod, "output0", a, "input")
	g.Connect(prod, "output1", b, "input")
	g.Connect(a, "output", last, "input0")
	g.Connect(b, "output", last, "input1")

	res, err := partition.Partition(g, 2)
	if err != nil {
		t.Fatal(err)
	}
	expect := [][]string{ids(prod, a), ids(b, last)}
	if diff := deep.Equal(res.Members, expect); diff != nil {
		t.Error(diff)
	}
	if res.Graph.HasCycles() {
		t.Error("partitioned graph has a cycle")
	}

	res, err = partition.Partition(g, 1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(res.Members, [][]string{ids(prod, a, b, last)}); diff != nil {
		t.Error(diff)
	}
	if len(res.Graph.Edges()) != 0 {
		t.Errorf("got %d edges, expected 0", len(res.Graph.Edges()))
	}
}

func TestPartitionTooManyComponents(t *testing.T) {
	g, _ := pipeline(2)
	g.Add(mock.NewProducer(1))
	g.Add(mock.NewProducer(1))

	_, err := partition.Partition(g, 2)
	perr, ok := err.(errors.PlanningError)
	if !ok {
		t.Fatalf("err = %v, expected a PlanningError", err)
	}
	if perr.Requested != 3 || perr.Workers != 2 {
		t.Errorf("err = %+v, expected requested 3, workers 2", perr)
	}

	if _, err := partition.Partition(g, 3); err != nil {
		t.Error(err)
	}
}

func TestPartitionExplicit(t *testing.T) {
	g, pes := pipeline(4)
	g.Partitions = [][]string{ids(pes[1], pes[0])}

	res, err := partition.Partition(g, 1)
	if err != nil {
		t.Fatal(err)
	}
	// Members are in topological order, and unlisted PEs make one extra
	// partition no matter how many workers there are.
	expect := [][]string{ids(pes[0], pes[1]), ids(pes[2], pes[3])}
	if diff := deep.Equal(res.Members, expect); diff != nil {
		t.Error(diff)
	}
}

func TestPartitionExplicitCycle(t *testing.T) {
	g, pes := pipeline(3)
	g.Partitions = [][]string{ids(pes[0], pes[2])}
	if _, err := partition.Partition(g, 2); err == nil {
		t.Error("no error for partitions that make a cycle")
	}

	g.Partitions = [][]string{{"nope"}}
	if _, err := partition.Partition(g, 2); err == nil {
		t.Error("no error for unknown PE in partitions")
	}
}

func TestMemberResults(t *testing.T) {
	res := &partition.Result{Owner: map[string]string{
		"OneInOneOut3": "partition0",
		"Copy5":        "partition1",
		"Copy5.in":     "partition1",
	}}
	results := proto.Results{
		{PE: "partition0", Port: "OneInOneOut3.output"}: {1, 2},
		{PE: "partition1", Port: "Copy5.out.v"}:         {3},
		{PE: "partition1", Port: "Copy5.in.v"}:          {5},
		{PE: "partition0", Port: "Copy5.out.v"}:         {6}, // not a member of partition0
		{PE: "Producer0", Port: "output"}:               {4},
	}
	expect := proto.Results{
		{PE: "OneInOneOut3", Port: "output"}:    {1, 2},
		{PE: "Copy5", Port: "out.v"}:            {3},
		{PE: "Copy5.in", Port: "v"}:             {5},
		{PE: "partition0", Port: "Copy5.out.v"}: {6},
		{PE: "Producer0", Port: "output"}:       {4},
	}
	if diff := deep.Equal(res.MemberResults(results), expect); diff != nil {
		t.Error(diff)
	}
}

// Port names can contain the separator used for composite ports.
func TestPartitionDottedPorts(t *testing.T) {
	g := graph.New("dotted")
	a := mock.NewCopy("in.v", "out.v")
	b := mock.NewCopy("in.v", "out.v")
	g.Connect(a, "out.v", b, "in.v")

	res, err := partition.Partition(g, 1)
	if err != nil {
		t.Fatal(err)
	}
	comp, _ := res.Graph.Get("partition0")
	if diff := deep.Equal(comp.Inputs(), []string{a.ID() + ".in.v", b.ID() + ".in.v"}); diff != nil {
		t.Error(diff)
	}

	ctx := &mock.Context{}
	if _, err := comp.Process(ctx, map[string]interface{}{a.ID() + ".in.v": 7}); err != nil {
		t.Fatal(err)
	}
	expect := []mock.Write{{Port: b.ID() + ".out.v", Data: 7}}
	if diff := deep.Equal(ctx.Writes, expect); diff != nil {
		t.Error(diff)
	}

	if _, err := comp.Process(ctx, map[string]interface{}{"nope.in.v": 7}); err == nil {
		t.Error("no error for input of unknown member")
	}
}

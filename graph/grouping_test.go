// Copyright 2019, Square, Inc.

package graph_test

import (
	"testing"

	"github.com/go-test/deep"

	"github.com/square/peflow/graph"
	"github.com/square/peflow/proto"
)

func TestSelectAll(t *testing.T) {
	s := graph.NewSelector(proto.Grouping{Type: proto.GROUPING_ALL}, []int{2, 3, 4}, 0)
	for i := 0; i < 3; i++ {
		if diff := deep.Equal(s.Select(map[string]interface{}{"in": i}), []int{2, 3, 4}); diff != nil {
			t.Error(diff)
		}
	}
}

func TestSelectOne(t *testing.T) {
	s := graph.NewSelector(proto.Grouping{Type: proto.GROUPING_ONE}, []int{5, 6}, 1)
	if diff := deep.Equal(s.Select(nil), []int{5}); diff != nil {
		t.Error(diff)
	}
}

func TestSelectShuffle(t *testing.T) {
	s := graph.NewSelector(proto.Grouping{}, []int{1, 2, 3}, 4)
	var got []int
	for i := 0; i < 4; i++ {
		got = append(got, s.Select(nil)...)
	}
	// offset 4 % 3 = 1 so the first unit goes to the second worker
	if diff := deep.Equal(got, []int{2, 3, 1, 2}); diff != nil {
		t.Error(diff)
	}
}

func TestSelectGroupBy(t *testing.T) {
	s := graph.NewSelector(proto.Grouping{Type: proto.GROUPING_GROUP_BY, Keys: []string{"word"}}, []int{0, 1, 2, 3}, 0)
	first := s.Select(map[string]interface{}{"in": map[string]interface{}{"word": "spin", "n": 1}})
	second := s.Select(map[string]interface{}{"in": map[string]interface{}{"word": "spin", "n": 2}})
	if len(first) != 1 {
		t.Fatalf("got %d workers, expected 1", len(first))
	}
	if diff := deep.Equal(first, second); diff != nil {
		t.Errorf("same key went to different workers: %v", diff)
	}

	s = graph.NewSelector(proto.Grouping{Type: proto.GROUPING_GROUP_BY, Keys: []string{"0"}}, []int{0, 1, 2, 3}, 0)
	first = s.Select(map[string]interface{}{"in": []interface{}{"cycle", 1}})
	second = s.Select(map[string]interface{}{"in": []interface{}{"cycle", 99}})
	if diff := deep.Equal(first, second); diff != nil {
		t.Errorf("same tuple key went to different workers: %v", diff)
	}
}

func TestSelectNoWorkers(t *testing.T) {
	for _, typ := range []string{proto.GROUPING_ALL, proto.GROUPING_ONE, proto.GROUPING_SHUFFLE, proto.GROUPING_GROUP_BY} {
		s := graph.NewSelector(proto.Grouping{Type: typ}, nil, 0)
		if got := s.Select(map[string]interface{}{"in": 1}); len(got) != 0 {
			t.Errorf("%s: got %v, expected no workers", typ, got)
		}
	}
}

// Copyright 2019, Square, Inc.

package graph

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/square/peflow/proto"
)

// A Selector picks the destination workers for one data unit sent on an
// edge. Selectors can keep state (round robin position), so each sending
// worker makes its own.
type Selector interface {
	Select(data map[string]interface{}) []int
}

// NewSelector makes a Selector for the grouping over the destination workers.
// offset staggers the round robin start so replicas of the same upstream PE
// do not all start on the same destination; callers pass the sending worker id.
func NewSelector(g proto.Grouping, workers []int, offset int) Selector {
	switch g.Type {
	case proto.GROUPING_ALL:
		return all{workers: workers}
	case proto.GROUPING_ONE:
		return one{workers: workers}
	case proto.GROUPING_GROUP_BY:
		return groupBy{workers: workers, keys: g.Keys}
	default:
		n := len(workers)
		if n == 0 {
			n = 1
		}
		if offset < 0 {
			offset = -offset
		}
		return &shuffle{workers: workers, next: offset % n}
	}
}

type all struct {
	workers []int
}

func (s all) Select(map[string]interface{}) []int {
	return s.workers
}

type one struct {
	workers []int
}

func (s one) Select(map[string]interface{}) []int {
	if len(s.workers) == 0 {
		return nil
	}
	return s.workers[:1]
}

type shuffle struct {
	workers []int
	next    int
}

func (s *shuffle) Select(map[string]interface{}) []int {
	if len(s.workers) == 0 {
		return nil
	}
	w := s.workers[s.next]
	s.next = (s.next + 1) % len(s.workers)
	return []int{w}
}

type groupBy struct {
	workers []int
	keys    []string
}

// Select hashes the key fields of the single value in data. Map values are
// keyed by field name, slice values by index. Without keys, or for any other
// value, the whole value is hashed.
func (s groupBy) Select(data map[string]interface{}) []int {
	if len(s.workers) == 0 {
		return nil
	}
	var parts []string
	for _, v := range data {
		parts = append(parts, groupKey(v, s.keys)...)
	}
	h := fnv.New32a()
	h.Write([]byte(strings.Join(parts, "\x00")))
	return []int{s.workers[int(h.Sum32()%uint32(len(s.workers)))]}
}

func groupKey(v interface{}, keys []string) []string {
	if len(keys) == 0 {
		return []string{fmt.Sprint(v)}
	}
	var parts []string
	switch t := v.(type) {
	case map[string]interface{}:
		for _, k := range keys {
			parts = append(parts, fmt.Sprint(t[k]))
		}
	case []interface{}:
		for _, k := range keys {
			i, err := strconv.Atoi(k)
			if err != nil || i < 0 || i >= len(t) {
				parts = append(parts, "")
				continue
			}
			parts = append(parts, fmt.Sprint(t[i]))
		}
	default:
		parts = append(parts, fmt.Sprint(v))
	}
	return parts
}

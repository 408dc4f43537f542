// Copyright 2019, Square, Inc.

// Package proto provides the messages and routing tables exchanged between
// workers, and the constants that describe them.
package proto

import (
	"fmt"
)

const (
	STATE_UNKNOWN byte = iota

	// Runner states, in order
	STATE_READY      // initialized, not started
	STATE_RUNNING    // reading and processing data
	STATE_DRAINING   // at least one source terminated, others may still send
	STATE_TERMINATED // all sources terminated, termination sent downstream

	// Error states
	STATE_FAIL // transform or transport error
)

var StateName = map[byte]string{
	STATE_UNKNOWN:    "UNKNOWN",
	STATE_READY:      "READY",
	STATE_RUNNING:    "RUNNING",
	STATE_DRAINING:   "DRAINING",
	STATE_TERMINATED: "TERMINATED",
	STATE_FAIL:       "FAIL",
}

// Message tags. DATA and TERMINATED travel point-to-point between ranks. PLAN
// is only used by the coordinator broadcast.
const (
	TAG_DATA       byte = 1
	TAG_TERMINATED byte = 2
	TAG_PLAN       byte = 3
)

var TagName = map[byte]string{
	TAG_DATA:       "DATA",
	TAG_TERMINATED: "TERMINATED",
	TAG_PLAN:       "PLAN",
}

// Grouping types.
const (
	GROUPING_SHUFFLE  = "shuffle"  // round robin over destination workers (default)
	GROUPING_ALL      = "all"      // every destination worker gets a copy
	GROUPING_GROUP_BY = "group_by" // hash of Keys picks one destination worker
	GROUPING_ONE      = "one"      // always the lowest destination worker
)

// Grouping describes how data on one edge is spread across the workers that
// host replicas of the destination PE. It is serializable so routing tables
// can be broadcast.
type Grouping struct {
	Type string   `json:"type" yaml:"type"`
	Keys []string `json:"keys,omitempty" yaml:"keys,omitempty"` // GROUPING_GROUP_BY only
}

func (g Grouping) String() string {
	if g.Type == "" {
		return GROUPING_SHUFFLE
	}
	if len(g.Keys) > 0 {
		return fmt.Sprintf("%s%v", g.Type, g.Keys)
	}
	return g.Type
}

// Message is the transport envelope. Data is nil unless Tag is TAG_DATA, in
// which case it holds exactly one destination port and its value.
type Message struct {
	Tag    byte                   `json:"tag"`
	Source int                    `json:"source"` // rank that sent the message
	Data   map[string]interface{} `json:"data,omitempty"`
	Plan   *Plan                  `json:"plan,omitempty"` // TAG_PLAN only
}

func (m Message) String() string {
	return fmt.Sprintf("%s from %d: %v", TagName[m.Tag], m.Source, m.Data)
}

// Route is one destination of an output port: the port data is delivered to
// and the workers that host the destination PE.
type Route struct {
	DestPE   string   `json:"destPe"`
	DestPort string   `json:"destPort"`
	Grouping Grouping `json:"grouping"`
	Workers  []int    `json:"workers"` // ascending
}

// OutputMapping is one worker's routing table: output port => routes.
type OutputMapping map[string][]Route

// InputMapping tells a worker which PE it hosts and how many distinct upstream
// workers will each send it exactly one termination signal.
type InputMapping struct {
	PE            string `json:"pe"`            // "" if the worker hosts nothing
	Sources       int    `json:"sources"`       // len(SourceWorkers)
	SourceWorkers []int  `json:"sourceWorkers"` // ascending
}

// Inputs are externally provided data, keyed on PE id. Each element is one
// invocation: port => value. An empty map fires the PE with no input.
type Inputs map[string][]map[string]interface{}

// Plan is the result of partitioning and assignment. The coordinator computes
// it once and broadcasts it to every worker; workers treat it as read-only.
type Plan struct {
	Success     bool             `json:"success"`
	RunId       string           `json:"runId"`
	Partitioned bool             `json:"partitioned"`
	Assignment  map[string][]int `json:"assignment"` // PE id => workers, ascending
	Inputs      []InputMapping   `json:"inputs"`     // indexed by worker
	Outputs     []OutputMapping  `json:"outputs"`    // indexed by worker
	Provided    Inputs           `json:"provided"`   // remapped if partitioned
}

// Workers returns the number of workers used by the plan.
func (p Plan) Workers() int {
	n := 0
	for _, ranks := range p.Assignment {
		n += len(ranks)
	}
	return n
}

// ResultKey identifies an output port whose data had no further destination.
type ResultKey struct {
	PE   string
	Port string
}

func (k ResultKey) String() string {
	return k.PE + "." + k.Port
}

// Results are the values that reached unconnected output ports, in order.
type Results map[ResultKey][]interface{}

// Merge appends all values in r2 to r.
func (r Results) Merge(r2 Results) {
	for k, v := range r2 {
		r[k] = append(r[k], v...)
	}
}

// Status is reported by a worker's status endpoint.
type Status struct {
	Rank  int    `json:"rank"`
	PE    string `json:"pe"`
	State string `json:"state"`
}

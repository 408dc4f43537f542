// Copyright 2019, Square, Inc.

package runner

// Buffer collects data for a PE that needs one unit on each of several
// required ports before it fires. Units are queued per port in arrival order;
// round N is the Nth unit on every required port, so the arrival ordinal is
// the correlation token that matches units across ports.
type Buffer struct {
	required []string
	queues   map[string][]interface{}
}

// NewBuffer makes a Buffer for the required ports.
func NewBuffer(required []string) *Buffer {
	q := make(map[string][]interface{}, len(required))
	for _, port := range required {
		q[port] = nil
	}
	return &Buffer{
		required: required,
		queues:   q,
	}
}

// Add queues the required ports in unit. The remaining ports, if any, are
// returned: they do not take part in rounds and fire right away.
func (b *Buffer) Add(unit map[string]interface{}) map[string]interface{} {
	var rest map[string]interface{}
	for port, v := range unit {
		if _, ok := b.queues[port]; ok {
			b.queues[port] = append(b.queues[port], v)
			continue
		}
		if rest == nil {
			rest = map[string]interface{}{}
		}
		rest[port] = v
	}
	return rest
}

// Next removes and returns the oldest complete round. ok is false if some
// required port has no data.
func (b *Buffer) Next() (round map[string]interface{}, ok bool) {
	for _, port := range b.required {
		if len(b.queues[port]) == 0 {
			return nil, false
		}
	}
	round = make(map[string]interface{}, len(b.required))
	for _, port := range b.required {
		round[port] = b.queues[port][0]
		b.queues[port] = b.queues[port][1:]
	}
	return round, true
}

// Pending returns the number of queued units that are not part of a complete
// round yet.
func (b *Buffer) Pending() int {
	n := 0
	for _, q := range b.queues {
		n += len(q)
	}
	return n
}

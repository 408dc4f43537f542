// Copyright 2019, Square, Inc.

package mock

import (
	log "github.com/sirupsen/logrus"

	"github.com/square/peflow/graph"
)

// Write is one call to Context.Write.
type Write struct {
	Port string
	Data interface{}
}

// Context is a graph.Context that records writes.
type Context struct {
	WorkerContext graph.WorkerContext
	Writes        []Write
}

var _ graph.Context = &Context{}

func (c *Context) Write(port string, data interface{}) {
	c.Writes = append(c.Writes, Write{Port: port, Data: data})
}

func (c *Context) Log() log.FieldLogger {
	return log.WithField("mock", true)
}

func (c *Context) Worker() graph.WorkerContext {
	return c.WorkerContext
}

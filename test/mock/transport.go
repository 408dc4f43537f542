// Copyright 2019, Square, Inc.

package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/square/peflow/proto"
)

var (
	ErrNoMessages = errors.New("no more messages in mock inbox")
	ErrSend       = errors.New("forced error in send")
)

// Sent is one message sent through a Transport.
type Sent struct {
	Dest int
	Msg  proto.Message
}

// Transport is a runner.Transport that receives from a fixed inbox and
// records sends. Receive returns ErrNoMessages when the inbox is empty
// instead of blocking, which lets tests prove a runner kept reading.
type Transport struct {
	Inbox   []proto.Message
	SendErr error
	// --
	mux  sync.Mutex
	sent []Sent
}

func (t *Transport) Send(ctx context.Context, dest int, msg proto.Message) error {
	if t.SendErr != nil {
		return t.SendErr
	}
	t.mux.Lock()
	t.sent = append(t.sent, Sent{Dest: dest, Msg: msg})
	t.mux.Unlock()
	return nil
}

func (t *Transport) Receive(ctx context.Context) (proto.Message, error) {
	t.mux.Lock()
	defer t.mux.Unlock()
	if len(t.Inbox) == 0 {
		return proto.Message{}, ErrNoMessages
	}
	msg := t.Inbox[0]
	t.Inbox = t.Inbox[1:]
	return msg, nil
}

// Sent returns all messages sent so far, in order.
func (t *Transport) Sent() []Sent {
	t.mux.Lock()
	defer t.mux.Unlock()
	return append([]Sent(nil), t.sent...)
}

// SentTo returns the messages sent to dest with the given tag.
func (t *Transport) SentTo(dest int, tag byte) []proto.Message {
	var msgs []proto.Message
	for _, s := range t.Sent() {
		if s.Dest == dest && s.Msg.Tag == tag {
			msgs = append(msgs, s.Msg)
		}
	}
	return msgs
}

// Data returns a DATA message from source.
func Data(source int, port string, v interface{}) proto.Message {
	return proto.Message{Tag: proto.TAG_DATA, Source: source, Data: map[string]interface{}{port: v}}
}

// Terminated returns a TERMINATED message from source.
func Terminated(source int) proto.Message {
	return proto.Message{Tag: proto.TAG_TERMINATED, Source: source}
}

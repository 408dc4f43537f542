// Copyright 2019, Square, Inc.

package comm_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-test/deep"

	"github.com/square/peflow/comm"
	"github.com/square/peflow/graph"
	"github.com/square/peflow/proto"
	"github.com/square/peflow/runner"
	"github.com/square/peflow/test/mock"
)

// group starts n HTTP comms on httptest servers.
func group(t *testing.T, n int, repo runner.Repo) ([]*comm.HTTP, func()) {
	comms := make([]*comm.HTTP, n)
	servers := make([]*httptest.Server, n)
	peers := make([]string, n)
	for i := range servers {
		i := i
		servers[i] = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			comms[i].ServeHTTP(w, r)
		}))
		peers[i] = servers[i].URL
	}
	for i := range comms {
		comms[i] = comm.NewHTTP(comm.HTTPConfig{
			Rank:         i,
			Peers:        peers,
			Buffer:       10,
			WaitTries:    3,
			WaitInterval: 10 * time.Millisecond,
			Repo:         repo,
		})
	}
	return comms, func() {
		for _, s := range servers {
			s.Close()
		}
	}
}

func TestHTTPSendReceive(t *testing.T) {
	comms, cleanup := group(t, 2, nil)
	defer cleanup()

	ctx := context.Background()
	sent := []proto.Message{mock.Data(0, "input", "a"), mock.Data(0, "input", 2.5), mock.Terminated(0)}
	for _, msg := range sent {
		if err := comms[0].Send(ctx, 1, msg); err != nil {
			t.Fatal(err)
		}
	}
	var got []proto.Message
	for range sent {
		msg, err := comms[1].Receive(ctx)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, msg)
	}
	if diff := deep.Equal(got, sent); diff != nil {
		t.Error(diff)
	}

	// To self, without HTTP
	if err := comms[1].Send(ctx, 1, mock.Terminated(1)); err != nil {
		t.Fatal(err)
	}
	if msg, _ := comms[1].Receive(ctx); msg.Source != 1 {
		t.Errorf("got %s, expected termination from 1", msg)
	}
}

func TestHTTPBroadcast(t *testing.T) {
	comms, cleanup := group(t, 3, nil)
	defer cleanup()

	plan := proto.Plan{
		Success:    true,
		RunId:      "run1",
		Assignment: map[string][]int{"a": {0}, "b": {1, 2}},
		Inputs:     []proto.InputMapping{{PE: "a"}, {PE: "b", Sources: 1, SourceWorkers: []int{0}}, {PE: "b", Sources: 1, SourceWorkers: []int{0}}},
	}
	got := make(chan proto.Plan, 2)
	for _, c := range comms[1:] {
		go func(c *comm.HTTP) {
			var p proto.Plan
			if err := c.Broadcast(context.Background(), 0, &p); err != nil {
				t.Error(err)
			}
			got <- p
		}(c)
	}
	if err := comms[0].Broadcast(context.Background(), 0, &plan); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if diff := deep.Equal(<-got, plan); diff != nil {
			t.Error(diff)
		}
	}
}

func TestHTTPBroadcastPeerDown(t *testing.T) {
	c := comm.NewHTTP(comm.HTTPConfig{
		Rank:         0,
		Peers:        []string{"http://127.0.0.1:1", "http://127.0.0.1:1"},
		WaitTries:    2,
		WaitInterval: time.Millisecond,
	})
	if err := c.Broadcast(context.Background(), 0, &proto.Plan{}); err == nil {
		t.Error("no error broadcasting to a rank that is down")
	}
}

func TestHTTPBadMessage(t *testing.T) {
	comms, cleanup := group(t, 1, nil)
	defer cleanup()

	payload, _ := json.Marshal(proto.Message{Tag: 99})
	req := httptest.NewRequest("POST", comm.API_ROOT+"messages", bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	comms[0].ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, expected %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHTTPStatus(t *testing.T) {
	repo := runner.NewRepo()
	pe := mock.NewOneInOneOut()
	repo.Set(3, runner.New(runner.Config{
		PE:        pe,
		Worker:    graph.WorkerContext{ID: 3, PoolSize: 4},
		Transport: &mock.Transport{},
	}))
	comms, cleanup := group(t, 1, repo)
	defer cleanup()

	req := httptest.NewRequest("GET", comm.API_ROOT+"status", nil)
	rec := httptest.NewRecorder()
	comms[0].ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected %d", rec.Code, http.StatusOK)
	}
	body, _ := ioutil.ReadAll(rec.Body)
	var got []proto.Status
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	expect := []proto.Status{{Rank: 3, PE: pe.ID(), State: "READY"}}
	if diff := deep.Equal(got, expect); diff != nil {
		t.Error(diff)
	}
}

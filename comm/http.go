// Copyright 2019, Square, Inc.

package comm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo"
	"github.com/labstack/echo/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/square/peflow/proto"
	"github.com/square/peflow/retry"
	"github.com/square/peflow/runner"
)

const (
	API_ROOT = "/api/v1/"
)

var (
	ErrUnknownTag = errors.New("unknown message tag")
	ErrNoPlan     = errors.New("plan message without a plan")
)

// HTTPConfig configures one rank of an HTTP group.
type HTTPConfig struct {
	Rank         int
	Peers        []string      // base URL of every rank, indexed by rank, ex: http://10.0.0.1:9340
	Buffer       int           // messages received but not yet read
	WaitTries    int           // pings per peer before Broadcast gives up
	WaitInterval time.Duration // between pings
	Client       *http.Client  // optional, default http.DefaultClient
	Repo         runner.Repo   // optional, runners reported by the status endpoint
}

// HTTP is a Comm for ranks in different processes. Every rank runs an echo
// server that accepts messages from its peers; sending a message is a POST to
// the destination rank, which returns once the message is in its inbox. Data
// is sent as JSON, so numbers arrive as float64.
type HTTP struct {
	cfg    HTTPConfig
	client *client
	inbox  chan proto.Message
	plans  chan proto.Plan
	logger *log.Entry
	// --
	echo *echo.Echo
}

// NewHTTP makes an HTTP comm and registers its routes. Call Run to start
// serving, or use it as an http.Handler.
func NewHTTP(cfg HTTPConfig) *HTTP {
	c := cfg.Client
	if c == nil {
		c = http.DefaultClient
	}
	if cfg.WaitTries < 1 {
		cfg.WaitTries = 1
	}
	h := &HTTP{
		cfg:    cfg,
		client: &client{Client: c},
		inbox:  make(chan proto.Message, cfg.Buffer),
		plans:  make(chan proto.Plan, 1),
		logger: log.WithFields(log.Fields{"rank": cfg.Rank, "comm": "http"}),
		// --
		echo: echo.New(),
	}

	// //////////////////////////////////////////////////////////////////////
	// Routes
	// //////////////////////////////////////////////////////////////////////
	// Deliver a message to this rank.
	h.echo.POST(API_ROOT+"messages", h.messagesHandler)
	// Liveness, used by the coordinator before it broadcasts.
	h.echo.GET(API_ROOT+"ping", h.pingHandler)
	// State of the runners on this rank.
	h.echo.GET(API_ROOT+"status", h.statusHandler)

	// //////////////////////////////////////////////////////////////////////
	// Middleware
	// //////////////////////////////////////////////////////////////////////
	h.echo.Use(middleware.Recover())
	h.echo.Use(middleware.Logger())

	return h
}

// Run serves on addr until Shutdown is called.
func (h *HTTP) Run(addr string) error {
	err := h.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// RunTLS is Run with TLS.
func (h *HTTP) RunTLS(addr, certFile, keyFile string) error {
	err := h.echo.StartTLS(addr, certFile, keyFile)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server started by Run or RunTLS.
func (h *HTTP) Shutdown(ctx context.Context) error {
	if err := h.echo.TLSServer.Shutdown(ctx); err != nil {
		return err
	}
	return h.echo.Server.Shutdown(ctx)
}

func (h *HTTP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.echo.ServeHTTP(w, r)
}

func (h *HTTP) Rank() int { return h.cfg.Rank }
func (h *HTTP) Size() int { return len(h.cfg.Peers) }

func (h *HTTP) Send(ctx context.Context, dest int, msg proto.Message) error {
	if dest == h.cfg.Rank {
		return h.deliver(ctx, msg)
	}
	if dest < 0 || dest >= len(h.cfg.Peers) {
		return fmt.Errorf("no rank %d in group of %d", dest, len(h.cfg.Peers))
	}
	return h.client.send(ctx, h.cfg.Peers[dest], msg)
}

func (h *HTTP) Receive(ctx context.Context) (proto.Message, error) {
	select {
	case msg := <-h.inbox:
		return msg, nil
	case <-ctx.Done():
		return proto.Message{}, ctx.Err()
	}
}

// Broadcast waits for every peer to answer a ping before it sends the plan to
// any of them. Peers start in any order, and a peer that has the plan starts
// sending data to other peers right away.
func (h *HTTP) Broadcast(ctx context.Context, root int, plan *proto.Plan) error {
	if h.cfg.Rank != root {
		select {
		case p := <-h.plans:
			*plan = p
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for rank, peer := range h.cfg.Peers {
		if rank == root {
			continue
		}
		rank, peer := rank, peer
		err := retry.Do(ctx, h.cfg.WaitTries, h.cfg.WaitInterval,
			func() error { return h.client.ping(ctx, peer) },
			func(err error) { h.logger.Infof("waiting for rank %d: %s", rank, err) },
		)
		if err != nil {
			return fmt.Errorf("rank %d not ready: %s", rank, err)
		}
	}
	msg := proto.Message{Tag: proto.TAG_PLAN, Source: root, Plan: plan}
	for rank, peer := range h.cfg.Peers {
		if rank == root {
			continue
		}
		if err := h.client.send(ctx, peer, msg); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------

func (h *HTTP) deliver(ctx context.Context, msg proto.Message) error {
	switch msg.Tag {
	case proto.TAG_DATA, proto.TAG_TERMINATED:
		select {
		case h.inbox <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	case proto.TAG_PLAN:
		if msg.Plan == nil {
			return ErrNoPlan
		}
		select {
		case h.plans <- *msg.Plan:
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return ErrUnknownTag
	}
	return nil
}

// ============================== CONTROLLERS ============================== //

// POST <API_ROOT>/messages
// Put a message in this rank's inbox. Blocks while the inbox is full.
func (h *HTTP) messagesHandler(c echo.Context) error {
	var msg proto.Message
	if err := c.Bind(&msg); err != nil {
		return err
	}
	h.logger.Debugf("received %s", msg)
	if err := h.deliver(c.Request().Context(), msg); err != nil {
		return handleError(err)
	}
	return c.NoContent(http.StatusOK)
}

// GET <API_ROOT>/ping
func (h *HTTP) pingHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{"rank": h.cfg.Rank, "size": len(h.cfg.Peers)})
}

// GET <API_ROOT>/status
// Report the state of every runner on this rank.
func (h *HTTP) statusHandler(c echo.Context) error {
	status := []proto.Status{}
	if h.cfg.Repo != nil {
		status = h.cfg.Repo.Status()
	}
	return c.JSON(http.StatusOK, status)
}

func handleError(err error) *echo.HTTPError {
	switch err {
	case ErrUnknownTag, ErrNoPlan:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case context.Canceled, context.DeadlineExceeded:
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

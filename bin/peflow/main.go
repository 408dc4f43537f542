// Copyright 2019, Square, Inc.

// peflow runs one of the built-in workflows. With --local it runs the whole
// graph in this process. Otherwise it runs one rank of a distributed run: start
// one peflow per peer in the config, each with its own --rank.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	log "github.com/sirupsen/logrus"

	"github.com/square/peflow/comm"
	"github.com/square/peflow/config"
	"github.com/square/peflow/engine"
	"github.com/square/peflow/mpi"
	"github.com/square/peflow/proto"
	"github.com/square/peflow/runner"
	"github.com/square/peflow/util"
	"github.com/square/peflow/version"
	"github.com/square/peflow/workflows"
)

var cmd struct {
	Config   string `arg:"env:PEFLOW_CONFIG" help:"config file"`
	Rank     int    `help:"rank of this process, overrides config"`
	Workflow string `help:"workflow to run, overrides config"`
	Units    int    `help:"data units given to the source PE, overrides config"`
	Simple   bool   `help:"always partition the graph"`
	Local    bool   `help:"run the whole graph in this process"`
	Dot      bool   `help:"print the workflow graph in DOT format and exit"`
	Debug    bool   `help:"debug logging"`
	Version  bool   `help:"print version and exit"`
}

func main() {
	cmd.Rank = -1
	arg.MustParse(&cmd)
	if cmd.Version {
		fmt.Println("peflow " + version.Version())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Error loading config: %s", err)
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log_level: %s", err)
	}
	log.SetLevel(level)
	if cmd.Debug {
		log.SetLevel(log.DebugLevel)
	}

	wf, err := workflows.Builtin.Make(cfg.Workflow, cfg.Units)
	if err != nil {
		log.Fatalf("Error making workflow %s: %s (workflows: %v)", cfg.Workflow, err, workflows.Names())
	}
	if cmd.Dot {
		wf.Graph.PrintDot(os.Stdout)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Warnf("caught %s, stopping", s)
		cancel()
	}()

	var results proto.Results
	if cmd.Local {
		results, err = engine.Run(ctx, wf.Graph, wf.Inputs, engine.Options{Backend: engine.BACKEND_LOCAL})
	} else {
		results, err = runRank(ctx, cfg, wf)
	}
	if err != nil {
		log.Fatalf("Run failed: %s", err)
	}
	printResults(results)
}

func loadConfig() (config.Worker, error) {
	cfg := config.Defaults()
	if cmd.Config != "" {
		var err error
		if cfg, err = config.Load(cmd.Config); err != nil {
			return cfg, err
		}
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	if cmd.Rank >= 0 {
		cfg.Rank = cmd.Rank
	}
	if cmd.Workflow != "" {
		cfg.Workflow = cmd.Workflow
	}
	if cmd.Units > 0 {
		cfg.Units = cmd.Units
	}
	if cmd.Simple {
		cfg.Simple = true
	}
	return cfg, nil
}

func runRank(ctx context.Context, cfg config.Worker, wf workflows.Workflow) (proto.Results, error) {
	client, err := util.NewHTTPClient(cfg.Client)
	if err != nil {
		return nil, err
	}
	repo := runner.NewRepo()
	h := comm.NewHTTP(comm.HTTPConfig{
		Rank:         cfg.Rank,
		Peers:        cfg.Peers,
		Buffer:       cfg.Buffer,
		WaitTries:    cfg.WaitTries,
		WaitInterval: time.Duration(cfg.WaitInterval) * time.Millisecond,
		Client:       client,
		Repo:         repo,
	})

	go func() {
		var err error
		if cfg.Server.CertFile != "" && cfg.Server.KeyFile != "" {
			err = h.RunTLS(cfg.ListenAddress, cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = h.Run(cfg.ListenAddress)
		}
		if err != nil {
			log.Fatalf("Rank %d server stopped: %s", cfg.Rank, err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Error stopping server: %s", err)
		}
	}()

	return mpi.Process(ctx, h, wf.Graph, wf.Inputs, mpi.Options{Simple: cfg.Simple, Repo: repo})
}

func printResults(results proto.Results) {
	keys := make([]proto.ResultKey, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, k := range keys {
		fmt.Printf("%s: %v\n", k, results[k])
	}
}

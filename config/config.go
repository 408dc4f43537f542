// Copyright 2019, Square, Inc.

package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

///////////////////////////////////////////////////////////////////////////////
// High-Level Config Structs
///////////////////////////////////////////////////////////////////////////////

// The config used by one peflow rank. This is read from in bin/peflow/main.go.
// Every rank of a run must have the same Peers, Workflow and Units.
type Worker struct {
	// The config that the rank's web server will run with. Peers send
	// messages to this address.
	Server

	// This rank. Rank 0 is the coordinator.
	Rank int `yaml:"rank"`

	// The base URL of every rank, indexed by rank (ex: http://10.0.0.1:9340).
	// The number of peers is the size of the worker pool.
	Peers []string `yaml:"peers"`

	// The config of the client used to send messages to peers.
	Client HTTPClient `yaml:"client"`

	// The number of messages a rank holds before senders block.
	Buffer int `yaml:"buffer"`

	// Always partition the graph, even if it fits on the ranks as is.
	Simple bool `yaml:"simple"`

	// The workflow to run (ex: "wordcount") and the number of data units to
	// give its source PE.
	Workflow string `yaml:"workflow"`
	Units    int    `yaml:"units"`

	// The logrus level: debug, info, warning, error.
	LogLevel string `yaml:"log_level"`

	// How many times, and how often in milliseconds, the coordinator pings
	// a peer before it gives up on the run.
	WaitTries    int `yaml:"wait_tries"`
	WaitInterval int `yaml:"wait_interval"`
}

///////////////////////////////////////////////////////////////////////////////
// Config Components
///////////////////////////////////////////////////////////////////////////////

// Configuration for a web server.
type Server struct {
	// The address the server will listen on (ex: "127.0.0.1:80").
	ListenAddress string `yaml:"listen_address"`

	// The TLS config used by the server.
	TLS `yaml:"tls_config"`
}

// Configuration for an HTTP client.
type HTTPClient struct {
	// The TLS config used by the client.
	TLS `yaml:"tls_config"`
}

// TLS configuration.
type TLS struct {
	// The certificate file to use.
	CertFile string `yaml:"cert_file"`

	// The key file to use.
	KeyFile string `yaml:"key_file"`

	// The CA file to use.
	CAFile string `yaml:"ca_file"`
}

// Defaults returns a Worker config for a single local rank. Fields not set
// in a config file keep these values.
func Defaults() Worker {
	return Worker{
		Server: Server{
			ListenAddress: "127.0.0.1:9340",
		},
		Peers:        []string{"http://127.0.0.1:9340"},
		Buffer:       100,
		Workflow:     "pipeline",
		Units:        5,
		LogLevel:     "info",
		WaitTries:    30,
		WaitInterval: 1000,
	}
}

///////////////////////////////////////////////////////////////////////////////
// Loading Config
///////////////////////////////////////////////////////////////////////////////

// Load reads a Worker config file over Defaults: fields the file does not set
// keep their default. Unknown fields are an error so that a misspelled key
// does not silently run with a default.
func Load(configFile string) (Worker, error) {
	cfg := Defaults()
	data, err := ioutil.ReadFile(configFile)
	if err != nil {
		return cfg, err
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %s", configFile, err)
	}
	return cfg, nil
}

// Env returns the value of the environment variable name, or def if it is
// not set.
func Env(name, def string) string {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	return v
}

// ApplyEnv overrides cfg with the PEFLOW_* environment variables that are
// set: PEFLOW_RANK, PEFLOW_LISTEN_ADDRESS, PEFLOW_WORKFLOW and PEFLOW_LOG_LEVEL.
func ApplyEnv(cfg *Worker) error {
	if v := Env("PEFLOW_RANK", ""); v != "" {
		rank, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		cfg.Rank = rank
	}
	cfg.ListenAddress = Env("PEFLOW_LISTEN_ADDRESS", cfg.ListenAddress)
	cfg.Workflow = Env("PEFLOW_WORKFLOW", cfg.Workflow)
	cfg.LogLevel = Env("PEFLOW_LOG_LEVEL", cfg.LogLevel)
	return nil
}

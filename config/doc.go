/*
Copyright 2019, Square, Inc.

Package config provides the ability to load config files into predefined
structures that are used by peflow. Specifically, each rank started by
bin/peflow/main.go loads a Worker struct. It provides all of the config
information needed to run one rank of a distributed run.

Types of config structs provided by this package:

* Worker: all of the config needed to run a rank

* Server: the configuration for running a webserver (ex: the listen address the
  server should run on, the TLS config the server should run with, etc.)

* HTTPClient: the configuration to use for the HTTP client that sends messages
  to peer ranks

* TLS: the configuration for constructing a Go tls.Config (ex: the CA cert file
  to use, the key file to use, etc.)

Load reads a file over Defaults; ApplyEnv then applies PEFLOW_* env vars.
*/
package config

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Command jsonrpcd serves an example calculator over JSON-RPC.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/juju/jsonrpc/rpc/rpcreflect"
)

var logger = loggo.GetLogger("jsonrpc.cmd.jsonrpcd")

func main() {
	os.Exit(Main(os.Args[1:], os.Stderr))
}

// Main runs the daemon with the given command line arguments and returns
// the process exit code.
func Main(args []string, stderr io.Writer) int {
	cfg, err := parseArgs(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return 2
	}
	if err := loggo.ConfigureLoggers(cfg.LoggingConfig); err != nil {
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	return 0
}

// parseArgs returns the configuration given by the command line. Flags
// override the values read from the configuration file.
func parseArgs(args []string, stderr io.Writer) (Config, error) {
	var (
		configPath string
		overrides  Config
	)
	flags := gnuflag.NewFlagSet("jsonrpcd", gnuflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&configPath, "config", "", "path to a YAML configuration file")
	flags.StringVar(&overrides.TCPAddress, "tcp", "", "address to serve JSON-RPC over TCP on")
	flags.StringVar(&overrides.WebsocketAddress, "websocket", "", "address to serve JSON-RPC over websockets on")
	flags.StringVar(&overrides.MetricsAddress, "metrics", "", "address to serve Prometheus metrics on")
	flags.StringVar(&overrides.LoggingConfig, "logging-config", "", "loggo configuration, for example <root>=DEBUG")
	flags.BoolVar(&overrides.LogMessages, "log-messages", false, "log every message sent and received")
	if err := flags.Parse(true, args); err != nil {
		return Config{}, errors.Trace(err)
	}
	if extra := flags.Args(); len(extra) > 0 {
		return Config{}, errors.Errorf("unrecognized arguments: %q", extra)
	}

	cfg := DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = ReadConfig(configPath); err != nil {
			return Config{}, errors.Trace(err)
		}
	}
	if overrides.TCPAddress != "" {
		cfg.TCPAddress = overrides.TCPAddress
	}
	if overrides.WebsocketAddress != "" {
		cfg.WebsocketAddress = overrides.WebsocketAddress
	}
	if overrides.MetricsAddress != "" {
		cfg.MetricsAddress = overrides.MetricsAddress
	}
	if overrides.LoggingConfig != "" {
		cfg.LoggingConfig = overrides.LoggingConfig
	}
	if overrides.LogMessages {
		cfg.LogMessages = true
	}
	return cfg, errors.Trace(cfg.Validate())
}

func run(ctx context.Context, cfg Config) error {
	registry := rpcreflect.NewRegistry()
	if err := (Calculator{}).Register(registry); err != nil {
		return errors.Trace(err)
	}
	promRegistry := prometheus.NewRegistry()
	srv, err := NewServer(cfg, registry, promRegistry, promRegistry)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(srv.Run(ctx))
}

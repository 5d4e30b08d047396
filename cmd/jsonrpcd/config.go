// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"os"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the daemon configuration.
type Config struct {
	// TCPAddress is the address on which newline separated JSON-RPC
	// is served. It is not served if empty.
	TCPAddress string `yaml:"tcp-address"`

	// WebsocketAddress is the address on which JSON-RPC over
	// websockets is served. It is not served if empty.
	WebsocketAddress string `yaml:"websocket-address"`

	// MetricsAddress is the address of the Prometheus endpoint. It is
	// not served if empty.
	MetricsAddress string `yaml:"metrics-address"`

	// LoggingConfig holds the loggo logging configuration.
	LoggingConfig string `yaml:"logging-config"`

	// LogMessages enables logging of every message sent and received.
	LogMessages bool `yaml:"log-messages"`
}

// DefaultConfig returns the configuration used when no configuration
// file is given.
func DefaultConfig() Config {
	return Config{
		TCPAddress:    "localhost:7070",
		LoggingConfig: "<root>=INFO",
	}
}

// Validate returns an error if the config cannot be used to run the
// daemon.
func (c Config) Validate() error {
	if c.TCPAddress == "" && c.WebsocketAddress == "" {
		return errors.NotValidf("config without tcp-address or websocket-address")
	}
	return nil
}

// ReadConfig reads the YAML configuration file at path. Values not set
// in the file keep their defaults.
func ReadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}, errors.NotFoundf("config file %q", path)
	} else if err != nil {
		return Config{}, errors.Trace(err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Annotatef(err, "parsing %q", path)
	}
	return cfg, nil
}

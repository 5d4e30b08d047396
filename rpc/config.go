// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package rpc

import (
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/juju/jsonrpc/rpc/dispatch"
	"github.com/juju/jsonrpc/rpc/params"
	"github.com/juju/jsonrpc/rpc/rpcreflect"
)

// Codec implements reading and writing of messages in an RPC session.
// ReadMessage is only called from the connection's read loop, and calls
// to WriteMessage are serialised by the connection.
type Codec interface {
	// ReadMessage reads the next message into msg. It returns io.EOF
	// when the session has ended.
	ReadMessage(msg *params.Message) error

	// WriteMessage writes msg.
	WriteMessage(msg *params.Message) error

	// Close closes the codec. It may be called concurrently with
	// ReadMessage and should cause it to return.
	Close() error
}

// Logger represents the logging methods used by a connection.
type Logger interface {
	Errorf(string, ...any)
	Warningf(string, ...any)
	Debugf(string, ...any)
	Tracef(string, ...any)
}

// Config holds the configuration and dependencies of a connection.
type Config struct {
	// Codec carries messages to and from the remote side.
	Codec Codec

	// Registry holds the methods served to the remote side.
	Registry *rpcreflect.Registry

	// Converter converts wire values into method arguments and
	// progress values.
	Converter dispatch.Converter

	// Clock is used to time inbound requests.
	Clock clock.Clock

	// Logger is used for all connection logging.
	Logger Logger

	// Metrics, if set, receives the connection's request metrics.
	Metrics *Collector
}

// Validate returns an error if the config cannot be used to start
// a connection.
func (config Config) Validate() error {
	if config.Codec == nil {
		return errors.NotValidf("nil Codec")
	}
	if config.Registry == nil {
		return errors.NotValidf("nil Registry")
	}
	if config.Converter == nil {
		return errors.NotValidf("nil Converter")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

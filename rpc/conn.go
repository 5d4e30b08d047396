// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package rpc

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"
	"github.com/juju/worker/v4"
	"gopkg.in/tomb.v2"

	"github.com/juju/jsonrpc/rpc/dispatch"
	"github.com/juju/jsonrpc/rpc/params"
	"github.com/juju/jsonrpc/rpc/progress"
	"github.com/juju/jsonrpc/rpc/rpcreflect"
)

// ErrShutdown is returned when a request is made on a connection that is
// shutting down.
const ErrShutdown = errors.ConstError("connection is shut down")

// IsShutdownErr returns true if the error is ErrShutdown.
func IsShutdownErr(err error) bool {
	return errors.Is(err, ErrShutdown)
}

// Note that we use "client request" and "server request" to name
// requests initiated locally and remotely respectively.

// Conn represents an RPC endpoint. It can both initiate and receive
// RPC requests. Conn is a worker: it runs until killed or until the
// remote side goes away.
type Conn struct {
	tomb tomb.Tomb
	id   string

	codec     Codec
	registry  *rpcreflect.Registry
	converter dispatch.Converter
	clock     clock.Clock
	logger    Logger
	metrics   *Collector

	// hub carries the lifecycle events of client requests.
	hub   *pubsub.SimpleHub
	table *progress.Table
	state *formatterState

	// reports delivers inbound progress values.
	reports *reportQueue

	// sending guards the write side of the codec - it ensures
	// that codec.WriteMessage is not called concurrently.
	sending sync.Mutex

	// mu guards the following values.
	mu sync.Mutex

	// reqID holds the latest client request id.
	reqID int64

	// clientPending holds all pending client requests.
	clientPending map[params.RequestID]*Call

	// serverPending holds the cancel functions of running server
	// requests.
	serverPending map[params.RequestID]context.CancelFunc

	// closing is set once the connection starts shutting down. No
	// more client requests are sent after it is set.
	closing bool
}

var _ worker.Worker = (*Conn)(nil)

// NewConn starts a connection on the codec in the config.
func NewConn(config Config) (*Conn, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetricsCollector()
	}
	conn := &Conn{
		id:        uuid.NewString(),
		codec:     config.Codec,
		registry:  config.Registry,
		converter: config.Converter,
		clock:     config.Clock,
		logger:    config.Logger,
		metrics:   metrics,
		hub: pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
			Logger: loggo.GetLogger("jsonrpc.rpc.hub"),
		}),
		state:         &formatterState{},
		reports:       newReportQueue(),
		clientPending: make(map[params.RequestID]*Call),
		serverPending: make(map[params.RequestID]context.CancelFunc),
	}
	table, err := progress.NewTable(progress.Config{
		FormatterState: conn.state,
		Notifier:       conn,
		Logger:         conn.logger,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	conn.table = table
	unwatch := table.Watch(conn.hub)
	untrack := metrics.track(table)

	conn.tomb.Go(func() error {
		defer untrack()
		defer unwatch()
		err := conn.loop()
		conn.tomb.Kill(err)
		conn.terminateClientRequests()
		return err
	})
	conn.tomb.Go(func() error {
		return conn.reports.run(conn.tomb.Dying())
	})
	conn.tomb.Go(func() error {
		<-conn.tomb.Dying()
		conn.mu.Lock()
		conn.closing = true
		conn.mu.Unlock()
		if err := conn.codec.Close(); err != nil {
			conn.logger.Debugf("[%s] error closing codec: %v", conn.id, err)
		}
		return nil
	})
	conn.logger.Debugf("[%s] connection started", conn.id)
	return conn, nil
}

// ID returns the identifier of the connection used in log messages.
func (conn *Conn) ID() string {
	return conn.id
}

// Kill is part of the worker.Worker interface.
func (conn *Conn) Kill() {
	conn.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (conn *Conn) Wait() error {
	return conn.tomb.Wait()
}

// Dead returns a channel that is closed when the connection has
// stopped.
func (conn *Conn) Dead() <-chan struct{} {
	return conn.tomb.Dead()
}

// loop reads messages from the connection and handles them
// appropriately.
func (conn *Conn) loop() error {
	for {
		var msg params.Message
		err := conn.codec.ReadMessage(&msg)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return errors.Trace(err)
		}
		switch {
		case msg.IsResponse():
			conn.handleResponse(&msg)
		case msg.Method != "":
			if err := conn.handleRequest(&msg); err != nil {
				return errors.Trace(err)
			}
		default:
			conn.logger.Warningf("[%s] discarding message with neither method nor id", conn.id)
		}
	}
}

// terminateClientRequests fails every pending client request once the
// read loop has finished.
func (conn *Conn) terminateClientRequests() {
	conn.mu.Lock()
	conn.closing = true
	pending := conn.clientPending
	conn.clientPending = make(map[params.RequestID]*Call)
	conn.mu.Unlock()

	for id, call := range pending {
		call.Error = ErrShutdown
		call.done(conn.logger)
		conn.hub.Publish(progress.RequestAbortedTopic, id)
	}
}

func (conn *Conn) isClosing() bool {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.closing
}

// formatterState records the client request whose arguments are being
// serialised. It is only changed and consulted with Conn.sending held.
type formatterState struct {
	mu     sync.Mutex
	id     params.RequestID
	active bool
}

func (s *formatterState) begin(id params.RequestID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	s.active = true
}

func (s *formatterState) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = params.RequestID{}
	s.active = false
}

// SerializingRequestID implements progress.FormatterState.
func (s *formatterState) SerializingRequestID() (params.RequestID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.active
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"sync"

	"github.com/juju/errors"

	"github.com/juju/jsonrpc/rpc/dispatch"
	"github.com/juju/jsonrpc/rpc/params"
	"github.com/juju/jsonrpc/rpc/progress"
)

// handleRequest handles a request or notification from the remote
// side. Methods run on their own goroutine; the returned error is only
// set when the connection can no longer be used.
func (conn *Conn) handleRequest(msg *params.Message) error {
	req, err := params.DecodeRequest(msg)
	if err != nil {
		if msg.IsNotification() {
			conn.logger.Debugf("[%s] discarding notification %q: %v", conn.id, msg.Method, err)
			return nil
		}
		return conn.writeErrorResponse(*msg.ID, err)
	}

	switch req.Method {
	case progress.MethodName:
		conn.handleProgress(req)
		return nil
	case CancelRequestMethod:
		conn.handleCancel(req)
		return nil
	}

	target := dispatch.Resolve(req, conn.registry.Candidates(req.Method), progressConverter{
		table: conn.table,
		next:  conn.converter,
	})
	ctx, cancel := context.WithCancel(conn.tomb.Context(context.Background()))
	if !req.IsNotification() {
		conn.mu.Lock()
		_, duplicate := conn.serverPending[req.ID]
		if !duplicate {
			conn.serverPending[req.ID] = cancel
		}
		conn.mu.Unlock()
		if duplicate {
			cancel()
			return conn.writeErrorResponse(req.ID, &params.Error{
				Code:    params.CodeInvalidRequest,
				Message: "request id " + req.ID.String() + " already in use",
			})
		}
	}
	conn.tomb.Go(func() error {
		conn.runRequest(ctx, cancel, req, target)
		return nil
	})
	return nil
}

// runRequest invokes the resolved method and sends the reply.
func (conn *Conn) runRequest(ctx context.Context, cancel context.CancelFunc, req params.Request, target *dispatch.TargetMethod) {
	defer cancel()

	start := conn.clock.Now()
	result, err := target.Invoke(ctx)
	conn.metrics.observe(req.Method, target.IsFound(), err, conn.clock.Now().Sub(start))

	if req.IsNotification() {
		if err != nil {
			conn.logger.Debugf("[%s] notification %q failed: %v", conn.id, req.Method, err)
		}
		return
	}

	conn.mu.Lock()
	delete(conn.serverPending, req.ID)
	conn.mu.Unlock()

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = &params.Error{
			Code:    params.CodeRequestCancelled,
			Message: err.Error(),
		}
	}
	select {
	case <-conn.tomb.Dying():
		conn.logger.Tracef("[%s] not replying to request %s: connection is closing", conn.id, req.ID)
		return
	default:
	}
	if err != nil {
		err = conn.writeErrorResponse(req.ID, err)
	} else {
		err = conn.writeResponse(req.ID, result)
	}
	if err != nil {
		conn.logger.Errorf("[%s] error writing response: %v", conn.id, err)
	}
}

func (conn *Conn) writeResponse(id params.RequestID, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return conn.writeErrorResponse(id, &params.Error{
			Code:    params.CodeInternalError,
			Message: errors.Annotate(err, "cannot encode result").Error(),
		})
	}
	conn.sending.Lock()
	defer conn.sending.Unlock()
	return errors.Trace(conn.codec.WriteMessage(&params.Message{
		ID:     &id,
		Result: raw,
	}))
}

func (conn *Conn) writeErrorResponse(id params.RequestID, err error) error {
	conn.sending.Lock()
	defer conn.sending.Unlock()
	return errors.Trace(conn.codec.WriteMessage(&params.Message{
		ID:    &id,
		Error: params.ServerError(err),
	}))
}

// progressParams holds the parameters of a progress notification sent
// by name.
type progressParams struct {
	Token int64           `json:"token"`
	Value json.RawMessage `json:"value"`
}

// handleProgress delivers a progress value sent by the remote side to
// the progress object registered for its token.
func (conn *Conn) handleProgress(req params.Request) {
	var p progressParams
	var err error
	switch {
	case req.IsNamed():
		err = json.Unmarshal(req.NamedArguments, &p)
	case len(req.Arguments) == 2:
		err = json.Unmarshal(req.Arguments[0], &p.Token)
		p.Value = req.Arguments[1]
	default:
		err = errors.NotValidf("%d progress parameters", len(req.Arguments))
	}
	if err != nil {
		conn.logger.Warningf("[%s] discarding progress: %v", conn.id, err)
		return
	}

	reg, ok := conn.table.ProgressObject(p.Token)
	if !ok {
		// The request that carried the token has finished.
		conn.logger.Tracef("[%s] discarding progress for unknown token %d", conn.id, p.Token)
		return
	}
	value, err := conn.converter.Convert(p.Value, reg.ValueType)
	if err != nil {
		conn.logger.Warningf("[%s] discarding progress for token %d: %v", conn.id, p.Token, err)
		return
	}
	conn.reports.push(func() {
		reg.Report(value)
	})
}

// reportQueue delivers inbound progress values to their progress
// objects in arrival order, away from the read loop. Progress objects
// may therefore make calls on the connection that reported to them.
type reportQueue struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
}

func newReportQueue() *reportQueue {
	return &reportQueue{wake: make(chan struct{}, 1)}
}

func (q *reportQueue) push(report func()) {
	q.mu.Lock()
	q.pending = append(q.pending, report)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// run delivers queued values until dying is closed. Values still
// queued at that point are dropped.
func (q *reportQueue) run(dying <-chan struct{}) error {
	for {
		select {
		case <-dying:
			return nil
		case <-q.wake:
		}
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()
		for _, report := range batch {
			report()
		}
	}
}

// handleCancel cancels the context of a running server request.
func (conn *Conn) handleCancel(req params.Request) {
	var p cancelParams
	var err error
	switch {
	case req.IsNamed():
		err = json.Unmarshal(req.NamedArguments, &p)
	case len(req.Arguments) == 1:
		err = json.Unmarshal(req.Arguments[0], &p.ID)
	default:
		err = errors.NotValidf("%d cancel parameters", len(req.Arguments))
	}
	if err != nil {
		conn.logger.Warningf("[%s] discarding cancellation: %v", conn.id, err)
		return
	}

	conn.mu.Lock()
	cancel, ok := conn.serverPending[p.ID]
	conn.mu.Unlock()
	if !ok {
		conn.logger.Tracef("[%s] cancellation of finished request %s", conn.id, p.ID)
		return
	}
	conn.logger.Debugf("[%s] cancelling request %s", conn.id, p.ID)
	cancel()
}

// progressConverter binds parameters of type *progress.Reporter[T] from
// the token sent in their place, and converts all other parameters with
// the next converter.
type progressConverter struct {
	table *progress.Table
	next  dispatch.Converter
}

// Convert implements dispatch.Converter.
func (c progressConverter) Convert(value json.RawMessage, t reflect.Type) (reflect.Value, error) {
	if !progress.IsReporterType(t) {
		return c.next.Convert(value, t)
	}
	if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
		return reflect.Zero(t), nil
	}
	var token int64
	if err := json.Unmarshal(value, &token); err != nil {
		return reflect.Value{}, errors.NotValidf("progress token %s", value)
	}
	return c.table.CreateProgress(t, token)
}

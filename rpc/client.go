// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package rpc

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/juju/errors"

	"github.com/juju/jsonrpc/rpc/params"
	"github.com/juju/jsonrpc/rpc/progress"
)

// CancelRequestMethod is the method of the notification sent when a
// client request is abandoned before its response arrives.
const CancelRequestMethod = "$/cancelRequest"

// cancelParams holds the parameters of a cancel notification.
type cancelParams struct {
	ID params.RequestID `json:"id"`
}

// Call represents an active RPC.
type Call struct {
	Method string
	Result any
	Error  error
	Done   chan *Call
}

func (call *Call) done(logger Logger) {
	select {
	case call.Done <- call:
		// ok
	default:
		// We don't want to block here. It is the caller's
		// responsibility to make sure the channel has enough buffer
		// space.
		logger.Errorf("discarding Call reply due to insufficient Done chan capacity")
	}
}

// Call invokes the named method on the remote side with the given
// arguments and stores the result in result, which should be a pointer,
// or nil to discard the result. Progress objects among the arguments are
// sent as tokens; values reported to the token by the remote side are
// delivered to them until the call returns.
//
// If the method fails remotely, the error is a *params.Error. If ctx is
// done before the response arrives, the request is abandoned and the
// remote side is asked to cancel it.
func (conn *Conn) Call(ctx context.Context, method string, result any, args ...any) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	call := &Call{
		Method: method,
		Result: result,
		Done:   make(chan *Call, 1),
	}
	id, err := conn.send(call, args)
	if err != nil {
		return errors.Trace(err)
	}

	select {
	case <-ctx.Done():
		conn.abandon(id)
		return context.Cause(ctx)
	case reply := <-call.Done:
		return reply.Error
	}
}

// Notify sends the named notification. No response is expected.
func (conn *Conn) Notify(ctx context.Context, method string, args ...any) error {
	return conn.notify(ctx, method, args)
}

// NotifyWithTypes sends the named notification, checking first that
// each argument is assignable to its declared type.
func (conn *Conn) NotifyWithTypes(ctx context.Context, method string, args []any, types []reflect.Type) error {
	if len(args) != len(types) {
		return errors.NotValidf("%d argument types for %d arguments", len(types), len(args))
	}
	for i, arg := range args {
		if !assignable(arg, types[i]) {
			return errors.NotValidf("argument %d of type %T as %s", i, arg, types[i])
		}
	}
	return conn.notify(ctx, method, args)
}

func assignable(arg any, t reflect.Type) bool {
	if arg == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return true
		}
		return false
	}
	return reflect.TypeOf(arg).AssignableTo(t)
}

// send registers the call and writes its request. The request id is
// returned once the request has been written.
func (conn *Conn) send(call *Call, args []any) (params.RequestID, error) {
	conn.sending.Lock()
	defer conn.sending.Unlock()

	conn.mu.Lock()
	if conn.closing {
		conn.mu.Unlock()
		return params.RequestID{}, ErrShutdown
	}
	conn.reqID++
	id := params.NumberID(conn.reqID)
	conn.clientPending[id] = call
	conn.mu.Unlock()

	err := conn.writeRequest(id, call.Method, args)
	if err != nil {
		conn.mu.Lock()
		delete(conn.clientPending, id)
		conn.mu.Unlock()
		conn.hub.Publish(progress.RequestAbortedTopic, id)
		return id, errors.Annotatef(err, "sending request %s", id)
	}
	return id, nil
}

func (conn *Conn) writeRequest(id params.RequestID, method string, args []any) error {
	conn.state.begin(id)
	raw, err := conn.marshalParams(args)
	conn.state.end()
	if err != nil {
		return errors.Trace(err)
	}
	return conn.codec.WriteMessage(&params.Message{
		ID:     &id,
		Method: method,
		Params: raw,
	})
}

// notify marshals and writes a notification with the sending lock held.
// No request is being serialised while the lock is held by notify.
func (conn *Conn) notify(ctx context.Context, method string, args []any) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	conn.sending.Lock()
	defer conn.sending.Unlock()
	if conn.isClosing() {
		return ErrShutdown
	}
	raw, err := conn.marshalParams(args)
	if err != nil {
		return errors.Trace(err)
	}
	return conn.writeNotificationLocked(method, raw)
}

func (conn *Conn) writeNotification(method string, raw json.RawMessage) error {
	conn.sending.Lock()
	defer conn.sending.Unlock()
	if conn.isClosing() {
		return ErrShutdown
	}
	return conn.writeNotificationLocked(method, raw)
}

// writeNotificationLocked must be called with conn.sending held.
func (conn *Conn) writeNotificationLocked(method string, raw json.RawMessage) error {
	return errors.Trace(conn.codec.WriteMessage(&params.Message{
		Method: method,
		Params: raw,
	}))
}

// marshalParams encodes args as a positional parameter array. Progress
// objects are replaced by their tokens. It must be called with
// conn.sending held.
func (conn *Conn) marshalParams(args []any) (json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	wire := make([]any, len(args))
	for i, arg := range args {
		if !progress.IsProgressObject(arg) {
			wire[i] = arg
			continue
		}
		token, err := conn.table.TokenForProgress(arg)
		if err != nil {
			return nil, errors.Annotatef(err, "argument %d", i)
		}
		wire[i] = token
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return data, nil
}

// abandon forgets a client request whose caller has stopped waiting,
// and asks the remote side to cancel it.
func (conn *Conn) abandon(id params.RequestID) {
	conn.mu.Lock()
	_, ok := conn.clientPending[id]
	delete(conn.clientPending, id)
	conn.mu.Unlock()
	if !ok {
		return
	}
	conn.hub.Publish(progress.RequestAbortedTopic, id)

	raw, err := json.Marshal(cancelParams{ID: id})
	if err == nil {
		err = conn.writeNotification(CancelRequestMethod, raw)
	}
	if err != nil {
		conn.logger.Debugf("[%s] cannot cancel request %s: %v", conn.id, id, err)
	}
}

func (conn *Conn) handleResponse(msg *params.Message) {
	id := *msg.ID
	conn.mu.Lock()
	call := conn.clientPending[id]
	delete(conn.clientPending, id)
	conn.mu.Unlock()

	conn.hub.Publish(progress.ResponseReceivedTopic, id)
	if call == nil {
		// The request was abandoned, or the response is for a
		// request we never sent.
		conn.logger.Tracef("[%s] discarding response to request %s", conn.id, id)
		return
	}

	switch {
	case msg.Error != nil:
		call.Error = msg.Error
	case call.Result != nil && len(msg.Result) > 0:
		if err := json.Unmarshal(msg.Result, call.Result); err != nil {
			call.Error = errors.Annotatef(err, "decoding result of %q", call.Method)
		}
	}
	call.done(conn.logger)
}

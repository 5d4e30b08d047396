// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package dispatch

import (
	"context"
	"reflect"

	"github.com/juju/jsonrpc/rpc/params"
	"github.com/juju/jsonrpc/rpc/rpcreflect"
)

// MethodNotFoundError is returned when invoking a request that could not
// be bound to any candidate.
type MethodNotFoundError struct {
	Method  string
	Message string
}

// Error implements the error interface.
func (e *MethodNotFoundError) Error() string {
	return e.Message
}

// ErrorCode implements params.ErrorCoder.
func (e *MethodNotFoundError) ErrorCode() int {
	return params.CodeMethodNotFound
}

// Invoke calls the resolved method. When ctx can be canceled and the
// method accepts a context, ctx replaces the placeholder context bound at
// resolution time. Errors returned by the method are returned as is.
func (t *TargetMethod) Invoke(ctx context.Context) (any, error) {
	if t.call == nil {
		return nil, &MethodNotFoundError{
			Method:  t.request.Method,
			Message: t.LookupErrorMessage(),
		}
	}
	call := t.call
	if ctx != nil && ctx.Done() != nil && call.AcceptsContext {
		call.substituteContext(ctx)
	}
	return call.Signature.Call(call.args)
}

// substituteContext replaces the last context argument with ctx.
func (b *BoundCall) substituteContext(ctx context.Context) {
	for i := len(b.args) - 1; i >= 0; i-- {
		if rpcreflect.IsContextType(b.Signature.Params[i]) {
			b.args[i] = reflect.ValueOf(&ctx).Elem()
			return
		}
	}
}

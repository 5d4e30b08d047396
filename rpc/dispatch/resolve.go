// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/juju/collections/set"

	"github.com/juju/jsonrpc/rpc/params"
	"github.com/juju/jsonrpc/rpc/rpcreflect"
)

// noObject is used in diagnostics in place of a target type name when
// the candidates are plain functions.
const noObject = "no object"

const outParamsNotSupported = "methods with out parameters are not supported"

var rawMessageType = reflect.TypeOf(json.RawMessage(nil))

// Converter converts wire values into values of a declared parameter type.
type Converter interface {
	// Convert returns value converted to type t, or an error
	// describing why the value is not compatible with t.
	Convert(value json.RawMessage, t reflect.Type) (reflect.Value, error)
}

// BoundCall is a candidate signature together with the arguments bound
// for one request.
type BoundCall struct {
	// Target holds the receiver, or the zero Value for a plain function.
	Target reflect.Value

	// Signature is the signature that was chosen.
	Signature *rpcreflect.Signature

	// AcceptsContext records whether the signature takes a context.
	AcceptsContext bool

	args []reflect.Value
}

// Args returns a copy of the bound arguments.
func (b *BoundCall) Args() []any {
	result := make([]any, len(b.args))
	for i, arg := range b.args {
		result[i] = arg.Interface()
	}
	return result
}

// TargetMethod is the result of resolving a request against its
// candidate signatures.
type TargetMethod struct {
	request    params.Request
	call       *BoundCall
	failures   set.Strings
	targetType string
}

// IsFound reports whether a candidate could be bound.
func (t *TargetMethod) IsFound() bool {
	return t.call != nil
}

// Call returns the bound call, or nil when no candidate matched.
func (t *TargetMethod) Call() *BoundCall {
	return t.call
}

// Failures returns the sorted, distinct reasons why candidates could
// not be bound.
func (t *TargetMethod) Failures() []string {
	return t.failures.SortedValues()
}

// LookupErrorMessage describes why no candidate matched the request.
func (t *TargetMethod) LookupErrorMessage() string {
	return fmt.Sprintf(
		"unable to find method %q with %d parameters on %s for the following reasons: %s",
		t.request.Method,
		t.request.ParamCount(),
		t.targetType,
		strings.Join(t.Failures(), "; "),
	)
}

// Resolve chooses the first of the candidates that can be bound to the
// request. Candidates are tried in the given order. Later candidates are
// still examined once a match is found, but only to record why they did
// not match.
func Resolve(req params.Request, candidates []*rpcreflect.Signature, conv Converter) *TargetMethod {
	t := &TargetMethod{
		request:    req,
		failures:   set.NewStrings(),
		targetType: noObject,
	}
	if len(candidates) > 0 {
		if name := candidates[0].TargetTypeName(); name != "" {
			t.targetType = name
		}
	}
	if len(candidates) == 0 {
		t.failures.Add("no method with that name is registered")
	}
	for _, sig := range candidates {
		args, reason, ok := bind(req, sig, conv)
		if !ok {
			if reason != "" {
				t.failures.Add(reason)
			}
			continue
		}
		if t.call == nil {
			t.call = &BoundCall{
				Target:         sig.Target,
				Signature:      sig,
				AcceptsContext: sig.AcceptsContext,
				args:           args,
			}
		}
	}
	return t
}

// bind attempts to build the argument list for sig. When the candidate
// does not fit, reason holds the diagnostic, or is empty if the candidate
// is merely not applicable to the shape of the request.
func bind(req params.Request, sig *rpcreflect.Signature, conv Converter) (args []reflect.Value, reason string, ok bool) {
	if sig.HasOutParam {
		return nil, outParamsNotSupported, false
	}
	if req.IsNamed() {
		return bindNamed(req, sig)
	}

	count := req.ParamCount()
	if count < sig.Required || count > sig.Total {
		return nil, fmt.Sprintf(
			"parameter count mismatch: expected %s, got %d",
			expectedCount(sig), count,
		), false
	}

	args = make([]reflect.Value, len(sig.Params))
	wire := 0
	for i, pt := range sig.Params {
		if rpcreflect.IsContextType(pt) {
			args[i] = placeholder()
			continue
		}
		if wire >= count {
			args[i] = reflect.Zero(pt)
			continue
		}
		v, err := conv.Convert(req.Arguments[wire], pt)
		if err != nil {
			return nil, fmt.Sprintf(
				"argument %d of type %s could not be converted: %v", wire, pt, err,
			), false
		}
		args[i] = v
		wire++
	}
	return args, "", true
}

// bindNamed binds a request whose parameters are a single object. Only
// signatures taking the raw object, optionally along with a context, are
// applicable.
func bindNamed(req params.Request, sig *rpcreflect.Signature) ([]reflect.Value, string, bool) {
	if len(sig.Params) == 0 || len(sig.Params) > 2 || sig.Total != 1 {
		return nil, "", false
	}
	args := make([]reflect.Value, len(sig.Params))
	for i, pt := range sig.Params {
		switch {
		case pt == rawMessageType:
			args[i] = reflect.ValueOf(req.NamedArguments)
		case rpcreflect.IsContextType(pt):
			args[i] = placeholder()
		default:
			return nil, "", false
		}
	}
	return args, "", true
}

func expectedCount(sig *rpcreflect.Signature) string {
	if sig.Required == sig.Total {
		return fmt.Sprint(sig.Total)
	}
	return fmt.Sprintf("%d - %d", sig.Required, sig.Total)
}

// placeholder returns the value bound to context parameters until a
// live context is substituted at invoke time. It can never be canceled.
func placeholder() reflect.Value {
	ctx := context.Background()
	return reflect.ValueOf(&ctx).Elem()
}

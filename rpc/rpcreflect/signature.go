// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package rpcreflect

import (
	"context"
	"reflect"

	"github.com/juju/errors"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// IsContextType reports whether t is context.Context.
func IsContextType(t reflect.Type) bool {
	return t == contextType
}

// Signature describes one callable overload of an RPC method.
type Signature struct {
	// Name is the name the signature was described with, used in
	// diagnostics.
	Name string

	// Target holds the receiver of the method, or the zero Value when
	// the signature describes a plain function.
	Target reflect.Value

	// Func holds the callable value. When Target is valid, Func is the
	// method value bound to it.
	Func reflect.Value

	// Params holds the declared parameter types in order.
	Params []reflect.Type

	// HasOutParam is set when any parameter is an out parameter
	// (a pointer to a pointer), which cannot be bound from the wire.
	HasOutParam bool

	// AcceptsContext is set when a parameter is context.Context.
	AcceptsContext bool

	// Required holds the number of parameters that must be supplied.
	Required int

	// Total holds the number of parameters that may be supplied,
	// not counting any context.Context parameter.
	Total int

	// hasResult and hasError record the shape of the return values.
	hasResult bool
	hasError  bool
}

// TargetTypeName returns the name of the target's type, or the empty
// string for a plain function.
func (s *Signature) TargetTypeName() string {
	if !s.Target.IsValid() {
		return ""
	}
	return s.Target.Type().String()
}

// Call calls the function with the given arguments and splits the
// results into a value and an error.
func (s *Signature) Call(args []reflect.Value) (any, error) {
	out := s.Func.Call(args)
	var (
		result any
		err    error
	)
	if s.hasResult {
		result = out[0].Interface()
	}
	if s.hasError {
		if e := out[len(out)-1].Interface(); e != nil {
			err = e.(error)
		}
	}
	return result, err
}

// Option modifies a signature as it is described.
type Option func(*Signature)

// Optional marks the last n non-context parameters as optional. Missing
// optional parameters are bound to their zero values.
func Optional(n int) Option {
	return func(s *Signature) {
		s.Required -= n
		if s.Required < 0 {
			s.Required = 0
		}
	}
}

// FuncSignature describes the plain function fn. The function may have
// the following results, where R is any type:
//
//	F(...)
//	F(...) R
//	F(...) error
//	F(...) (R, error)
func FuncSignature(name string, fn any, opts ...Option) (*Signature, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, errors.NotValidf("%q: %T is not a function", name, fn)
	}
	return newSignature(name, reflect.Value{}, v, opts)
}

// MethodSignature describes the method called method on obj.
func MethodSignature(obj any, method string, opts ...Option) (*Signature, error) {
	target := reflect.ValueOf(obj)
	if !target.IsValid() {
		return nil, errors.NotValidf("nil object")
	}
	m := target.MethodByName(method)
	if !m.IsValid() {
		return nil, errors.NotFoundf("method %q on %s", method, target.Type())
	}
	return newSignature(method, target, m, opts)
}

func newSignature(name string, target, fn reflect.Value, opts []Option) (*Signature, error) {
	ft := fn.Type()
	if ft.IsVariadic() {
		return nil, errors.NotSupportedf("%q: variadic parameters", name)
	}
	s := &Signature{
		Name:   name,
		Target: target,
		Func:   fn,
		Params: make([]reflect.Type, ft.NumIn()),
	}
	for i := 0; i < ft.NumIn(); i++ {
		t := ft.In(i)
		s.Params[i] = t
		switch {
		case IsContextType(t):
			s.AcceptsContext = true
			continue
		case t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Ptr:
			s.HasOutParam = true
		}
		s.Total++
	}
	s.Required = s.Total

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			s.hasError = true
		} else {
			s.hasResult = true
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, errors.NotValidf("%q: second result must be error", name)
		}
		s.hasResult = true
		s.hasError = true
	default:
		return nil, errors.NotValidf("%q: too many results", name)
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

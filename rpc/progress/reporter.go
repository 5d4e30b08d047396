// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package progress

import (
	"context"
	"reflect"

	"github.com/juju/errors"
)

// Progress is implemented by values that receive progress updates.
type Progress[T any] interface {
	Report(T)
}

// Func is a progress object that calls a function for each reported
// value. It must be used through a pointer, which gives it the identity
// used to recognise repeated registrations. A connection calls the
// functions of its progress objects from a single goroutine, in the
// order the values arrive.
type Func[T any] struct {
	fn func(T)
}

// NewFunc returns a progress object that calls fn for each value.
func NewFunc[T any](fn func(T)) *Func[T] {
	return &Func[T]{fn: fn}
}

// Report implements Progress.
func (f *Func[T]) Report(value T) {
	f.fn(value)
}

// Reporter is the receiving side of a progress object. Methods served
// over RPC declare a parameter of type *Reporter[T] to receive the token
// sent by the caller; each call to Report sends the value back as a
// progress notification.
type Reporter[T any] struct {
	token    int64
	notifier Notifier
	logger   Logger
}

type reporterBinder interface {
	bindProgress(token int64, notifier Notifier, logger Logger)
}

var reporterBinderType = reflect.TypeOf((*reporterBinder)(nil)).Elem()

// IsReporterType reports whether t is *Reporter[T] for some T.
func IsReporterType(t reflect.Type) bool {
	return t.Kind() == reflect.Ptr && t.Implements(reporterBinderType)
}

func (r *Reporter[T]) bindProgress(token int64, notifier Notifier, logger Logger) {
	r.token = token
	r.notifier = notifier
	r.logger = logger
}

// Token returns the token the reporter sends values for.
func (r *Reporter[T]) Token() int64 {
	return r.token
}

// Report sends value to the remote side. It never blocks and never
// fails; delivery is best effort and failures are only logged. A nil
// Reporter discards the value.
func (r *Reporter[T]) Report(value T) {
	if r == nil || r.notifier == nil {
		return
	}
	args := []any{r.token, value}
	types := []reflect.Type{
		reflect.TypeOf(r.token),
		reflect.TypeOf((*T)(nil)).Elem(),
	}
	go func() {
		err := r.notifier.NotifyWithTypes(context.Background(), MethodName, args, types)
		if err != nil {
			r.logger.Debugf("failed to send progress for token %d: %v", r.token, err)
		}
	}()
}

// IsProgressObject reports whether v can be passed as a progress object,
// that is whether it is a pointer with a method Report taking a single
// argument. Progress objects are identified by pointer.
func IsProgressObject(v any) bool {
	_, _, err := reportMethod(v)
	return err == nil
}

// reportMethod returns the type reported to obj and the bound Report
// method.
func reportMethod(obj any) (reflect.Type, reflect.Value, error) {
	v := reflect.ValueOf(obj)
	if !v.IsValid() {
		return nil, reflect.Value{}, errors.NotValidf("nil progress object")
	}
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return nil, reflect.Value{}, errors.NotValidf("progress object of non-pointer type %s", v.Type())
	}
	m := v.MethodByName("Report")
	if !m.IsValid() {
		return nil, reflect.Value{}, errors.NotValidf("progress object %s without a Report method", v.Type())
	}
	mt := m.Type()
	if mt.NumIn() != 1 || mt.NumOut() != 0 {
		return nil, reflect.Value{}, errors.NotValidf("progress object %s with Report method %s", v.Type(), mt)
	}
	return mt.In(0), m, nil
}

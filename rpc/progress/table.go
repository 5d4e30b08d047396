// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package progress

import (
	"context"
	"reflect"
	"sync"

	"github.com/juju/errors"

	"github.com/juju/jsonrpc/rpc/params"
)

// MethodName is the method of the notification sent for each reported
// progress value.
const MethodName = "$/progress"

// FormatterState reports which outbound request, if any, is currently
// being serialized.
type FormatterState interface {
	// SerializingRequestID returns the id of the request whose
	// arguments are being serialized, and false when no request is
	// being serialized.
	SerializingRequestID() (params.RequestID, bool)
}

// Notifier sends notifications to the remote side.
type Notifier interface {
	// NotifyWithTypes sends a notification with the given arguments,
	// each of which is declared to be of the corresponding type.
	NotifyWithTypes(ctx context.Context, method string, args []any, types []reflect.Type) error
}

// Logger represents the logging methods used by the table.
type Logger interface {
	Errorf(string, ...any)
	Debugf(string, ...any)
	Tracef(string, ...any)
}

// Config holds the dependencies of a Table.
type Config struct {
	FormatterState FormatterState
	Notifier       Notifier
	Logger         Logger
}

// Validate returns an error if the config cannot be used to create
// a Table.
func (config Config) Validate() error {
	if config.FormatterState == nil {
		return errors.NotValidf("nil FormatterState")
	}
	if config.Notifier == nil {
		return errors.NotValidf("nil Notifier")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Registration records one progress object passed as an argument of an
// outbound request.
type Registration struct {
	// ValueType is the type of the values reported to the object.
	ValueType reflect.Type

	// Object is the progress object itself.
	Object any

	// Token is the value sent over the wire in place of Object.
	Token int64

	report reflect.Value
}

// Report delivers value, which must be assignable to ValueType, to the
// progress object.
func (r *Registration) Report(value reflect.Value) {
	r.report.Call([]reflect.Value{value})
}

// Table correlates progress objects with the tokens sent in their place.
// Registrations live for as long as the request that carried them; they
// are dropped when the request is aborted or its response arrives.
type Table struct {
	formatterState FormatterState
	notifier       Notifier
	logger         Logger

	// mu guards all the fields below. Both indexes are always
	// updated together.
	mu              sync.Mutex
	nextToken       int64
	requestProgress map[params.RequestID][]*Registration
	progressByToken map[int64]*Registration
}

// NewTable returns a new, empty correlation table.
func NewTable(config Config) (*Table, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Table{
		formatterState:  config.FormatterState,
		notifier:        config.Notifier,
		logger:          config.Logger,
		requestProgress: make(map[params.RequestID][]*Registration),
		progressByToken: make(map[int64]*Registration),
	}, nil
}

// TokenForProgress returns the token to send in place of the progress
// object obj. It must only be called while the arguments of an outbound
// request are being serialized. Passing the same object again for the
// same request returns the same token.
func (t *Table) TokenForProgress(obj any) (int64, error) {
	id, ok := t.formatterState.SerializingRequestID()
	if !ok {
		return 0, errors.NotSupportedf("progress objects outside of an outbound request")
	}
	if id.IsZero() {
		return 0, errors.NotValidf("progress object for a request without an id")
	}
	valueType, report, err := reportMethod(obj)
	if err != nil {
		return 0, errors.Trace(err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, reg := range t.requestProgress[id] {
		if reg.Object == obj {
			return reg.Token, nil
		}
	}
	reg := &Registration{
		ValueType: valueType,
		Object:    obj,
		Token:     t.nextToken,
		report:    report,
	}
	t.nextToken++
	t.requestProgress[id] = append(t.requestProgress[id], reg)
	t.progressByToken[reg.Token] = reg
	t.logger.Tracef("registered progress token %d for request %s", reg.Token, id)
	return reg.Token, nil
}

// ProgressObject returns the registration for the given token.
func (t *Table) ProgressObject(token int64) (*Registration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	reg, ok := t.progressByToken[token]
	return reg, ok
}

// Len returns the number of live registrations.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.progressByToken)
}

// CreateProgress returns a new reporter of the given type, which must be
// a *Reporter[T], that sends reported values to the remote side tagged
// with token.
func (t *Table) CreateProgress(reporterType reflect.Type, token int64) (reflect.Value, error) {
	if !IsReporterType(reporterType) {
		return reflect.Value{}, errors.NotValidf("progress reporter type %s", reporterType)
	}
	v := reflect.New(reporterType.Elem())
	v.Interface().(reporterBinder).bindProgress(token, t.notifier, t.logger)
	return v, nil
}

// reclaimRequest removes every registration made for the request. It is
// a no-op for requests with no registrations.
func (t *Table) reclaimRequest(id params.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	regs, ok := t.requestProgress[id]
	if !ok {
		return
	}
	delete(t.requestProgress, id)
	for _, reg := range regs {
		delete(t.progressByToken, reg.Token)
	}
	t.logger.Tracef("reclaimed %d progress tokens for request %s", len(regs), id)
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package params

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/juju/errors"
)

// The following error codes are reserved by the JSON-RPC 2.0 protocol
// or by this library.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeInvocationError is used for an error raised by an invoked
	// method that did not specify a code of its own.
	CodeInvocationError = -32000

	// CodeRequestCancelled is used when a request was abandoned by
	// the caller before a response was produced.
	CodeRequestCancelled = -32800
)

// Error is the type of error returned by any call to the remote side. It
// carries the code and message sent over the wire, together with any
// error details, which are only decoded on request.
type Error struct {
	Message string          `json:"message"`
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Code == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// ErrorCode implements ErrorCoder.
func (e Error) ErrorCode() int {
	return e.Code
}

// UnmarshalData decodes the error details into the value pointed to by
// to. It returns a NotFound error if the error carries no details.
func (e Error) UnmarshalData(to any) error {
	if reflect.ValueOf(to).Kind() != reflect.Ptr {
		return errors.New("UnmarshalData expects a pointer as an argument")
	}
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return errors.NotFoundf("error data")
	}
	if err := json.Unmarshal(e.Data, to); err != nil {
		return errors.Annotate(err, "could not unmarshal error data to provided target")
	}
	return nil
}

// ErrorCoder represents any error that has an associated integer
// error code.
type ErrorCoder interface {
	ErrorCode() int
}

// ErrorDataProvider is implemented by errors that carry additional
// details to be sent to the remote side.
type ErrorDataProvider interface {
	ErrorData() any
}

// ErrCode returns the error code associated with the given error, or 0
// if the error has no code.
func ErrCode(err error) int {
	if err == nil {
		return 0
	}
	var coder ErrorCoder
	if errors.As(err, &coder) {
		return coder.ErrorCode()
	}
	return 0
}

// ServerError returns the wire representation of err. Errors that do not
// carry a code are reported with CodeInvocationError.
func ServerError(err error) *Error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	var verr Error
	if errors.As(err, &verr) {
		return &verr
	}
	result := &Error{
		Message: err.Error(),
		Code:    ErrCode(err),
	}
	if result.Code == 0 {
		result.Code = CodeInvocationError
	}
	var provider ErrorDataProvider
	if errors.As(err, &provider) {
		if data, merr := json.Marshal(provider.ErrorData()); merr == nil {
			result.Data = data
		}
	}
	return result
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package params

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/juju/errors"
)

// Version is the protocol version written in every message.
const Version = "2.0"

type idKind uint8

const (
	idNone idKind = iota
	idNumber
	idName
)

// RequestID identifies a request on a connection. The zero value is the
// absent id carried by notifications. RequestID values are comparable and
// may be used as map keys.
type RequestID struct {
	kind   idKind
	number int64
	name   string
}

// NumberID returns a numeric request id.
func NumberID(n int64) RequestID {
	return RequestID{kind: idNumber, number: n}
}

// StringID returns a string request id.
func StringID(s string) RequestID {
	return RequestID{kind: idName, name: s}
}

// IsZero reports whether id is the absent id.
func (id RequestID) IsZero() bool {
	return id.kind == idNone
}

// String implements fmt.Stringer.
func (id RequestID) String() string {
	switch id.kind {
	case idNumber:
		return strconv.FormatInt(id.number, 10)
	case idName:
		return strconv.Quote(id.name)
	}
	return "<none>"
}

// MarshalJSON implements json.Marshaler.
func (id RequestID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idNumber:
		return json.Marshal(id.number)
	case idName:
		return json.Marshal(id.name)
	}
	return []byte("null"), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = RequestID{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.Trace(err)
		}
		*id = StringID(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.NotValidf("request id %s", data)
	}
	*id = NumberID(n)
	return nil
}

// Message is a single JSON-RPC envelope as it appears on the wire. It may
// hold a request, a notification or a response.
type Message struct {
	Version string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsRequest reports whether the message is a request expecting a response.
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.ID != nil && !m.ID.IsZero()
}

// IsNotification reports whether the message is a request that expects
// no response.
func (m *Message) IsNotification() bool {
	return m.Method != "" && (m.ID == nil || m.ID.IsZero())
}

// IsResponse reports whether the message is a response to a request.
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.ID != nil
}

// Request is an inbound request or notification with its parameters
// split into positional or named form.
type Request struct {
	// Method is the name of the method to invoke.
	Method string

	// ID holds the request id; it is zero for a notification.
	ID RequestID

	// Arguments holds the positional parameters.
	Arguments []json.RawMessage

	// NamedArguments holds the parameter object, when the request
	// supplied its parameters by name.
	NamedArguments json.RawMessage

	namedCount int
}

// IsNotification reports whether the request expects no response.
func (r Request) IsNotification() bool {
	return r.ID.IsZero()
}

// IsNamed reports whether the parameters were supplied as a single object.
func (r Request) IsNamed() bool {
	return r.NamedArguments != nil
}

// ParamCount returns the number of parameters supplied with the request.
// For named parameters this is the number of members of the object.
func (r Request) ParamCount() int {
	if r.IsNamed() {
		return r.namedCount
	}
	return len(r.Arguments)
}

// NewRequest returns a request with positional parameters.
func NewRequest(id RequestID, method string, args ...json.RawMessage) Request {
	return Request{
		Method:    method,
		ID:        id,
		Arguments: args,
	}
}

// NewNamedRequest returns a request whose parameters are supplied as the
// given JSON object.
func NewNamedRequest(id RequestID, method string, object json.RawMessage) (Request, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(object, &members); err != nil {
		return Request{}, errors.Annotate(err, "named parameters")
	}
	if members == nil {
		return Request{}, errors.NotValidf("named parameters %s", object)
	}
	return Request{
		Method:         method,
		ID:             id,
		NamedArguments: object,
		namedCount:     len(members),
	}, nil
}

// DecodeRequest splits the params of a request or notification message.
// The returned error is an *Error with CodeInvalidParams when the params
// are neither an array nor an object.
func DecodeRequest(m *Message) (Request, error) {
	var id RequestID
	if m.ID != nil {
		id = *m.ID
	}
	raw := bytes.TrimSpace(m.Params)
	switch {
	case len(raw) == 0 || string(raw) == "null":
		return NewRequest(id, m.Method), nil
	case raw[0] == '[':
		var args []json.RawMessage
		if err := json.Unmarshal(raw, &args); err != nil {
			return Request{}, &Error{Code: CodeInvalidParams, Message: err.Error()}
		}
		return NewRequest(id, m.Method, args...), nil
	case raw[0] == '{':
		req, err := NewNamedRequest(id, m.Method, raw)
		if err != nil {
			return Request{}, &Error{Code: CodeInvalidParams, Message: err.Error()}
		}
		return req, nil
	}
	return Request{}, &Error{
		Code:    CodeInvalidParams,
		Message: "params must be an array or an object",
	}
}

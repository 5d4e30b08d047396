// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jsoncodec

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/juju/errors"
)

// Converter converts JSON wire values into Go values of a requested
// type. Objects with members that the target struct does not declare are
// rejected, so that overloads taking different structs can be told apart.
type Converter struct{}

// Convert implements dispatch.Converter.
func (Converter) Convert(value json.RawMessage, t reflect.Type) (reflect.Value, error) {
	ptr := reflect.New(t)
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.DisallowUnknownFields()
	if err := dec.Decode(ptr.Interface()); err != nil {
		return reflect.Value{}, errors.Trace(err)
	}
	if dec.More() {
		return reflect.Value{}, errors.NotValidf("trailing data after value")
	}
	return ptr.Elem(), nil
}

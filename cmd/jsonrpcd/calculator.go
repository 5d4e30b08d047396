// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"

	"github.com/juju/errors"

	"github.com/juju/jsonrpc/rpc/params"
	"github.com/juju/jsonrpc/rpc/progress"
	"github.com/juju/jsonrpc/rpc/rpcreflect"
)

// codeDivisionByZero is the error code returned when dividing by zero.
const codeDivisionByZero = 1

// Calculator is the example service served by the daemon.
type Calculator struct{}

// Sum returns the sum of a and b, or of a, b and c when c is given.
func (Calculator) Sum(a, b, c int) int {
	return a + b + c
}

// SumAll returns the sum of values.
func (Calculator) SumAll(values []int) int {
	var total int
	for _, v := range values {
		total += v
	}
	return total
}

// Divide returns a divided by b.
func (Calculator) Divide(a, b float64) (float64, error) {
	if b == 0 {
		return 0, &params.Error{
			Code:    codeDivisionByZero,
			Message: "division by zero",
		}
	}
	return a / b, nil
}

// Count reports each number from 1 to n to p, and returns n.
func (Calculator) Count(ctx context.Context, n int, p *progress.Reporter[int]) (int, error) {
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return i - 1, err
		}
		p.Report(i)
	}
	return n, nil
}

// Register registers the calculator methods. The name sum is
// overloaded: it accepts either two or three numbers, or a list.
func (calc Calculator) Register(registry *rpcreflect.Registry) error {
	for _, m := range []struct {
		name   string
		method string
		opts   []rpcreflect.Option
	}{
		{name: "sum", method: "Sum", opts: []rpcreflect.Option{rpcreflect.Optional(1)}},
		{name: "sum", method: "SumAll"},
		{name: "divide", method: "Divide"},
		{name: "count", method: "Count"},
	} {
		if err := registry.RegisterMethod(m.name, calc, m.method, m.opts...); err != nil {
			return errors.Annotatef(err, "registering %q", m.name)
		}
	}
	return nil
}

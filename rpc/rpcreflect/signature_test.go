// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package rpcreflect_test

import (
	"context"
	"errors"
	"reflect"

	jujuerrors "github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/jsonrpc/rpc/rpcreflect"
)

type signatureSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&signatureSuite{})

type adder struct {
	base int
}

func (a *adder) Add(ctx context.Context, x, y int) (int, error) {
	if x < 0 {
		return 0, errors.New("negative")
	}
	return a.base + x + y, nil
}

func (a *adder) Reset(out **adder) {}

func (a *adder) Ping() {}

func (a *adder) Fail() error { return errors.New("failed") }

func (s *signatureSuite) TestFuncSignatureCounts(c *gc.C) {
	sig, err := rpcreflect.FuncSignature("f", func(a int, ctx context.Context, b string) string { return "" })
	c.Assert(err, jc.ErrorIsNil)
	c.Check(sig.Name, gc.Equals, "f")
	c.Check(sig.Required, gc.Equals, 2)
	c.Check(sig.Total, gc.Equals, 2)
	c.Check(sig.AcceptsContext, jc.IsTrue)
	c.Check(sig.HasOutParam, jc.IsFalse)
	c.Check(sig.Params, gc.HasLen, 3)
	c.Check(sig.TargetTypeName(), gc.Equals, "")
}

func (s *signatureSuite) TestOptional(c *gc.C) {
	sig, err := rpcreflect.FuncSignature("f", func(a, b, c int) {}, rpcreflect.Optional(2))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(sig.Required, gc.Equals, 1)
	c.Check(sig.Total, gc.Equals, 3)

	sig, err = rpcreflect.FuncSignature("f", func(a int) {}, rpcreflect.Optional(5))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(sig.Required, gc.Equals, 0)
}

func (s *signatureSuite) TestMethodSignature(c *gc.C) {
	sig, err := rpcreflect.MethodSignature(&adder{base: 10}, "Add")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(sig.TargetTypeName(), gc.Equals, "*rpcreflect_test.adder")
	c.Check(sig.Total, gc.Equals, 2)

	result, err := sig.Call([]reflect.Value{
		reflect.ValueOf(context.Background()),
		reflect.ValueOf(1),
		reflect.ValueOf(2),
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result, gc.Equals, 13)

	_, err = sig.Call([]reflect.Value{
		reflect.ValueOf(context.Background()),
		reflect.ValueOf(-1),
		reflect.ValueOf(2),
	})
	c.Check(err, gc.ErrorMatches, "negative")
}

func (s *signatureSuite) TestMethodSignatureNotFound(c *gc.C) {
	_, err := rpcreflect.MethodSignature(&adder{}, "Subtract")
	c.Assert(err, jc.ErrorIs, jujuerrors.NotFound)
}

func (s *signatureSuite) TestOutParam(c *gc.C) {
	sig, err := rpcreflect.MethodSignature(&adder{}, "Reset")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(sig.HasOutParam, jc.IsTrue)
}

func (s *signatureSuite) TestResultShapes(c *gc.C) {
	sig, err := rpcreflect.MethodSignature(&adder{}, "Ping")
	c.Assert(err, jc.ErrorIsNil)
	result, err := sig.Call(nil)
	c.Check(result, gc.IsNil)
	c.Check(err, jc.ErrorIsNil)

	sig, err = rpcreflect.MethodSignature(&adder{}, "Fail")
	c.Assert(err, jc.ErrorIsNil)
	result, err = sig.Call(nil)
	c.Check(result, gc.IsNil)
	c.Check(err, gc.ErrorMatches, "failed")
}

func (s *signatureSuite) TestInvalidFunctions(c *gc.C) {
	_, err := rpcreflect.FuncSignature("f", 42)
	c.Check(err, jc.ErrorIs, jujuerrors.NotValid)

	_, err = rpcreflect.FuncSignature("f", func(...int) {})
	c.Check(err, jc.ErrorIs, jujuerrors.NotSupported)

	_, err = rpcreflect.FuncSignature("f", func() (int, int) { return 0, 0 })
	c.Check(err, gc.ErrorMatches, `"f": second result must be error not valid`)

	_, err = rpcreflect.FuncSignature("f", func() (int, int, error) { return 0, 0, nil })
	c.Check(err, gc.ErrorMatches, `"f": too many results not valid`)
}

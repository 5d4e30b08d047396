// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"github.com/juju/loggo/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	"github.com/prometheus/client_golang/prometheus"
	gc "gopkg.in/check.v1"

	"github.com/juju/jsonrpc/rpc"
	"github.com/juju/jsonrpc/rpc/jsoncodec"
	"github.com/juju/jsonrpc/rpc/params"
	"github.com/juju/jsonrpc/rpc/progress"
	"github.com/juju/jsonrpc/rpc/rpcreflect"
)

const longWait = 10 * time.Second

type calculatorSuite struct {
	testing.IsolationSuite

	server *Server
}

var _ = gc.Suite(&calculatorSuite{})

func (s *calculatorSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	registry := rpcreflect.NewRegistry()
	c.Assert(Calculator{}.Register(registry), jc.ErrorIsNil)
	promRegistry := prometheus.NewRegistry()
	server, err := NewServer(DefaultConfig(), registry, promRegistry, promRegistry)
	c.Assert(err, jc.ErrorIsNil)
	s.server = server
}

func (s *calculatorSuite) newClient(c *gc.C, codec rpc.Codec) *rpc.Conn {
	client, err := rpc.NewConn(rpc.Config{
		Codec:     codec,
		Registry:  rpcreflect.NewRegistry(),
		Converter: jsoncodec.Converter{},
		Clock:     clock.WallClock,
		Logger:    loggo.GetLogger("test"),
	})
	c.Assert(err, jc.ErrorIsNil)
	s.AddCleanup(func(c *gc.C) {
		workertest.DirtyKill(c, client)
	})
	return client
}

// connect serves a connection on a pipe until the test ends, and
// returns a client for it.
func (s *calculatorSuite) connect(c *gc.C) *rpc.Conn {
	p0, p1 := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- s.server.serveConn(ctx, jsoncodec.NewNet(p1))
	}()
	s.AddCleanup(func(c *gc.C) {
		cancel()
		select {
		case err := <-served:
			c.Check(err, jc.ErrorIsNil)
		case <-time.After(longWait):
			c.Errorf("timed out waiting for connection to stop")
		}
	})
	return s.newClient(c, jsoncodec.NewNet(p0))
}

func (s *calculatorSuite) TestSumOverloads(c *gc.C) {
	client := s.connect(c)
	ctx := context.Background()

	var sum int
	c.Assert(client.Call(ctx, "sum", &sum, 1, 2), jc.ErrorIsNil)
	c.Check(sum, gc.Equals, 3)
	c.Assert(client.Call(ctx, "sum", &sum, 1, 2, 3), jc.ErrorIsNil)
	c.Check(sum, gc.Equals, 6)
	c.Assert(client.Call(ctx, "sum", &sum, []int{4, 5, 6, 7}), jc.ErrorIsNil)
	c.Check(sum, gc.Equals, 22)

	err := client.Call(ctx, "sum", &sum, 1, 2, 3, 4)
	c.Check(params.ErrCode(err), gc.Equals, params.CodeMethodNotFound)
	c.Check(err, gc.ErrorMatches, `unable to find method "sum" with 4 parameters on main.Calculator .*`)
}

func (s *calculatorSuite) TestDivide(c *gc.C) {
	client := s.connect(c)

	var quotient float64
	c.Assert(client.Call(context.Background(), "divide", &quotient, 7, 2), jc.ErrorIsNil)
	c.Check(quotient, gc.Equals, 3.5)

	err := client.Call(context.Background(), "divide", &quotient, 1, 0)
	c.Check(params.ErrCode(err), gc.Equals, codeDivisionByZero)
}

func (s *calculatorSuite) TestCount(c *gc.C) {
	client := s.connect(c)

	// Reports are sent asynchronously and may still be in flight when
	// the response arrives, so only check what was received.
	reported := make(chan int, 10)
	p := progress.NewFunc(func(v int) { reported <- v })

	var n int
	c.Assert(client.Call(context.Background(), "count", &n, 3, p), jc.ErrorIsNil)
	c.Check(n, gc.Equals, 3)

	for {
		select {
		case v := <-reported:
			c.Check(v >= 1 && v <= 3, jc.IsTrue)
		default:
			return
		}
	}
}

func (s *calculatorSuite) TestWebsocket(c *gc.C) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := httptest.NewServer(s.server.websocketHandler(ctx))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	c.Assert(err, jc.ErrorIsNil)
	client := s.newClient(c, jsoncodec.NewWebsocket(ws))

	var sum int
	c.Assert(client.Call(context.Background(), "sum", &sum, []int{1, 2}), jc.ErrorIsNil)
	c.Check(sum, gc.Equals, 3)
	workertest.CleanKill(c, client)
}

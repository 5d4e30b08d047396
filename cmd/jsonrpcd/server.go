// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/juju/jsonrpc/rpc"
	"github.com/juju/jsonrpc/rpc/jsoncodec"
	"github.com/juju/jsonrpc/rpc/rpcreflect"
)

const shutdownTimeout = 5 * time.Second

// Server serves the methods of a registry on every configured
// listener.
type Server struct {
	config   Config
	registry *rpcreflect.Registry
	metrics  *rpc.Collector
	gatherer prometheus.Gatherer
	clock    clock.Clock
	logger   loggo.Logger
}

// NewServer returns a server for the given configuration. The
// server's metrics are registered with registerer.
func NewServer(config Config, registry *rpcreflect.Registry, registerer prometheus.Registerer, gatherer prometheus.Gatherer) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	metrics := rpc.NewMetricsCollector()
	if err := registerer.Register(metrics); err != nil {
		return nil, errors.Annotate(err, "registering metrics")
	}
	return &Server{
		config:   config,
		registry: registry,
		metrics:  metrics,
		gatherer: gatherer,
		clock:    clock.WallClock,
		logger:   logger,
	}, nil
}

// Run serves until ctx is done or a listener fails.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if addr := s.config.TCPAddress; addr != "" {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return errors.Annotatef(err, "listening on %q", addr)
		}
		s.logger.Infof("serving JSON-RPC on %s", l.Addr())
		g.Go(func() error {
			return s.serveTCP(ctx, l)
		})
	}
	if addr := s.config.WebsocketAddress; addr != "" {
		g.Go(func() error {
			return s.serveHTTP(ctx, addr, s.websocketHandler(ctx))
		})
	}
	if addr := s.config.MetricsAddress; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		g.Go(func() error {
			return s.serveHTTP(ctx, addr, mux)
		})
	}
	return g.Wait()
}

func (s *Server) serveTCP(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()
	for {
		c, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Annotate(err, "accepting connection")
		}
		codec := jsoncodec.NewNet(c)
		codec.SetLogging(s.config.LogMessages)
		go func() {
			if err := s.serveConn(ctx, codec); err != nil {
				s.logger.Warningf("connection from %s: %v", c.RemoteAddr(), err)
			}
		}()
	}
}

func (s *Server) websocketHandler(ctx context.Context) http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Debugf("websocket upgrade from %s: %v", r.RemoteAddr, err)
			return
		}
		codec := jsoncodec.NewWebsocket(ws)
		codec.SetLogging(s.config.LogMessages)
		if err := s.serveConn(ctx, codec); err != nil {
			s.logger.Warningf("websocket connection from %s: %v", r.RemoteAddr, err)
		}
	})
}

func (s *Server) serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Infof("serving HTTP on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Annotatef(err, "serving %q", addr)
	}
	return nil
}

// serveConn serves one connection until it ends or ctx is done.
func (s *Server) serveConn(ctx context.Context, codec rpc.Codec) error {
	conn, err := rpc.NewConn(rpc.Config{
		Codec:     codec,
		Registry:  s.registry,
		Converter: jsoncodec.Converter{},
		Clock:     s.clock,
		Logger:    s.logger.Child("conn"),
		Metrics:   s.metrics,
	})
	if err != nil {
		_ = codec.Close()
		return errors.Trace(err)
	}
	select {
	case <-ctx.Done():
		conn.Kill()
	case <-conn.Dead():
	}
	return conn.Wait()
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package rpc

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/juju/jsonrpc/rpc/progress"
)

const metricsNamespace = "jsonrpc"

const (
	outcomeSuccess  = "success"
	outcomeError    = "error"
	outcomeNotFound = "not_found"

	// unknownMethod labels requests for methods that are not served,
	// so that the method label stays bounded.
	unknownMethod = "unknown"
)

// Collector is a prometheus.Collector that collects metrics about RPC
// connections. A single collector may be shared by many connections.
type Collector struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	connections prometheus.Gauge
	progress    *prometheus.Desc

	mu     sync.Mutex
	tables map[*progress.Table]struct{}
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "The number of requests served, by method and outcome.",
			}, []string{"method", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "The time taken to serve a request.",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
			}, []string{"method"},
		),
		connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "connections",
				Help:      "The number of open connections.",
			},
		),
		progress: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "progress_registrations"),
			"The number of progress objects awaiting reports from outstanding requests.",
			nil, nil,
		),
		tables: make(map[*progress.Table]struct{}),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.requests.Describe(ch)
	c.duration.Describe(ch)
	c.connections.Describe(ch)
	ch <- c.progress
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.requests.Collect(ch)
	c.duration.Collect(ch)
	c.connections.Collect(ch)

	c.mu.Lock()
	var total int
	for table := range c.tables {
		total += table.Len()
	}
	c.mu.Unlock()
	ch <- prometheus.MustNewConstMetric(c.progress, prometheus.GaugeValue, float64(total))
}

// track adds the connection's correlation table to the collector. The
// returned function removes it.
func (c *Collector) track(table *progress.Table) func() {
	c.mu.Lock()
	c.tables[table] = struct{}{}
	c.mu.Unlock()
	c.connections.Inc()
	return func() {
		c.mu.Lock()
		delete(c.tables, table)
		c.mu.Unlock()
		c.connections.Dec()
	}
}

func (c *Collector) observe(method string, found bool, err error, elapsed time.Duration) {
	outcome := outcomeSuccess
	switch {
	case !found:
		method = unknownMethod
		outcome = outcomeNotFound
	case err != nil:
		outcome = outcomeError
	}
	c.requests.WithLabelValues(method, outcome).Inc()
	c.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

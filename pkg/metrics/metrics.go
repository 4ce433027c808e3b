// Copyright 2025 The axfor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all treeCache metrics
const (
	namespace = "treecache"
	subsystem = "server"
)

// Metrics holds all Prometheus metrics for a cache node.
//
// All Record* methods are safe to call on a nil *Metrics, so components can
// be built without a registry in tests.
type Metrics struct {
	// gRPC request metrics
	GrpcRequestDuration *prometheus.HistogramVec
	GrpcRequestTotal    *prometheus.CounterVec
	GrpcRequestInFlight *prometheus.GaugeVec

	// HTTP request metrics
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestTotal    *prometheus.CounterVec

	// Connection metrics
	ActiveConnections   prometheus.Gauge
	TotalConnections    prometheus.Counter
	RejectedConnections *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec

	// Local store metrics
	CacheOperationTotal *prometheus.CounterVec
	CacheKeys           prometheus.Gauge

	// Propagation metrics
	PropagationEnqueued    *prometheus.CounterVec
	PropagationJobsTotal   *prometheus.CounterVec
	PropagationJobDuration *prometheus.HistogramVec
	PropagationQueueDepth  prometheus.Gauge
	ReadThroughTotal       *prometheus.CounterVec

	// Topology metrics (root only)
	TopologyNodes       prometheus.Gauge
	TopologyDepth       prometheus.Gauge
	TopologyAssignments *prometheus.CounterVec

	// Registration metrics
	DiscoverySweeps   prometheus.Counter
	RegistrationTotal *prometheus.CounterVec

	// Panic recovery metrics
	PanicsRecovered *prometheus.CounterVec
}

// New creates and registers all metrics
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// gRPC request metrics
		GrpcRequestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "grpc",
				Name:      "request_duration_seconds",
				Help:      "Histogram of gRPC request latencies",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "code"},
		),

		GrpcRequestTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "grpc",
				Name:      "request_total",
				Help:      "Total number of gRPC requests",
			},
			[]string{"method", "code"},
		),

		GrpcRequestInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "grpc",
				Name:      "request_in_flight",
				Help:      "Current number of in-flight gRPC requests",
			},
			[]string{"method"},
		),

		// HTTP request metrics
		HTTPRequestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Histogram of HTTP request latencies",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "code"},
		),

		HTTPRequestTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "code"},
		),

		// Connection metrics
		ActiveConnections: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "active_connections",
				Help:      "Current number of active connections",
			},
		),

		TotalConnections: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "connections_total",
				Help:      "Total number of connections accepted",
			},
		),

		RejectedConnections: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "rejected_connections_total",
				Help:      "Total number of connections rejected",
			},
			[]string{"reason"}, // "limit_exceeded", "rate_limit"
		),

		// Rate limiting metrics
		RateLimitHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "rate_limit_hits_total",
				Help:      "Total number of rate limit hits",
			},
			[]string{"method"},
		),

		// Local store metrics
		CacheOperationTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "operation_total",
				Help:      "Total number of local store operations",
			},
			[]string{"operation", "result"}, // result: "hit", "miss", "ok", "invalid"
		),

		CacheKeys: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "keys",
				Help:      "Current number of keys in the local store",
			},
		),

		// Propagation metrics
		PropagationEnqueued: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "propagation",
				Name:      "enqueued_total",
				Help:      "Total number of propagation jobs enqueued",
			},
			[]string{"kind"}, // "store", "remove"
		),

		PropagationJobsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "propagation",
				Name:      "jobs_total",
				Help:      "Total number of propagation jobs executed, by outcome",
			},
			[]string{"kind", "outcome"},
		),

		PropagationJobDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "propagation",
				Name:      "job_duration_seconds",
				Help:      "Histogram of upstream call latencies for propagation jobs",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		PropagationQueueDepth: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "propagation",
				Name:      "queue_depth",
				Help:      "Current number of queued propagation jobs",
			},
		),

		ReadThroughTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "propagation",
				Name:      "read_through_total",
				Help:      "Total number of read-through fetches from the parent",
			},
			[]string{"result"}, // "found", "not_found", "error"
		),

		// Topology metrics
		TopologyNodes: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "topology",
				Name:      "nodes",
				Help:      "Current number of nodes in the tree, root included",
			},
		),

		TopologyDepth: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "topology",
				Name:      "depth",
				Help:      "Current number of levels in the tree",
			},
		),

		TopologyAssignments: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "topology",
				Name:      "assignments_total",
				Help:      "Total number of parent assignment requests",
			},
			[]string{"result"}, // "placed", "rejoined", "invalid", "invariant"
		),

		// Registration metrics
		DiscoverySweeps: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registration",
				Name:      "discovery_sweeps_total",
				Help:      "Total number of breadth-first sweeps of the coordination namespace",
			},
		),

		RegistrationTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registration",
				Name:      "total",
				Help:      "Total number of registration attempts",
			},
			[]string{"role", "result"},
		),

		// Panic recovery metrics
		PanicsRecovered: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "panics_recovered_total",
				Help:      "Total number of panics recovered",
			},
			[]string{"goroutine"},
		),
	}

	return m
}

// RecordGrpcRequest records a gRPC request's duration and status
func (m *Metrics) RecordGrpcRequest(method string, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GrpcRequestDuration.WithLabelValues(method, code).Observe(duration.Seconds())
	m.GrpcRequestTotal.WithLabelValues(method, code).Inc()
}

// RecordHTTPRequest records an HTTP request's duration and status
func (m *Metrics) RecordHTTPRequest(route string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	c := strconv.Itoa(code)
	m.HTTPRequestDuration.WithLabelValues(route, c).Observe(duration.Seconds())
	m.HTTPRequestTotal.WithLabelValues(route, c).Inc()
}

// RecordCacheOperation records a local store operation
func (m *Metrics) RecordCacheOperation(operation, result string) {
	if m == nil {
		return
	}
	m.CacheOperationTotal.WithLabelValues(operation, result).Inc()
}

// SetCacheKeys sets the local store size
func (m *Metrics) SetCacheKeys(n int) {
	if m == nil {
		return
	}
	m.CacheKeys.Set(float64(n))
}

// RecordEnqueue records a job entering the propagation queue
func (m *Metrics) RecordEnqueue(kind string, depth int) {
	if m == nil {
		return
	}
	m.PropagationEnqueued.WithLabelValues(kind).Inc()
	m.PropagationQueueDepth.Set(float64(depth))
}

// RecordPropagation records the outcome of one propagation job
func (m *Metrics) RecordPropagation(kind, outcome string, duration time.Duration, depth int) {
	if m == nil {
		return
	}
	m.PropagationJobsTotal.WithLabelValues(kind, outcome).Inc()
	m.PropagationJobDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.PropagationQueueDepth.Set(float64(depth))
}

// SetQueueDepth sets the propagation queue depth
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.PropagationQueueDepth.Set(float64(depth))
}

// RecordReadThrough records a read-through fetch
func (m *Metrics) RecordReadThrough(result string) {
	if m == nil {
		return
	}
	m.ReadThroughTotal.WithLabelValues(result).Inc()
}

// RecordAssignment records a parent assignment and the resulting tree shape
func (m *Metrics) RecordAssignment(result string, nodes, depth int) {
	if m == nil {
		return
	}
	m.TopologyAssignments.WithLabelValues(result).Inc()
	m.TopologyNodes.Set(float64(nodes))
	m.TopologyDepth.Set(float64(depth))
}

// RecordDiscoverySweep records one breadth-first sweep
func (m *Metrics) RecordDiscoverySweep() {
	if m == nil {
		return
	}
	m.DiscoverySweeps.Inc()
}

// RecordRegistration records the outcome of startup registration
func (m *Metrics) RecordRegistration(role, result string) {
	if m == nil {
		return
	}
	m.RegistrationTotal.WithLabelValues(role, result).Inc()
}

// RecordRateLimitHit records a rate limit hit
func (m *Metrics) RecordRateLimitHit(method string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(method).Inc()
}

// RecordConnectionRejected records a rejected connection
func (m *Metrics) RecordConnectionRejected(reason string) {
	if m == nil {
		return
	}
	m.RejectedConnections.WithLabelValues(reason).Inc()
}

// RecordPanicRecovered records a recovered panic
func (m *Metrics) RecordPanicRecovered(goroutine string) {
	if m == nil {
		return
	}
	m.PanicsRecovered.WithLabelValues(goroutine).Inc()
}

// Package observability holds the Prometheus collector and the OpenTelemetry
// tracing setup for the graph engine.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the application. Metrics live
// on their own registry so tests can create collectors without colliding
// with the default global one.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Engine metrics
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	NodesCreated      prometheus.Counter
	NodesDeleted      prometheus.Counter

	// Sync metrics
	EventsApplied *prometheus.CounterVec
	StreamChunks  prometheus.Counter

	// History metrics
	HistoryDepth prometheus.Gauge
}

// NewCollector creates a metrics collector under the given namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	operations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_operations_total",
			Help:      "Total number of graph mutations by operation and outcome",
		},
		[]string{"operation", "status"},
	)

	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_operation_duration_seconds",
			Help:      "Graph mutation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	nodesCreated := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_created_total",
			Help:      "Total number of nodes created",
		},
	)

	nodesDeleted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_deleted_total",
			Help:      "Total number of nodes deleted",
		},
	)

	eventsApplied := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_events_applied_total",
			Help:      "Total number of remote events applied by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	streamChunks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Total number of streamed token chunks staged",
		},
	)

	historyDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_depth",
			Help:      "Number of undoable snapshots currently held",
		},
	)

	registry.MustRegister(
		httpRequests,
		httpDuration,
		operations,
		operationDuration,
		nodesCreated,
		nodesDeleted,
		eventsApplied,
		streamChunks,
		historyDepth,
	)

	return &Collector{
		registry:          registry,
		HTTPRequests:      httpRequests,
		HTTPDuration:      httpDuration,
		Operations:        operations,
		OperationDuration: operationDuration,
		NodesCreated:      nodesCreated,
		NodesDeleted:      nodesDeleted,
		EventsApplied:     eventsApplied,
		StreamChunks:      streamChunks,
		HistoryDepth:      historyDepth,
	}
}

// ObserveOperation records one engine operation with its outcome.
func (c *Collector) ObserveOperation(operation, status string, elapsed time.Duration) {
	c.Operations.WithLabelValues(operation, status).Inc()
	c.OperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveEvent records one applied remote event.
func (c *Collector) ObserveEvent(kind, status string) {
	c.EventsApplied.WithLabelValues(kind, status).Inc()
}

// Registry returns the Prometheus registry for this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

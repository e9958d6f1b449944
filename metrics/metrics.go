// Package metrics defines the Prometheus collectors for this module; the
// pool layer is the only one that updates them. Collectors are registered
// at package init so any component can reference them without threading
// a registry through every constructor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks the number of acquired connections per pool context.
	ConnectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tdsclient_connections_active",
		Help: "Number of connections currently acquired, by pool context",
	}, []string{"context"})

	// ConnectionsIdle tracks the number of idle connections per pool context.
	ConnectionsIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tdsclient_connections_idle",
		Help: "Number of idle connections held in the pool, by pool context",
	}, []string{"context"})

	// ConnectionsPinned tracks connections that are enlisted in a transaction
	// and therefore not eligible to return to the idle stack.
	ConnectionsPinned = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tdsclient_connections_pinned",
		Help: "Number of connections pinned to an open transaction, by pool context",
	}, []string{"context"})

	// ConnectionsTotal counts acquire/release/create/discard operations.
	ConnectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tdsclient_connections_total",
		Help: "Total connection pool operations, by pool context and outcome",
	}, []string{"context", "status"})

	// ConnectionErrors counts connection-level failures by cause.
	ConnectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tdsclient_connection_errors_total",
		Help: "Total connection errors, by pool context and error type",
	}, []string{"context", "error_type"})

	// QueueLength tracks how many acquirers are currently waiting.
	QueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tdsclient_acquire_queue_length",
		Help: "Number of callers waiting for a connection, by pool context",
	}, []string{"context"})

	// QueueWaitDuration tracks how long Acquire callers waited in queue.
	QueueWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tdsclient_acquire_wait_seconds",
		Help:    "Time spent waiting for a pooled connection, by pool context",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"context"})

	// QueryDuration is a histogram for execute_batch-to-final-DONE latency.
	// No package in this module observes it.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tdsclient_query_duration_seconds",
		Help:    "Batch execution duration from send to final DONE, by pool context",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"context"})

	// PinningDuration is a histogram for how long connections stay pinned
	// to a transaction. No package in this module observes it.
	PinningDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tdsclient_pinning_duration_seconds",
		Help:    "Duration a connection stayed pinned to an open transaction, by pool context",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"context"})
)

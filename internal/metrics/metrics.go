// Package metrics holds the process-wide Prometheus collectors. Components
// import this package and call the package-level vars directly rather than
// threading a registry through every constructor — matching the teacher's
// use of github.com/prometheus/client_golang in internal/escrow/metrics.go.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ERPXRequestsTotal counts every ERP client call by endpoint and outcome.
	ERPXRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acctagent_erpx_requests_total",
		Help: "ERP client requests by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	// ERPXRetryTotal counts retry attempts issued by the ERP client.
	ERPXRetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acctagent_erpx_retry_total",
		Help: "ERP client retry attempts by endpoint.",
	}, []string{"endpoint"})

	// ERPXRequestDuration observes end-to-end call latency including
	// rate-limiter wait time.
	ERPXRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "acctagent_erpx_request_duration_seconds",
		Help:    "ERP client request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// DispatchQueueDepth gauges the number of runs waiting in the queue.
	DispatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "acctagent_dispatch_queue_depth",
		Help: "Number of runs currently queued for dispatch.",
	})

	// RunsTotal counts run terminal outcomes by run_type and status.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acctagent_runs_total",
		Help: "Completed runs by run_type and terminal status.",
	}, []string{"run_type", "status"})

	// RunAttempts observes the number of dispatch attempts a run needed.
	RunAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "acctagent_run_attempts",
		Help:    "Number of dispatch attempts per completed run.",
		Buckets: []float64{1, 2, 3, 4, 5},
	}, []string{"run_type"})

	// ApprovalDecisionsTotal counts approval decisions by outcome.
	ApprovalDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acctagent_approval_decisions_total",
		Help: "Approval decisions by decision and rejection reason (empty if accepted).",
	}, []string{"decision", "rejected_reason"})

	// BreakerStateChanges counts ERP client circuit breaker transitions.
	BreakerStateChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acctagent_erpx_breaker_state_changes_total",
		Help: "Circuit breaker state transitions for the ERP client.",
	}, []string{"from", "to"})
)

// Package metrics exposes Prometheus collectors for the planner core.
//
//   - planner_plan_requests_total{result}        – plan calls by outcome (ok|error)
//   - planner_plan_duration_seconds              – plan call latency histogram
//   - planner_plan_steps_total{action}            – steps emitted, by action
//   - planner_plan_path_items                     – path items in the last plan (gauge)
//   - planner_resolution_errors_total{kind}        – resolution/routing errors, by ErrorKind
//   - planner_balance_check_skipped_total          – plans where the balance check was skipped
//
// Registered through promauto when the package variables are initialized,
// and served by the HTTP handler mounted at /metrics
// (Prometheus text exposition format).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	planRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_plan_requests_total",
			Help: "Plan calls by outcome.",
		},
		[]string{"result"}, // ok|error
	)

	planDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "planner_plan_duration_seconds",
			Help:    "Plan call latency.",
			Buckets: prometheus.DefBuckets,
		},
	)

	planSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_plan_steps_total",
			Help: "Steps emitted by the sequencer, by action.",
		},
		[]string{"action"},
	)

	planPathItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "planner_plan_path_items",
			Help: "Path items in the most recently assembled plan.",
		},
	)

	resolutionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_resolution_errors_total",
			Help: "Resolution and routing errors surfaced to the client, by kind.",
		},
		[]string{"kind"},
	)

	balanceCheckSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "planner_balance_check_skipped_total",
			Help: "Plans completed with skip_balance_check honored (no Blur override).",
		},
	)
)

// ObservePlan records one Plan() call's outcome, duration, and shape.
func ObservePlan(result string, d time.Duration, pathItems int, stepCounts map[string]int, errKinds map[string]int) {
	planRequests.WithLabelValues(result).Inc()
	planDuration.Observe(d.Seconds())
	planPathItems.Set(float64(pathItems))
	for action, n := range stepCounts {
		planSteps.WithLabelValues(action).Add(float64(n))
	}
	for kind, n := range errKinds {
		resolutionErrors.WithLabelValues(kind).Add(float64(n))
	}
}

// IncBalanceCheckSkipped records a plan where the caller's
// skip_balance_check request was honored.
func IncBalanceCheckSkipped() { balanceCheckSkipped.Inc() }

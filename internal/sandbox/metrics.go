package sandbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var runsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "datapilot_sandbox_runs_total",
		Help: "Sandbox runs by outcome.",
	},
	[]string{"outcome"},
)

var runDurationHistogram = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "datapilot_sandbox_run_duration_seconds",
		Help:    "Wall-clock duration of sandbox runs, including provisioning and teardown.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 9),
	},
	[]string{"outcome"},
)

var teardownFailuresCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "datapilot_sandbox_teardown_failures_total",
		Help: "Sandbox environments that could not be removed.",
	},
)

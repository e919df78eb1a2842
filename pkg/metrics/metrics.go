// Package metrics exposes run-engine counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the engine's Prometheus metrics. A nil *Collector records
// nothing, so callers never need to guard.
type Collector struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	activeRuns    prometheus.Gauge
	runDuration   prometheus.Histogram

	stepsExecuted *prometheus.CounterVec
	stepDuration  prometheus.Histogram

	locatorResolved *prometheus.CounterVec
}

// NewCollector registers the engine metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "testpilot_runs_started_total",
			Help: "Number of test runs started.",
		}),
		runsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "testpilot_runs_completed_total",
			Help: "Number of test runs finalized, by terminal status.",
		}, []string{"status"}),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "testpilot_runs_active",
			Help: "Number of test runs currently executing.",
		}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "testpilot_run_duration_seconds",
			Help:    "Wall-clock duration of finalized test runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		stepsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "testpilot_steps_executed_total",
			Help: "Number of steps executed, by action and outcome.",
		}, []string{"action", "status"}),
		stepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "testpilot_step_duration_seconds",
			Help:    "Duration of individual step executions.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		locatorResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "testpilot_locator_resolutions_total",
			Help: "Locator resolutions, by winning strategy (or 'none').",
		}, []string{"strategy"}),
	}
}

// RecordRunStarted counts a run entering execution.
func (c *Collector) RecordRunStarted() {
	if c == nil {
		return
	}
	c.runsStarted.Inc()
	c.activeRuns.Inc()
}

// RecordRunCompleted counts a finalized run.
func (c *Collector) RecordRunCompleted(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.runsCompleted.WithLabelValues(status).Inc()
	c.activeRuns.Dec()
	c.runDuration.Observe(duration.Seconds())
}

// RecordStep counts one executed step.
func (c *Collector) RecordStep(action, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stepsExecuted.WithLabelValues(action, status).Inc()
	c.stepDuration.Observe(duration.Seconds())
}

// RecordLocatorResolution counts the strategy that won a resolution, or "none"
// when resolution failed outright.
func (c *Collector) RecordLocatorResolution(strategy string) {
	if c == nil {
		return
	}
	if strategy == "" {
		strategy = "none"
	}
	c.locatorResolved.WithLabelValues(strategy).Inc()
}

// Package telemetry registers the engine's Prometheus instrumentation.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's instrument set. One instance per process;
// register it against a caller-owned registry.
type Metrics struct {
	JudgeCalls   *prometheus.CounterVec
	JudgeLatency prometheus.Histogram
	RunDuration  prometheus.Histogram
	RunsTotal    *prometheus.CounterVec
}

// New builds and registers the instrument set.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JudgeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teval",
			Subsystem: "judge",
			Name:      "calls_total",
			Help:      "Judge invocations by terminal outcome.",
		}, []string{"outcome"}),
		JudgeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "teval",
			Subsystem: "judge",
			Name:      "call_duration_seconds",
			Help:      "Wall-clock duration of judge invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "teval",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of scenario runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teval",
			Subsystem: "run",
			Name:      "completed_total",
			Help:      "Completed scenario runs by final score status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.JudgeCalls, m.JudgeLatency, m.RunDuration, m.RunsTotal)
	}
	return m
}

// ObserveJudgeCall records one terminal judge invocation.
func (m *Metrics) ObserveJudgeCall(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.JudgeCalls.WithLabelValues(outcome).Inc()
	m.JudgeLatency.Observe(elapsed.Seconds())
}

// ObserveRun records one completed scenario run.
func (m *Metrics) ObserveRun(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
}

// Package metrics provides Prometheus metrics for flow runs and tool calls.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	RunsTotal      *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	ToolCallsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flows_runs_total",
				Help: "Total number of flow runs by flow and status.",
			},
			[]string{"flow", "status"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flows_run_duration_seconds",
				Help:    "Flow run duration in seconds.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"flow"},
		),
		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flows_tool_calls_total",
				Help: "Total number of bridged tool calls by tool and status.",
			},
			[]string{"tool", "status"},
		),
		registry: reg,
	}

	reg.MustRegister(m.RunsTotal, m.RunDuration, m.ToolCallsTotal)
	return m
}

// RecordRun counts one finished flow run.
func (m *Metrics) RecordRun(flow, status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(flow, status).Inc()
}

// ObserveDuration records how long a flow run took.
func (m *Metrics) ObserveDuration(flow string, seconds float64) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(flow).Observe(seconds)
}

// RecordToolCall counts one bridged tool call.
func (m *Metrics) RecordToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
}

// Handler returns an HTTP handler serving the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

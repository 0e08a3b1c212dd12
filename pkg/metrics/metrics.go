// Package metrics exposes Prometheus instrumentation for the
// orchestration core. Counters are package-level; the HTTP layer mounts
// Handler() under /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	inboundMsgs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "axon_inbound_messages_total",
		Help: "Inbound channel messages consumed",
	}, []string{"instance"})
	generateCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "axon_generate_calls_total",
		Help: "Model generate calls",
	}, []string{"provider", "status"})
	loopIterations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "axon_loop_iterations_total",
		Help: "Agentic loop iterations executed",
	})
	toolExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "axon_tool_executions_total",
		Help: "Tool executions by outcome",
	}, []string{"tool", "status"})
	toolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "axon_tool_duration_seconds",
		Help:    "Tool execution latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})
	automationRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "axon_automation_runs_total",
		Help: "Automation executions by outcome",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(inboundMsgs, generateCalls, loopIterations, toolExecutions, toolDuration, automationRuns)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler { return promhttp.Handler() }

func IncInbound(instanceID string) { inboundMsgs.WithLabelValues(instanceID).Inc() }

func IncGenerate(provider, status string) { generateCalls.WithLabelValues(provider, status).Inc() }

func IncLoopIteration() { loopIterations.Inc() }

func IncTool(tool, status string) { toolExecutions.WithLabelValues(tool, status).Inc() }

func ObserveToolDuration(tool string, seconds float64) {
	toolDuration.WithLabelValues(tool).Observe(seconds)
}

func IncAutomation(status string) { automationRuns.WithLabelValues(status).Inc() }

// Package metrics exposes the Prometheus counters/histograms the booking
// pipeline's own components emit: turns processed by the orchestrator,
// tool-call outcomes, breaker state transitions, and scheduler job runs.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the conversational
// booking pipeline.
type BookingMetrics struct {
	turnsTotal     *prometheus.CounterVec
	turnLatency    *prometheus.HistogramVec
	toolCallsTotal *prometheus.CounterVec
	breakerState   *prometheus.CounterVec
	schedulerRuns  *prometheus.CounterVec
}

// NewBookingMetrics builds and registers the metric set against reg, or
// the default registerer if reg is nil.
func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atrevete",
			Subsystem: "orchestrator",
			Name:      "turns_total",
			Help:      "Total conversation turns processed, by resulting FSM state and outcome",
		}, []string{"state", "outcome"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "atrevete",
			Subsystem: "orchestrator",
			Name:      "turn_latency_seconds",
			Help:      "Latency of a full orchestrator turn, from inbound message to reply enqueued",
			Buckets:   prometheus.DefBuckets,
		}, []string{"state"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atrevete",
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Total tool executions, by tool name and outcome",
		}, []string{"tool", "outcome"}),
		breakerState: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atrevete",
			Subsystem: "breaker",
			Name:      "state_transitions_total",
			Help:      "Total circuit breaker state transitions, by breaker name and new state",
		}, []string{"name", "state"}),
		schedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atrevete",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Total confirmation scheduler job runs, by job name and outcome",
		}, []string{"job", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.turnLatency, m.toolCallsTotal, m.breakerState, m.schedulerRuns)
	return m
}

// ObserveTurn records a completed orchestrator turn.
func (m *BookingMetrics) ObserveTurn(state, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(state, outcome).Inc()
	m.turnLatency.WithLabelValues(state).Observe(seconds)
}

// ObserveToolCall records a single tool execution's outcome.
func (m *BookingMetrics) ObserveToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// ObserveBreakerTransition records a circuit breaker flipping to a new
// state.
func (m *BookingMetrics) ObserveBreakerTransition(name, state string) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name, state).Inc()
}

// ObserveSchedulerRun records one confirmation-scheduler job execution.
func (m *BookingMetrics) ObserveSchedulerRun(job, outcome string) {
	if m == nil {
		return
	}
	m.schedulerRuns.WithLabelValues(job, outcome).Inc()
}

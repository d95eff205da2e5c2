// Package metric exposes engine operational counters as Prometheus
// metrics.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/semflow/engine"
)

// Sink implements engine.MetricsSink on a Prometheus registry.
type Sink struct {
	registry *prometheus.Registry

	ticks           prometheus.Counter
	tasksDispatched *prometheus.CounterVec
	taskResults     *prometheus.CounterVec
	conflicts       *prometheus.CounterVec
	currentPhase    prometheus.Gauge
	activeConflicts prometheus.Gauge
}

// NewSink creates a sink with its own registry.
func NewSink() *Sink {
	s := &Sink{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "semflow_ticks_total",
			Help: "Committed engine ticks.",
		}),
		tasksDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "semflow_tasks_dispatched_total",
			Help: "Tasks dispatched to agents.",
		}, []string{"agent_type"}),
		taskResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "semflow_task_results_total",
			Help: "Task results by terminal status.",
		}, []string{"agent_type", "status"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "semflow_conflicts_total",
			Help: "Conflicts detected by severity.",
		}, []string{"severity"}),
		currentPhase: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "semflow_current_phase",
			Help: "Current pipeline phase index.",
		}),
		activeConflicts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "semflow_active_conflicts",
			Help: "Conflicts currently unresolved.",
		}),
	}
	s.registry.MustRegister(
		s.ticks,
		s.tasksDispatched,
		s.taskResults,
		s.conflicts,
		s.currentPhase,
		s.activeConflicts,
	)
	return s
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry for additional collectors.
func (s *Sink) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Sink) TickCommitted() {
	s.ticks.Inc()
}

func (s *Sink) TaskDispatched(agent engine.AgentType) {
	s.tasksDispatched.WithLabelValues(string(agent)).Inc()
}

func (s *Sink) TaskResult(agent engine.AgentType, status engine.TaskStatus) {
	s.taskResults.WithLabelValues(string(agent), string(status)).Inc()
}

func (s *Sink) ConflictDetected(severity engine.Severity) {
	s.conflicts.WithLabelValues(string(severity)).Inc()
}

func (s *Sink) PhaseChanged(phase int) {
	s.currentPhase.Set(float64(phase))
}

func (s *Sink) ActiveConflicts(count int) {
	s.activeConflicts.Set(float64(count))
}

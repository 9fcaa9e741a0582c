// Package metrics records engine activity for trigger activations and action executions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector defines the interface for collecting metrics
type Collector interface {
	// RecordActivation records a trigger that fired
	RecordActivation(trigger string, kind string)
	// RecordActionExecution records an action outcome ("success", "failed", "skipped")
	RecordActionExecution(kind string, status string, duration time.Duration)
	// RecordConditionError records a condition check that failed internally
	RecordConditionError(kind string)
	// RecordHookDrop records a key event dropped because the dispatch queue was full
	RecordHookDrop()
}

// Nop is a Collector that records nothing.
type Nop struct{}

func (Nop) RecordActivation(string, string)                     {}
func (Nop) RecordActionExecution(string, string, time.Duration) {}
func (Nop) RecordConditionError(string)                         {}
func (Nop) RecordHookDrop()                                     {}

// Prometheus wraps Prometheus metrics for the trigger engine.
type Prometheus struct {
	registry *prometheus.Registry

	Activations      *prometheus.CounterVec
	ActionExecutions *prometheus.CounterVec
	ActionDuration   *prometheus.HistogramVec
	ConditionErrors  *prometheus.CounterVec
	HookDrops        prometheus.Counter
}

// NewPrometheus creates a collector with its own registry under the given namespace.
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "apptrigger"
	}
	reg := prometheus.NewRegistry()

	p := &Prometheus{
		registry: reg,
		Activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_activations_total",
			Help:      "Total number of trigger activations",
		}, []string{"trigger", "kind"}),
		ActionExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_executions_total",
			Help:      "Total number of action executions by outcome",
		}, []string{"kind", "status"}),
		ActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Duration of action executions in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		ConditionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "condition_errors_total",
			Help:      "Condition checks that failed internally and evaluated to false",
		}, []string{"kind"}),
		HookDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_dropped_events_total",
			Help:      "Key events dropped because the dispatch queue was full",
		}),
	}

	reg.MustRegister(p.Activations, p.ActionExecutions, p.ActionDuration, p.ConditionErrors, p.HookDrops)
	return p
}

// Registry returns the underlying Prometheus registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler returns an HTTP handler exposing the collected metrics.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) RecordActivation(trigger, kind string) {
	p.Activations.WithLabelValues(trigger, kind).Inc()
}

func (p *Prometheus) RecordActionExecution(kind, status string, duration time.Duration) {
	p.ActionExecutions.WithLabelValues(kind, status).Inc()
	if status != "skipped" {
		p.ActionDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

func (p *Prometheus) RecordConditionError(kind string) {
	p.ConditionErrors.WithLabelValues(kind).Inc()
}

func (p *Prometheus) RecordHookDrop() {
	p.HookDrops.Inc()
}

// Package metrics exposes Prometheus collectors for the orchestration engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "backbeat"

// Metrics groups the engine's collectors. A nil *Metrics records nothing.
type Metrics struct {
	Transitions     *prometheus.CounterVec
	EventsScheduled *prometheus.CounterVec
	EventsPerformed *prometheus.CounterVec
	EventsSkipped   *prometheus.CounterVec
	WatchdogFires   *prometheus.CounterVec
	JobsClaimed     prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Node status transitions by axis and result.",
		}, []string{"axis", "result"}),
		EventsScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_scheduled_total",
			Help:      "Events handed to the dispatch queue.",
		}, []string{"event", "scheduler"}),
		EventsPerformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_performed_total",
			Help:      "Events executed by workers.",
		}, []string{"event", "result"}),
		EventsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_skipped_total",
			Help:      "Events not dispatched because their node is deactivated.",
		}, []string{"event"}),
		WatchdogFires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watchdog_fires_total",
			Help:      "Watchdog timeouts delivered or discarded as stale.",
		}, []string{"name", "result"}),
		JobsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_claimed_total",
			Help:      "Due jobs claimed from the delayed queue.",
		}),
	}

	reg.MustRegister(m.Transitions, m.EventsScheduled, m.EventsPerformed, m.EventsSkipped, m.WatchdogFires, m.JobsClaimed)

	return m
}

func (m *Metrics) Transition(axis, result string) {
	if m == nil {
		return
	}

	m.Transitions.WithLabelValues(axis, result).Inc()
}

func (m *Metrics) Scheduled(event, scheduler string) {
	if m == nil {
		return
	}

	m.EventsScheduled.WithLabelValues(event, scheduler).Inc()
}

func (m *Metrics) Performed(event string, err error) {
	if m == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}

	m.EventsPerformed.WithLabelValues(event, result).Inc()
}

func (m *Metrics) Skipped(event string) {
	if m == nil {
		return
	}

	m.EventsSkipped.WithLabelValues(event).Inc()
}

func (m *Metrics) WatchdogFired(name, result string) {
	if m == nil {
		return
	}

	m.WatchdogFires.WithLabelValues(name, result).Inc()
}

func (m *Metrics) Claimed(n int) {
	if m == nil {
		return
	}

	m.JobsClaimed.Add(float64(n))
}

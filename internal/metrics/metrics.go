// Package metrics exposes Prometheus instruments for the screening pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// outcomeClean labels decisions where no rule matched.
const outcomeClean = "CLEAN"

// Metrics holds every collector on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	decisions          *prometheus.CounterVec
	decisionDuration   prometheus.Histogram
	rulesEvaluated     prometheus.Histogram
	evaluationFaults   *prometheus.CounterVec
	auditFailures      prometheus.Counter
	notifications      *prometheus.CounterVec
	subscribers        prometheus.Gauge
	droppedSubscribers prometheus.Counter
	publishFailures    *prometheus.CounterVec
	ruleSnapshotSize   prometheus.Gauge
	eventsRouted       *prometheus.CounterVec
	reactionFailures   *prometheus.CounterVec
}

// New registers all collectors under namespace.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Screening decisions by final action",
		}, []string{"action"}),
		decisionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_duration_seconds",
			Help:      "Time taken to match an application against the rule snapshot",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		rulesEvaluated: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rules_evaluated",
			Help:      "Rules tested per decision",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		evaluationFaults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_faults_total",
			Help:      "Conditions that could not be evaluated and were treated as non-matches",
		}, []string{"rule_id"}),
		auditFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_failures_total",
			Help:      "Audit logs that could not be persisted",
		}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_published_total",
			Help:      "Notifications published by type",
		}, []string{"type"}),
		subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notification_subscribers",
			Help:      "Live notification stream subscribers",
		}),
		droppedSubscribers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_subscribers_dropped_total",
			Help:      "Subscribers disconnected because their buffer was full",
		}),
		publishFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_publish_failures_total",
			Help:      "Failed event bus publishes by topic",
		}, []string{"topic"}),
		ruleSnapshotSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enabled_rules",
			Help:      "Enabled rules in the active snapshot",
		}),
		eventsRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_routed_total",
			Help:      "Operational events by the routing rule that matched them",
		}, []string{"rule"}),
		reactionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_reaction_failures_total",
			Help:      "Event reactions that failed by kind",
		}, []string{"kind"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordDecision records one decision. An empty action means no rule matched.
func (m *Metrics) RecordDecision(action string, rulesEvaluated int, d time.Duration) {
	if m == nil {
		return
	}
	if action == "" {
		action = outcomeClean
	}
	m.decisions.WithLabelValues(action).Inc()
	m.rulesEvaluated.Observe(float64(rulesEvaluated))
	m.decisionDuration.Observe(d.Seconds())
}

func (m *Metrics) EvaluationFault(ruleID int64) {
	if m == nil {
		return
	}
	m.evaluationFaults.WithLabelValues(strconv.FormatInt(ruleID, 10)).Inc()
}

func (m *Metrics) AuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

func (m *Metrics) NotificationPublished(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved(dropped bool) {
	if m == nil {
		return
	}
	m.subscribers.Dec()
	if dropped {
		m.droppedSubscribers.Inc()
	}
}

func (m *Metrics) PublishFailure(topic string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(topic).Inc()
}

func (m *Metrics) SetEnabledRules(n int) {
	if m == nil {
		return
	}
	m.ruleSnapshotSize.Set(float64(n))
}

// EventRouted counts an event matched by rule. An empty rule means no
// routing rule matched.
func (m *Metrics) EventRouted(rule string) {
	if m == nil {
		return
	}
	if rule == "" {
		rule = "none"
	}
	m.eventsRouted.WithLabelValues(rule).Inc()
}

func (m *Metrics) ReactionFailure(kind string) {
	if m == nil {
		return
	}
	m.reactionFailures.WithLabelValues(kind).Inc()
}

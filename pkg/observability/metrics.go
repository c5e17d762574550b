// Package observability exposes the engine's Prometheus metric set.
// Every component takes it as an optional dependency and stays silent
// when it is nil.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the engine-level Prometheus collectors.
type Metrics struct {
	TurnsTotal       *prometheus.CounterVec
	TurnDuration     prometheus.Histogram
	ResolverMatches  *prometheus.CounterVec
	HookFailures     prometheus.Counter
	RecoveryOutcomes *prometheus.CounterVec
	SessionEvictions *prometheus.CounterVec
	SessionsCreated  prometheus.Counter
}

// NewMetrics registers the collector set on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatflow_turns_total",
			Help: "Total conversational turns processed, by outcome",
		}, []string{"outcome"}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatflow_turn_duration_seconds",
			Help:    "Duration of one conversational turn",
			Buckets: prometheus.DefBuckets,
		}),
		ResolverMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatflow_resolver_matches_total",
			Help: "Selection resolver results, by matching strategy",
		}, []string{"strategy"}),
		HookFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatflow_stage_hook_failures_total",
			Help: "Stage-transition hook invocations that returned an error",
		}),
		RecoveryOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatflow_recovery_outcomes_total",
			Help: "Error recovery results, by terminal state",
		}, []string{"outcome"}),
		SessionEvictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatflow_session_evictions_total",
			Help: "Sessions soft-expired by the store, by reason",
		}, []string{"reason"}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatflow_sessions_created_total",
			Help: "Sessions created",
		}),
	}
}

// ObserveEviction is nil-safe.
func (m *Metrics) ObserveEviction(reason string) {
	if m == nil {
		return
	}
	m.SessionEvictions.WithLabelValues(reason).Inc()
}

// ObserveTurn is nil-safe.
func (m *Metrics) ObserveTurn(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(seconds)
}

// ObserveResolver is nil-safe.
func (m *Metrics) ObserveResolver(strategy string) {
	if m == nil {
		return
	}
	m.ResolverMatches.WithLabelValues(strategy).Inc()
}

// ObserveHookFailure is nil-safe.
func (m *Metrics) ObserveHookFailure() {
	if m == nil {
		return
	}
	m.HookFailures.Inc()
}

// ObserveRecovery is nil-safe.
func (m *Metrics) ObserveRecovery(outcome string) {
	if m == nil {
		return
	}
	m.RecoveryOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveSessionCreated is nil-safe.
func (m *Metrics) ObserveSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

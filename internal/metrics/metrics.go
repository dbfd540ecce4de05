package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	analysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pageguard_analyses_total",
		Help: "Total number of page analyses by decision",
	}, []string{"decision"})
	blockedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pageguard_blocked_total",
		Help: "Total number of pages given a blocking verdict",
	})
	ruleRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pageguard_rule_refresh_total",
		Help: "Total number of rule refresh attempts by result",
	}, []string{"result"})
	ruleFallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pageguard_rule_fallback_total",
		Help: "Total number of fallback activations by tier",
	}, []string{"tier"})
	droppedRulesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pageguard_dropped_rules_total",
		Help: "Total number of rules dropped for non-compiling patterns",
	})
	ruleGeneration = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pageguard_rule_generation",
		Help: "Currently active rule generation",
	})
	rogueLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pageguard_rogue_lookups_total",
		Help: "Total number of rogue application lookups by result",
	}, []string{"result"})
	eventsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pageguard_events_emitted_total",
		Help: "Total number of outbound events by type and result",
	}, []string{"type", "result"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		analysesTotal,
		blockedTotal,
		ruleRefreshTotal,
		ruleFallbackTotal,
		droppedRulesTotal,
		ruleGeneration,
		rogueLookupsTotal,
		eventsEmittedTotal,
	)
}

// IncAnalysis counts one analysis outcome.
func IncAnalysis(decision string) { analysesTotal.WithLabelValues(decision).Inc() }

// IncBlocked counts one blocking verdict.
func IncBlocked() { blockedTotal.Inc() }

// IncRuleRefresh counts one refresh attempt ("success" or "failure").
func IncRuleRefresh(result string) { ruleRefreshTotal.WithLabelValues(result).Inc() }

// IncRuleFallback counts one fallback activation ("cache", "baseline", "minimal").
func IncRuleFallback(tier string) { ruleFallbackTotal.WithLabelValues(tier).Inc() }

// AddDroppedRules adds the dropped-rule count of a newly compiled generation.
func AddDroppedRules(n int) { droppedRulesTotal.Add(float64(n)) }

// SetRuleGeneration records the active generation id.
func SetRuleGeneration(gen uint64) { ruleGeneration.Set(float64(gen)) }

// IncRogueLookup counts one rogue-app lookup ("hit" or "miss").
func IncRogueLookup(result string) { rogueLookupsTotal.WithLabelValues(result).Inc() }

// IncEventEmitted counts one outbound event delivery attempt.
func IncEventEmitted(eventType, result string) {
	eventsEmittedTotal.WithLabelValues(eventType, result).Inc()
}

// Package metrics exposes Prometheus counters for the alarm panel.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "alarm_panel_"

	unknownLabel = "unknown"
)

// Rule outcome labels.
const (
	RuleFired           = "fired"
	RuleScheduled       = "scheduled"
	RuleSkippedCooldown = "skipped_cooldown"
	RuleError           = "error"
)

// Result labels.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

//nolint:gochecknoglobals // Collectors are process-wide by nature.
var (
	registerOnce sync.Once

	transitionsTotal *prometheus.CounterVec
	currentState     *prometheus.GaugeVec
	eventsTotal      *prometheus.CounterVec
	codeAttempts     *prometheus.CounterVec

	rulePasses      *prometheus.CounterVec
	rulePassLatency prometheus.Histogram
	ruleOutcomes    *prometheus.CounterVec

	gatewayCalls   *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
)

// Init registers the collectors with the default registry. It is safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		transitionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "transitions_total",
				Help: "Total committed alarm state transitions",
			},
			[]string{"from", "to"},
		)
		currentState = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "state",
				Help: "Current alarm state, 1 for the active state",
			},
			[]string{"state"},
		)
		eventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_total",
				Help: "Total recorded alarm events by type",
			},
			[]string{"type"},
		)
		codeAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "code_attempts_total",
				Help: "Total code validations by result",
			},
			[]string{"result"},
		)
		rulePasses = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_passes_total",
				Help: "Total rule engine passes by result",
			},
			[]string{"result"},
		)
		rulePassLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "rule_pass_latency_seconds",
				Help:    "Rule engine pass latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		ruleOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_outcomes_total",
				Help: "Total rule outcomes by kind",
			},
			[]string{"outcome"},
		)
		gatewayCalls = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "gateway_calls_total",
				Help: "Total external gateway calls by gateway and result",
			},
			[]string{"gateway", "result"},
		)
		gatewayLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "gateway_latency_seconds",
				Help:    "External gateway call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"gateway"},
		)

		prometheus.MustRegister(
			transitionsTotal,
			currentState,
			eventsTotal,
			codeAttempts,
			rulePasses,
			rulePassLatency,
			ruleOutcomes,
			gatewayCalls,
			gatewayLatency,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTransition counts a transition and moves the state gauge.
func ObserveTransition(from, to string) {
	if from == "" {
		from = unknownLabel
	}

	if transitionsTotal != nil {
		transitionsTotal.WithLabelValues(from, to).Inc()
	}

	SetState(to)
}

// SetState marks state as the active one.
func SetState(state string) {
	if currentState == nil {
		return
	}

	currentState.Reset()
	currentState.WithLabelValues(state).Set(1)
}

// IncEvent counts a recorded event.
func IncEvent(eventType string) {
	if eventType == "" {
		eventType = unknownLabel
	}

	if eventsTotal != nil {
		eventsTotal.WithLabelValues(eventType).Inc()
	}
}

// IncCodeAttempt counts a code validation.
func IncCodeAttempt(result string) {
	if result == "" {
		result = unknownLabel
	}

	if codeAttempts != nil {
		codeAttempts.WithLabelValues(result).Inc()
	}
}

// ObserveRulePass records one engine pass and its outcome counters.
func ObserveRulePass(duration time.Duration, fired, scheduled, skipped, errs int) {
	result := ResultSuccess
	if errs > 0 {
		result = ResultError
	}

	if rulePasses != nil {
		rulePasses.WithLabelValues(result).Inc()
	}

	if rulePassLatency != nil {
		rulePassLatency.Observe(duration.Seconds())
	}

	if ruleOutcomes == nil {
		return
	}

	addOutcome(RuleFired, fired)
	addOutcome(RuleScheduled, scheduled)
	addOutcome(RuleSkippedCooldown, skipped)
	addOutcome(RuleError, errs)
}

// ObserveGatewayCall records an external call.
func ObserveGatewayCall(gateway string, err error, duration time.Duration) {
	if gateway == "" {
		gateway = unknownLabel
	}

	result := ResultSuccess
	if err != nil {
		result = ResultError
	}

	if gatewayCalls != nil {
		gatewayCalls.WithLabelValues(gateway, result).Inc()
	}

	if gatewayLatency != nil {
		gatewayLatency.WithLabelValues(gateway).Observe(duration.Seconds())
	}
}

func addOutcome(outcome string, count int) {
	if count <= 0 {
		return
	}

	ruleOutcomes.WithLabelValues(outcome).Add(float64(count))
}

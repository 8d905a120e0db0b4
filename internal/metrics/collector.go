package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the Prometheus metrics for the safety engine. Construct it
// with a dedicated registry in tests to avoid duplicate registration.
type Collector struct {
	DetectionsTotal     *prometheus.CounterVec
	ClassifierFailures  prometheus.Counter
	EventsPublished     *prometheus.CounterVec
	RuleEvaluations     prometheus.Counter
	RuleMatches         *prometheus.CounterVec
	RulesSkipped        *prometheus.CounterVec
	ExecutionsTotal     *prometheus.CounterVec
	ActionExecutions    *prometheus.CounterVec
	NotificationsTotal  *prometheus.CounterVec
	AlertsDeduplicated  prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewCollector registers and returns the safety engine metrics.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		DetectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safety_detections_total",
			Help: "Detection passes by category, method, confidence and verdict",
		}, []string{"category", "method", "confidence", "detected"}),

		ClassifierFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "safety_classifier_failures_total",
			Help: "Contextual classifier calls that fell back to the pattern verdict",
		}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safety_events_published_total",
			Help: "Events published on the in-process bus by type",
		}, []string{"event_type"}),

		RuleEvaluations: factory.NewCounter(prometheus.CounterOpts{
			Name: "workflow_rule_evaluations_total",
			Help: "Individual rule evaluations across all events",
		}),

		RuleMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_rule_matches_total",
			Help: "Rule matches by event type",
		}, []string{"event_type"}),

		RulesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_rules_skipped_total",
			Help: "Rules skipped during evaluation by reason",
		}, []string{"reason"}),

		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_executions_total",
			Help: "Workflow executions by outcome",
		}, []string{"success"}),

		ActionExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_action_executions_total",
			Help: "Action executions by type and status",
		}, []string{"action_type", "status"}),

		NotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Outbound notifications by channel and status",
		}, []string{"channel", "status"}),

		AlertsDeduplicated: factory.NewCounter(prometheus.CounterOpts{
			Name: "crisis_alerts_deduplicated_total",
			Help: "Crisis alert sends suppressed by the dedupe window",
		}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status code",
		}, []string{"method", "route", "code"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ObserveHTTP records one handled HTTP request.
func (c *Collector) ObserveHTTP(method, route, code string, elapsed time.Duration) {
	c.HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
	c.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

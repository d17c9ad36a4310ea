package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-wide instrument set. All counters are labeled at
// the granularity operators actually alert on; anything finer belongs in logs.
type Metrics struct {
	Registry *prometheus.Registry

	IntakeAccepted   *prometheus.CounterVec
	IntakeDuplicate  *prometheus.CounterVec
	IntakeRejected   *prometheus.CounterVec
	IntakeLatency    *prometheus.HistogramVec
	PublishFailures  *prometheus.CounterVec
	RateLimitTrips   *prometheus.CounterVec
	JobsCompleted    *prometheus.CounterVec
	JobsFailed       *prometheus.CounterVec
	QuotaDenials     *prometheus.CounterVec
	ApprovalsDecided *prometheus.CounterVec
	RulesEvaluated   prometheus.Counter
	SignalsMatched   *prometheus.CounterVec
}

// New builds a fresh registry with process and Go runtime collectors plus the
// domain instruments.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,
		IntakeAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "opsrelay_intake_accepted_total",
			Help: "Webhook deliveries accepted and persisted",
		}, []string{"source"}),
		IntakeDuplicate: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "opsrelay_intake_duplicate_total",
			Help: "Webhook deliveries recognized as duplicates",
		}, []string{"source"}),
		IntakeRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "opsrelay_intake_rejected_total",
			Help: "Webhook deliveries rejected before persistence",
		}, []string{"source", "reason"}),
		IntakeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "opsrelay_intake_duration_seconds",
			Help:    "Webhook intake pipeline latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		PublishFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "opsrelay_publish_failures_total",
			Help: "Best-effort broker publishes that failed",
		}, []string{"source"}),
		RateLimitTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "opsrelay_rate_limit_trips_total",
			Help: "Requests refused by the per-IP rate limiter",
		}, []string{"route"}),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "opsrelay_jobs_completed_total",
			Help: "Workflow jobs that completed successfully",
		}, []string{"action"}),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "opsrelay_jobs_failed_total",
			Help: "Workflow jobs that exhausted retries or failed permanently",
		}, []string{"action"}),
		QuotaDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "opsrelay_quota_denials_total",
			Help: "Operations refused by daily quota limits",
		}, []string{"kind"}),
		ApprovalsDecided: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "opsrelay_approvals_decided_total",
			Help: "Approval decisions recorded",
		}, []string{"status"}),
		RulesEvaluated: factory.NewCounter(prometheus.CounterOpts{
			Name: "opsrelay_rules_evaluated_total",
			Help: "Signal rules evaluated across all cycles",
		}),
		SignalsMatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "opsrelay_signals_matched_total",
			Help: "Signal matches produced by rule evaluation",
		}, []string{"rule"}),
	}
}

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	EventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_events_recorded_total",
			Help: "Stream events durably recorded, by verdict",
		},
		[]string{"verdict"},
	)

	EventsDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_events_duplicate_total",
			Help: "Stream events rejected because the event ID was already recorded",
		},
	)

	EventsLate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_events_late_total",
			Help: "Recorded events excluded from aggregates because their window was sealed",
		},
	)

	HistoryDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_history_degraded_total",
			Help: "History lookups that timed out and were analyzed against empty history",
		},
	)

	IngestShed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_ingest_shed_total",
			Help: "Events refused because the tracker was at its concurrency limit",
		},
	)

	RecordDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stream_record_duration_seconds",
			Help:    "End-to-end duration of a tracker record call",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	FraudFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_flags_total",
			Help: "Fraud heuristic flags raised, by flag code",
		},
		[]string{"flag"},
	)

	FraudScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fraud_score",
			Help:    "Distribution of fraud scores",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
	)

	// Aggregation
	WindowsSealed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aggregation_windows_sealed_total",
			Help: "Aggregation windows sealed and persisted",
		},
	)

	BucketsSealed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aggregation_buckets_sealed_total",
			Help: "Buckets persisted as part of sealed windows",
		},
	)

	SealedThrough = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aggregation_sealed_through_timestamp_seconds",
			Help: "Unix time up to which every window is sealed",
		},
	)

	// Settlement
	StatementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "royalty_statements_total",
			Help: "Per-artist settlement outcomes",
		},
		[]string{"outcome"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "royalty_run_duration_seconds",
			Help:    "Duration of settlement runs",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	PayoutSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "royalty_payout_submissions_total",
			Help: "Payout submissions, by result",
		},
		[]string{"result"},
	)

	// Circuit breakers
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Transport
	NotifyPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_publish_failures_total",
			Help: "Event-recorded notifications that could not be published",
		},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "endpoint"},
	)
)

// Statement outcomes.
const (
	OutcomeApproved     = "approved"
	OutcomeManualReview = "manual_review"
	OutcomeSkipped      = "skipped"
	OutcomeError        = "error"
)

// Payout results.
const (
	PayoutAccepted  = "accepted"
	PayoutFailed    = "failed"
	PayoutExhausted = "exhausted"
)

// RecordEvent records one durably recorded event and its analysis.
func RecordEvent(verdict string, score float64, flags []string, duration time.Duration) {
	EventsRecorded.WithLabelValues(verdict).Inc()
	FraudScore.Observe(score)
	for _, f := range flags {
		FraudFlags.WithLabelValues(f).Inc()
	}
	RecordDuration.Observe(duration.Seconds())
}

func RecordDuplicate() {
	EventsDuplicate.Inc()
}

// RecordLateEvent counts an event that reached the audit log after its
// window was sealed.
func RecordLateEvent() {
	EventsLate.Inc()
}

func RecordHistoryDegraded() {
	HistoryDegraded.Inc()
}

func RecordIngestShed() {
	IngestShed.Inc()
}

// RecordWindowSealed records a persisted window and advances the watermark gauge.
func RecordWindowSealed(buckets int, sealedThrough time.Time) {
	WindowsSealed.Inc()
	BucketsSealed.Add(float64(buckets))
	SealedThrough.Set(float64(sealedThrough.Unix()))
}

// RecordStatement records a per-artist settlement outcome.
func RecordStatement(outcome string) {
	StatementsTotal.WithLabelValues(outcome).Inc()
}

func RecordRun(duration time.Duration) {
	RunDuration.Observe(duration.Seconds())
}

// RecordPayout records a payout submission result.
func RecordPayout(result string) {
	PayoutSubmissions.WithLabelValues(result).Inc()
}

// RecordBreakerState sets a breaker's state gauge. A non-empty from also
// counts the transition.
func RecordBreakerState(name, from, to string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
	if from != "" {
		CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func RecordNotifyFailure() {
	NotifyPublishFailures.Inc()
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

/*
Package metrics defines Encore's Prometheus instruments.

Metrics are registered with promauto on the default registry and exposed at
/metrics by the API router. Components call the Record* helpers rather than
touching the vectors, so label values stay consistent.

# Ingestion

  - stream_events_recorded_total{verdict}
  - stream_events_duplicate_total
  - stream_events_late_total: events whose window was already sealed
  - stream_history_degraded_total: history lookups that timed out
  - stream_ingest_shed_total: events refused by the concurrency limiter
  - stream_record_duration_seconds
  - fraud_flags_total{flag}, fraud_score

# Aggregation

  - aggregation_windows_sealed_total, aggregation_buckets_sealed_total
  - aggregation_sealed_through_timestamp_seconds

# Settlement

  - royalty_statements_total{outcome}: approved, manual_review, skipped, error
  - royalty_run_duration_seconds
  - royalty_payout_submissions_total{result}: accepted, failed, exhausted

# Transport

  - notify_publish_failures_total
  - api_requests_total{method,endpoint,status_code}, api_request_duration_seconds

The audit log keeps its own auditlog_* metrics in package auditlog.
*/
package metrics

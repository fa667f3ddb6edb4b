// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package auditlog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for audit log operations
var (
	auditAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditlog_appends_total",
		Help: "Total number of audit records appended",
	})

	auditDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditlog_duplicates_total",
		Help: "Total number of appends rejected as duplicate event IDs",
	})

	auditAppendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditlog_append_failures_total",
		Help: "Total number of failed audit appends",
	})

	auditAppendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auditlog_append_latency_seconds",
		Help:    "Audit append latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	auditReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditlog_replayed_records_total",
		Help: "Total number of audit records replayed",
	})

	auditDBSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auditlog_db_size_bytes",
		Help: "BadgerDB LSM plus value log size in bytes",
	})

	auditGCRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditlog_gc_runs_total",
		Help: "Total number of BadgerDB value log GC runs",
	})
)

// RecordAppend records a successful append.
func RecordAppend(seconds float64) {
	auditAppendsTotal.Inc()
	auditAppendLatency.Observe(seconds)
}

// RecordDuplicate records a rejected duplicate.
func RecordDuplicate() {
	auditDuplicatesTotal.Inc()
}

// RecordAppendFailure records a failed append.
func RecordAppendFailure() {
	auditAppendFailures.Inc()
}

// RecordReplayed adds n replayed records.
func RecordReplayed(n int) {
	auditReplayedTotal.Add(float64(n))
}

// UpdateDBSize sets the database size gauge.
func UpdateDBSize(bytes int64) {
	auditDBSizeBytes.Set(float64(bytes))
}

// RecordGCRun records one value log GC pass.
func RecordGCRun() {
	auditGCRuns.Inc()
}

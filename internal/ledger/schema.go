// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package ledger

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates every ledger table and index.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}

// tableCreationQueries returns the schema. Timestamps are stored as UTC
// TIMESTAMP values supplied by the caller. Decimal multipliers and
// unrounded line amounts are stored as TEXT to round-trip exactly.
func tableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS artist_tier_profiles (
			artist_id TEXT PRIMARY KEY,
			tier TEXT NOT NULL,
			base_rate_per_play BIGINT NOT NULL,
			tier_multiplier TEXT NOT NULL,
			payout_ceiling BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS tracks (
			track_id TEXT PRIMARY KEY,
			artist_id TEXT NOT NULL,
			length_ms BIGINT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sealed_windows (
			window_start TIMESTAMP PRIMARY KEY,
			window_end TIMESTAMP NOT NULL,
			bucket_count INTEGER NOT NULL,
			sealed_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS aggregate_buckets (
			artist_id TEXT NOT NULL,
			track_id TEXT NOT NULL,
			window_start TIMESTAMP NOT NULL,
			window_end TIMESTAMP NOT NULL,
			valid_play_count BIGINT NOT NULL,
			flagged_play_count BIGINT NOT NULL,
			total_duration_ms BIGINT NOT NULL,
			PRIMARY KEY (artist_id, track_id, window_start)
		)`,

		`CREATE TABLE IF NOT EXISTS royalty_statements (
			statement_id TEXT PRIMARY KEY,
			idempotency_key TEXT NOT NULL UNIQUE,
			artist_id TEXT NOT NULL,
			period_start TIMESTAMP NOT NULL,
			period_end TIMESTAMP NOT NULL,
			kind TEXT NOT NULL,
			corrects_statement_id TEXT,
			gross_amount BIGINT NOT NULL,
			fraud_deduction BIGINT NOT NULL,
			net_amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			requires_review BOOLEAN NOT NULL,
			tier TEXT NOT NULL,
			base_rate_per_play BIGINT NOT NULL,
			tier_multiplier TEXT NOT NULL,
			valid_play_count BIGINT NOT NULL,
			flagged_play_count BIGINT NOT NULL,
			note TEXT,
			created_at TIMESTAMP NOT NULL,
			finalized_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS statement_lines (
			statement_id TEXT NOT NULL,
			track_id TEXT NOT NULL,
			window_start TIMESTAMP NOT NULL,
			valid_play_count BIGINT NOT NULL,
			flagged_play_count BIGINT NOT NULL,
			total_duration_ms BIGINT NOT NULL,
			gross TEXT NOT NULL,
			deduction TEXT NOT NULL,
			PRIMARY KEY (statement_id, track_id, window_start)
		)`,

		`CREATE TABLE IF NOT EXISTS statement_transitions (
			statement_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			reason TEXT,
			transitioned_at TIMESTAMP NOT NULL,
			PRIMARY KEY (statement_id, seq)
		)`,

		`CREATE TABLE IF NOT EXISTS payment_status (
			statement_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			last_attempt_at TIMESTAMP,
			reference_id TEXT,
			last_error TEXT,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_buckets_window ON aggregate_buckets(window_start)`,
		`CREATE INDEX IF NOT EXISTS idx_statements_artist ON royalty_statements(artist_id, period_start)`,
	}
}

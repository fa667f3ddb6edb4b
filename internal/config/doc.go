// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

/*
Package config assembles Encore's configuration with Koanf v2.

Configuration is layered, later layers overriding earlier ones:

  - Built-in defaults, taken from each component's DefaultConfig
  - An optional YAML file: $CONFIG_PATH, ./config.yaml or /etc/encore/config.yaml
  - Environment variables from an explicit mapping table

Only mapped environment variables are read, so unrelated variables in the
process environment never leak into the configuration.

# Sections

	server       HTTP listener, timeouts, webhook token
	logging      zerolog level and format
	fraud        heuristic thresholds and weights
	aggregation  window size and in-memory history bounds
	tracker      ingestion limits, clock skew, sealing, catalog cache
	audit_log    BadgerDB audit log
	database     DuckDB ledger
	royalty      flagged-play penalty and currency
	engine       settlement concurrency, ceiling, cadence, payment attempts
	payout       payment processor endpoint, rate limit, circuit breaker
	nats         event-recorded notifications
	rate_limit   per-client HTTP limits
	supervisor   suture restart policy

# Common Environment Variables

	HTTP_PORT                   listen port (default 8470)
	LOG_LEVEL, LOG_FORMAT       logging
	DUCKDB_PATH                 ledger file (default /data/encore.duckdb)
	AUDIT_LOG_PATH              audit log directory (default /data/auditlog)
	FRAUD_VELOCITY_MAX_PLAYS    plays per device before VELOCITY (default 5)
	SETTLEMENT_CADENCE          daily or weekly
	SETTLEMENT_DEFAULT_CEILING  auto-approval ceiling in minor units
	PAYOUT_URL, PAYOUT_API_KEY  payment processor; unset means manual payouts
	PAYOUT_CALLBACK_TOKEN       shared secret for the payment webhook
	NATS_URL                    publish notifications to NATS instead of in-process

# Usage

	cfg, err := config.LoadWithKoanf()
	if err != nil {
	    return err
	}
	logging.Init(cfg.Logging)
*/
package config

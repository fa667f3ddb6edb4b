// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/encore/internal/aggregation"
	"github.com/tomtom215/encore/internal/auditlog"
	"github.com/tomtom215/encore/internal/engine"
	"github.com/tomtom215/encore/internal/fraud"
	"github.com/tomtom215/encore/internal/ledger"
	"github.com/tomtom215/encore/internal/logging"
	"github.com/tomtom215/encore/internal/notify"
	"github.com/tomtom215/encore/internal/payout"
	"github.com/tomtom215/encore/internal/royalty"
	"github.com/tomtom215/encore/internal/supervisor"
	"github.com/tomtom215/encore/internal/tracker"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/encore/config.yaml",
	"/etc/encore/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with every section at its component's defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8470,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Logging:     logging.DefaultConfig(),
		Fraud:       fraud.DefaultConfig(),
		Aggregation: aggregation.DefaultConfig(),
		Tracker:     tracker.DefaultConfig(),
		AuditLog:    auditlog.DefaultConfig(),
		Database:    ledger.DefaultConfig(),
		Royalty:     royalty.DefaultConfig(),
		Engine:      engine.DefaultConfig(),
		Payout:      payout.DefaultConfig(),
		NATS:        notify.DefaultConfig(),
		RateLimit: RateLimitConfig{
			Enabled:        true,
			IngestRequests: 1000,
			Requests:       100,
			Window:         time.Minute,
		},
		Supervisor: supervisor.DefaultTreeConfig(),
	}
}

// LoadWithKoanf loads configuration in three layers:
//  1. Defaults from defaultConfig()
//  2. An optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. Environment variables listed in envTransformFunc
//
// The merged result is validated before it is returned.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envMappings maps lower-cased environment variable names to koanf paths.
var envMappings = map[string]string{
	// Server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_idle_timeout":     "server.idle_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"http_max_body_bytes":   "server.max_body_bytes",
	"payout_callback_token": "server.callback_token",

	// Logging
	"log_level":     "logging.level",
	"log_format":    "logging.format",
	"log_caller":    "logging.caller",
	"log_timestamp": "logging.timestamp",

	// Fraud heuristics
	"fraud_velocity_window_sec":    "fraud.velocity_window_sec",
	"fraud_velocity_max_plays":     "fraud.velocity_max_plays",
	"fraud_velocity_weight":        "fraud.velocity_weight",
	"fraud_min_valid_listen_ratio": "fraud.min_valid_listen_ratio",
	"fraud_min_valid_listen_ms":    "fraud.min_valid_listen_ms",
	"fraud_short_play_weight":      "fraud.short_play_weight",
	"fraud_fanout_window_sec":      "fraud.fanout_window_sec",
	"fraud_fanout_max_devices":     "fraud.fanout_max_devices",
	"fraud_fanout_weight":          "fraud.fanout_weight",
	"fraud_repeat_window_sec":      "fraud.repeat_window_sec",
	"fraud_repeat_max_plays":       "fraud.repeat_max_plays",
	"fraud_repeat_weight":          "fraud.repeat_weight",
	"fraud_clean_max":              "fraud.clean_max",
	"fraud_suspicious_max":         "fraud.suspicious_max",

	// Aggregation
	"aggregation_window_size":       "aggregation.window_size",
	"aggregation_history_per_key":   "aggregation.history_per_key",
	"aggregation_history_retention": "aggregation.history_retention",
	"aggregation_window_retention":  "aggregation.window_retention",

	// Tracker
	"ingest_max_concurrent":    "tracker.max_concurrent",
	"ingest_history_timeout":   "tracker.history_timeout",
	"ingest_persist_timeout":   "tracker.persist_timeout",
	"ingest_max_clock_skew":    "tracker.max_clock_skew",
	"seal_grace":               "tracker.seal_grace",
	"seal_interval":            "tracker.seal_interval",
	"ingest_append_retries":    "tracker.append_retries",
	"catalog_cache_size":       "tracker.catalog_cache_size",
	"catalog_cache_ttl":        "tracker.catalog_cache_ttl",
	"ingest_retry_initial":     "tracker.retry_initial",
	"ingest_retry_max_elapsed": "tracker.retry_max_elapsed",

	// Audit log (BadgerDB)
	"audit_log_path":          "audit_log.path",
	"audit_log_sync_writes":   "audit_log.sync_writes",
	"audit_log_compression":   "audit_log.compression",
	"audit_log_gc_ratio":      "audit_log.gc_ratio",
	"audit_log_close_timeout": "audit_log.close_timeout",

	// Ledger (DuckDB)
	"duckdb_path":          "database.path",
	"duckdb_threads":       "database.threads",
	"duckdb_max_memory":    "database.max_memory",
	"duckdb_query_timeout": "database.query_timeout",

	// Royalty and settlement
	"royalty_penalty_per_flagged_play": "royalty.penalty_per_flagged_play",
	"royalty_currency":                 "royalty.currency",
	"settlement_concurrency":           "engine.concurrency",
	"settlement_default_ceiling":       "engine.default_ceiling",
	"settlement_max_payment_attempts":  "engine.max_payment_attempts",
	"settlement_cadence":               "engine.cadence",
	"settlement_schedule_interval":     "engine.schedule_interval",
	"settlement_run_timeout":           "engine.run_timeout",
	"settlement_payment_lease":         "engine.payment_lease",

	// Payout gateway
	"payout_url":                       "payout.url",
	"payout_api_key":                   "payout.api_key",
	"payout_timeout":                   "payout.timeout",
	"payout_rate_per_second":           "payout.rate_per_second",
	"payout_burst":                     "payout.burst",
	"payout_breaker_failure_threshold": "payout.breaker.failure_threshold",
	"payout_breaker_timeout":           "payout.breaker.timeout",

	// NATS notifications
	"nats_enabled":          "nats.enabled",
	"nats_url":              "nats.url",
	"nats_topic":            "nats.topic",
	"nats_max_reconnects":   "nats.max_reconnects",
	"nats_reconnect_wait":   "nats.reconnect_wait",
	"nats_reconnect_buffer": "nats.reconnect_buffer",

	// Rate limiting
	"rate_limit_enabled":         "rate_limit.enabled",
	"rate_limit_ingest_requests": "rate_limit.ingest_requests",
	"rate_limit_requests":        "rate_limit.requests",
	"rate_limit_window":          "rate_limit.window",

	// Supervisor
	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - LOG_LEVEL -> logging.level
//   - FRAUD_VELOCITY_MAX_PLAYS -> fraud.velocity_max_plays
//   - DUCKDB_PATH -> database.path
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// For unmapped keys, return empty string to skip them
	// This prevents random environment variables from polluting config
	return ""
}

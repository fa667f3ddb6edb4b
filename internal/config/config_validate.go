// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	validators := []struct {
		section string
		fn      func() error
	}{
		{"server", c.validateServer},
		{"logging", c.Logging.Validate},
		{"fraud", c.Fraud.Validate},
		{"aggregation", c.Aggregation.Validate},
		{"tracker", c.validateTracker},
		{"audit_log", c.AuditLog.Validate},
		{"database", c.validateDatabase},
		{"royalty", c.Royalty.Validate},
		{"engine", c.Engine.Validate},
		{"payout", c.Payout.Validate},
		{"nats", c.NATS.Validate},
		{"rate_limit", c.validateRateLimit},
		{"supervisor", c.validateSupervisor},
	}
	for _, v := range validators {
		if err := v.fn(); err != nil {
			return fmt.Errorf("%s: %w", v.section, err)
		}
	}
	return nil
}

// validateServer validates HTTP server configuration
func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return errors.New("HTTP read and write timeouts must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("HTTP_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.MaxBodyBytes < 1024 {
		return fmt.Errorf("HTTP_MAX_BODY_BYTES must be at least 1024, got %d", c.Server.MaxBodyBytes)
	}
	return nil
}

// validateTracker checks the tracker section and that a sealed window
// cannot be older than the history the fraud analyzer keeps.
func (c *Config) validateTracker() error {
	if err := c.Tracker.Validate(); err != nil {
		return err
	}
	if c.Tracker.MaxClockSkew >= c.Aggregation.WindowRetention {
		return fmt.Errorf("max_clock_skew (%v) must be shorter than aggregation.window_retention (%v)",
			c.Tracker.MaxClockSkew, c.Aggregation.WindowRetention)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Threads < 0 {
		return fmt.Errorf("DUCKDB_THREADS must be >= 0, got %d", c.Database.Threads)
	}
	if c.Database.QueryTimeout < 0 {
		return errors.New("DUCKDB_QUERY_TIMEOUT must not be negative")
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if !c.RateLimit.Enabled {
		return nil
	}
	if c.RateLimit.IngestRequests < 1 || c.RateLimit.Requests < 1 {
		return errors.New("rate limit request counts must be positive")
	}
	if c.RateLimit.Window < time.Second {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be at least 1s, got %v", c.RateLimit.Window)
	}
	return nil
}

func (c *Config) validateSupervisor() error {
	s := c.Supervisor
	if s.FailureThreshold < 0 || s.FailureDecay < 0 || s.FailureBackoff < 0 || s.ShutdownTimeout < 0 {
		return errors.New("supervisor settings must not be negative")
	}
	return nil
}

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

// Package breaker builds the gobreaker circuit breakers that guard Encore's
// outbound boundaries: the payout gateway and the notification publisher.
package breaker

import (
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/encore/internal/logging"
	"github.com/tomtom215/encore/internal/metrics"
)

// Config holds circuit breaker settings.
type Config struct {
	MaxRequests      uint32        `koanf:"max_requests"`      // allowed while half-open
	Interval         time.Duration `koanf:"interval"`          // closed-state count reset
	Timeout          time.Duration `koanf:"timeout"`           // time spent open
	FailureThreshold uint32        `koanf:"failure_threshold"` // consecutive failures before opening
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.FailureThreshold == 0 {
		return fmt.Errorf("failure_threshold must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// New creates a named breaker. State changes are logged and exported on the
// circuit_breaker_state gauge.
func New[T any](name string, cfg Config) *gobreaker.CircuitBreaker[T] {
	metrics.RecordBreakerState(name, "", gobreaker.StateClosed.String(), int(gobreaker.StateClosed))
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			metrics.RecordBreakerState(name, from.String(), to.String(), int(to))
		},
	})
}

// IsOpen reports whether err was returned because the breaker refused the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

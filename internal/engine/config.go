// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package engine

import (
	"fmt"
	"time"
)

// Config controls settlement runs and payment handling.
type Config struct {
	// Concurrency bounds how many artists are settled in parallel.
	Concurrency int `koanf:"concurrency"`

	// DefaultCeiling is the auto-approval ceiling in minor units for artists
	// whose profile does not set one.
	DefaultCeiling int64 `koanf:"default_ceiling"`

	// MaxPaymentAttempts is how many submissions a payment gets before the
	// statement moves to FAILED.
	MaxPaymentAttempts int `koanf:"max_payment_attempts"`

	// PaymentLease is how long a claimed payment may sit in PROCESSING
	// without a processor reference before a retry pass reclaims it.
	PaymentLease time.Duration `koanf:"payment_lease"`

	// Cadence and ScheduleInterval drive the settlement scheduler.
	Cadence          string        `koanf:"cadence"`
	ScheduleInterval time.Duration `koanf:"schedule_interval"`

	// RunTimeout bounds one scheduled RunPeriod plus RetryPayments pass.
	RunTimeout time.Duration `koanf:"run_timeout"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:        8,
		DefaultCeiling:     10_000_000,
		MaxPaymentAttempts: 5,
		PaymentLease:       10 * time.Minute,
		Cadence:            string(CadenceDaily),
		ScheduleInterval:   5 * time.Minute,
		RunTimeout:         30 * time.Minute,
	}
}

// Validate checks the engine configuration.
func (c Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.DefaultCeiling <= 0 {
		return fmt.Errorf("default_ceiling must be positive, got %d", c.DefaultCeiling)
	}
	if c.MaxPaymentAttempts <= 0 {
		return fmt.Errorf("max_payment_attempts must be positive, got %d", c.MaxPaymentAttempts)
	}
	if c.PaymentLease <= 0 {
		return fmt.Errorf("payment_lease must be positive, got %s", c.PaymentLease)
	}
	if _, err := ParseCadence(c.Cadence); err != nil {
		return err
	}
	if c.ScheduleInterval <= 0 || c.RunTimeout <= 0 {
		return fmt.Errorf("schedule_interval and run_timeout must be positive")
	}
	return nil
}

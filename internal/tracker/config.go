// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package tracker

import (
	"fmt"
	"time"
)

// Config controls ingestion limits, timeouts and sealing.
type Config struct {
	// MaxConcurrent bounds in-flight Record calls. Calls above the bound are
	// shed with a TransientStoreError.
	MaxConcurrent int64 `koanf:"max_concurrent"`

	HistoryTimeout time.Duration `koanf:"history_timeout"`
	PersistTimeout time.Duration `koanf:"persist_timeout"`

	// MaxClockSkew is how far in the future an event timestamp may be.
	MaxClockSkew time.Duration `koanf:"max_clock_skew"`

	// SealGrace delays sealing a window past its end so stragglers land.
	SealGrace    time.Duration `koanf:"seal_grace"`
	SealInterval time.Duration `koanf:"seal_interval"`

	// AppendRetries is the number of retries for a failed audit append.
	AppendRetries   uint64        `koanf:"append_retries"`
	RetryInitial    time.Duration `koanf:"retry_initial"`
	RetryMaxElapsed time.Duration `koanf:"retry_max_elapsed"`

	CatalogCacheSize int           `koanf:"catalog_cache_size"`
	CatalogCacheTTL  time.Duration `koanf:"catalog_cache_ttl"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:    1024,
		HistoryTimeout:   50 * time.Millisecond,
		PersistTimeout:   2 * time.Second,
		MaxClockSkew:     5 * time.Minute,
		SealGrace:        5 * time.Minute,
		SealInterval:     30 * time.Second,
		AppendRetries:    3,
		RetryInitial:     20 * time.Millisecond,
		RetryMaxElapsed:  2 * time.Second,
		CatalogCacheSize: 10000,
		CatalogCacheTTL:  10 * time.Minute,
	}
}

// Validate checks the tracker configuration.
func (c Config) Validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	if c.HistoryTimeout <= 0 || c.PersistTimeout <= 0 {
		return fmt.Errorf("history_timeout and persist_timeout must be positive")
	}
	if c.MaxClockSkew < 0 || c.SealGrace < 0 {
		return fmt.Errorf("max_clock_skew and seal_grace must not be negative")
	}
	if c.SealInterval <= 0 {
		return fmt.Errorf("seal_interval must be positive")
	}
	if c.RetryInitial <= 0 || c.RetryMaxElapsed < c.RetryInitial {
		return fmt.Errorf("retry_initial must be positive and not exceed retry_max_elapsed")
	}
	if c.CatalogCacheSize <= 0 || c.CatalogCacheTTL <= 0 {
		return fmt.Errorf("catalog_cache_size and catalog_cache_ttl must be positive")
	}
	return nil
}

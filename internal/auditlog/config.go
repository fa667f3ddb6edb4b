// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

// Package auditlog is the durable, append-only record of every stream event
// and its fraud analysis. It is the source of truth for ingestion: records
// are written before any aggregate is touched, and open-window aggregates
// are rebuilt from it after a restart.
//
// Records are stored in BadgerDB under two keys written in one transaction:
//
//	evt/<eventId>                      the AuditRecord JSON
//	win/<windowStart unix, 20 digits>/<eventId>   empty index entry
//
// The evt key doubles as the duplicate-detection index. The win key orders
// records by window so Replay can scan a time range without decoding every
// record.
package auditlog

import (
	"fmt"
	"time"
)

// Config holds audit log storage settings.
type Config struct {
	// Path is the BadgerDB directory. Must be on a durable filesystem.
	Path string `koanf:"path"`

	// SyncWrites forces fsync after every append.
	SyncWrites bool `koanf:"sync_writes"`

	// Compression enables Snappy block compression.
	Compression bool `koanf:"compression"`

	MemTableSize     int64 `koanf:"memtable_size"`
	ValueLogFileSize int64 `koanf:"vlog_file_size"`
	NumCompactors    int   `koanf:"num_compactors"`

	// GCRatio is the discard ratio passed to value log GC.
	GCRatio float64 `koanf:"gc_ratio"`

	// CloseTimeout bounds Close.
	CloseTimeout time.Duration `koanf:"close_timeout"`

	// InMemory opens BadgerDB without touching disk. Tests only.
	InMemory bool `koanf:"-"`
}

// DefaultConfig returns durable defaults.
func DefaultConfig() Config {
	return Config{
		Path:             "/data/auditlog",
		SyncWrites:       true,
		Compression:      true,
		MemTableSize:     16 << 20,
		ValueLogFileSize: 64 << 20,
		NumCompactors:    2,
		GCRatio:          0.5,
		CloseTimeout:     30 * time.Second,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Path == "" && !c.InMemory {
		return &ConfigError{Field: "path", Message: "required"}
	}
	if c.MemTableSize < 1<<20 {
		return &ConfigError{Field: "memtable_size", Message: "must be at least 1MB"}
	}
	if c.ValueLogFileSize < 1<<20 {
		return &ConfigError{Field: "vlog_file_size", Message: "must be at least 1MB"}
	}
	if c.NumCompactors < 2 {
		return &ConfigError{Field: "num_compactors", Message: "must be at least 2"}
	}
	if c.GCRatio <= 0 || c.GCRatio >= 1 {
		return &ConfigError{Field: "gc_ratio", Message: "must be between 0 and 1 exclusive"}
	}
	return nil
}

// ConfigError describes an invalid field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("audit_log.%s: %s", e.Field, e.Message)
}

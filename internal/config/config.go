// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package config

import (
	"fmt"
	"time"

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

// Config holds all application configuration loaded from defaults, an
// optional YAML file and environment variables, in that order of priority.
//
// Each component owns its section type and its defaults; this package only
// assembles them and runs their validation. Config is read-only after
// LoadWithKoanf returns and safe for concurrent reads.
type Config struct {
	Server      ServerConfig          `koanf:"server"`
	Logging     logging.Config        `koanf:"logging"`
	Fraud       fraud.Config          `koanf:"fraud"`
	Aggregation aggregation.Config    `koanf:"aggregation"`
	Tracker     tracker.Config        `koanf:"tracker"`
	AuditLog    auditlog.Config       `koanf:"audit_log"`
	Database    ledger.Config         `koanf:"database"`
	Royalty     royalty.Config        `koanf:"royalty"`
	Engine      engine.Config         `koanf:"engine"`
	Payout      payout.Config         `koanf:"payout"`
	NATS        notify.Config         `koanf:"nats"`
	RateLimit   RateLimitConfig       `koanf:"rate_limit"`
	Supervisor  supervisor.TreeConfig `koanf:"supervisor"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// MaxBodyBytes caps request bodies on write endpoints.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`

	// CallbackToken, when set, must be presented in the X-Callback-Token
	// header by the payment processor's webhook.
	CallbackToken string `koanf:"callback_token"`

	// CORSOrigins lists browser origins allowed to call the API. Empty
	// disables CORS headers entirely.
	CORSOrigins []string `koanf:"cors_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RateLimitConfig holds per-client request limits for the HTTP API.
type RateLimitConfig struct {
	Enabled bool `koanf:"enabled"`

	// IngestRequests applies to POST /api/v1/events, Requests to everything else.
	IngestRequests int           `koanf:"ingest_requests"`
	Requests       int           `koanf:"requests"`
	Window         time.Duration `koanf:"window"`
}

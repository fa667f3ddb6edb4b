// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tomtom215/encore/internal/aggregation"
	"github.com/tomtom215/encore/internal/api"
	"github.com/tomtom215/encore/internal/auditlog"
	"github.com/tomtom215/encore/internal/config"
	"github.com/tomtom215/encore/internal/engine"
	"github.com/tomtom215/encore/internal/fraud"
	"github.com/tomtom215/encore/internal/ledger"
	"github.com/tomtom215/encore/internal/logging"
	"github.com/tomtom215/encore/internal/notify"
	"github.com/tomtom215/encore/internal/payout"
	"github.com/tomtom215/encore/internal/supervisor"
	"github.com/tomtom215/encore/internal/supervisor/services"
	"github.com/tomtom215/encore/internal/tracker"
)

// readinessProbeID is looked up in the audit log by the readiness check.
const readinessProbeID = "readiness-probe"

// app holds every long-lived component built by serve.
type app struct {
	cfg *config.Config

	ledger   *ledger.DB
	auditLog *auditlog.BadgerLog
	notifier notify.Notifier
	store    *aggregation.MemoryStore
	tracker  *tracker.Tracker
	sealer   *tracker.Sealer
	engine   *engine.Engine
	server   *http.Server

	// closers run in reverse order of construction.
	closers []namedCloser
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// newApp builds the components in dependency order. On error everything
// opened so far is closed.
func newApp(cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.ledger, err = ledger.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.closers = append(a.closers, namedCloser{"ledger", a.ledger})

	a.auditLog, err = auditlog.Open(&cfg.AuditLog)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	a.closers = append(a.closers, namedCloser{"audit log", a.auditLog})

	a.notifier, err = notify.New(cfg.NATS, logging.NewWatermillLogger())
	if err != nil {
		return nil, fmt.Errorf("create notifier: %w", err)
	}
	a.closers = append(a.closers, namedCloser{"notifier", a.notifier})

	analyzer, err := fraud.NewAnalyzer(cfg.Fraud)
	if err != nil {
		return nil, fmt.Errorf("create fraud analyzer: %w", err)
	}

	a.store = aggregation.NewMemoryStore(cfg.Aggregation)

	a.tracker, err = tracker.New(cfg.Tracker, tracker.Deps{
		Analyzer: analyzer,
		Store:    a.store,
		Log:      a.auditLog,
		Windows:  a.ledger,
		Catalog:  a.ledger,
		Notifier: a.notifier,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracker: %w", err)
	}
	a.sealer = tracker.NewSealer(a.store, a.ledger, cfg.Tracker.SealGrace)

	a.engine, err = engine.New(cfg.Engine, cfg.Royalty, a.ledger, payout.New(cfg.Payout))
	if err != nil {
		return nil, fmt.Errorf("create settlement engine: %w", err)
	}

	handler, err := api.NewHandler(cfg.Server, api.Deps{
		Events:     a.tracker,
		Windows:    a.ledger,
		Reference:  a.ledger,
		Catalog:    a.tracker.Catalog(),
		Settlement: a.engine,
		Checks: []api.HealthCheck{
			{Name: "ledger", Check: a.ledger.Ping},
			{Name: "audit_log", Check: func(ctx context.Context) error {
				_, err := a.auditLog.Exists(ctx, readinessProbeID)
				return err
			}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create API handler: %w", err)
	}

	a.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handler, cfg.Server, cfg.RateLimit).Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return a, nil
}

// addServices registers the supervised services on tree.
func (a *app) addServices(tree *supervisor.SupervisorTree) error {
	tree.AddDataService(services.NewSealerService(a.sealer, a.store, a.auditLog, a.cfg.Tracker.SealInterval))

	scheduler, err := services.NewSettlementService(a.engine, a.ledger, a.cfg.Engine)
	if err != nil {
		return fmt.Errorf("create settlement scheduler: %w", err)
	}
	tree.AddSettlementService(scheduler)

	tree.AddAPIService(services.NewHTTPServerService(a.server, a.cfg.Server.Addr(), a.cfg.Server.ShutdownTimeout))
	return nil
}

// close releases the shared stores. It runs after the supervisor tree has
// stopped so no service can still be using them.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.closer.Close(); err != nil {
			logging.Error().Err(err).Str("component", c.name).Msg("Error closing component")
		}
	}
	a.closers = nil
}

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

/*
Package supervisor provides process supervision for Encore using suture v4.

# Overview

Services are organized into three layers for failure isolation:

	RootSupervisor ("encore")
	├── DataSupervisor ("data-layer")
	│   └── SealerService
	├── SettlementSupervisor ("settlement-layer")
	│   └── SettlementService
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

A crashing settlement scheduler is restarted without touching ingestion,
and a failing HTTP listener never stops windows from sealing.

Supervisor events are logged through sutureslog, using the slog adapter
from the logging package:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), cfg.Supervisor)
	if err != nil {
	    return err
	}
	tree.AddDataService(services.NewSealerService(sealer, store, auditLog, cfg.Tracker.SealInterval))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.Addr(), cfg.Server.ShutdownTimeout))
	return tree.Serve(ctx)

# Configuration

TreeConfig controls restart behavior. Zero values fall back to suture's
defaults: 5 failures, 30s decay, 15s backoff and a 10s shutdown timeout.

# What Is NOT Supervised

The DuckDB ledger, the BadgerDB audit log and the notification publisher
are opened once by the serve command and closed after the tree stops. A
layer restart must never close a store another layer is still using.

# Debugging Shutdown Issues

	report, err := tree.UnstoppedServiceReport()
	for _, svc := range report {
	    logging.Warn().Str("service", svc.Name).Msg("Service did not stop")
	}
*/
package supervisor

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

// Package main is the entry point for the Encore server and its admin CLI.
//
// Encore records stream plays, screens them for fraud, aggregates them into
// time windows and settles artist royalties per period.
//
// # Commands
//
//	encore serve             run the API, the window sealer and the settlement scheduler
//	encore settle            settle one period on a running server (idempotent)
//	encore retry-payments    resubmit pending and failed payouts on a running server
//	encore version           print build information
//
// # Startup Order
//
// serve initializes components in this order:
//
//  1. Configuration: defaults, then config.yaml, then environment (koanf)
//  2. Ledger: DuckDB statements, profiles, catalog and sealed windows
//  3. Audit log: BadgerDB append-only event log
//  4. Notifier: watermill over gochannel or NATS
//  5. Tracker: fraud analyzer plus in-memory aggregation, rebuilt from the audit log
//  6. Engine: royalty settlement with the payout gateway
//  7. Supervisor tree: data layer (sealer), settlement layer (scheduler), API layer (HTTP)
//
// # Signal Handling
//
// SIGINT and SIGTERM stop the supervisor tree. The HTTP server drains in-flight
// requests, then the notifier, audit log and ledger are closed in that order.
//
// # Example Usage
//
//	export DUCKDB_PATH=/data/encore.duckdb
//	export AUDIT_LOG_PATH=/data/audit
//	export PAYOUT_URL=https://payouts.example.com
//	export PAYOUT_API_KEY=...
//	encore serve
//
//	encore settle --server http://localhost:8470 --date 2026-03-10
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

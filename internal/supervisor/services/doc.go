// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

/*
Package services provides suture.Service wrappers for Encore's long-running
loops.

Each wrapper depends on a small interface rather than the concrete
component, so tests drive them with fakes:

  - HTTPServerService: runs *http.Server and shuts it down gracefully.
  - SealerService: calls tracker.Sealer.SealDue on tracker.seal_interval,
    prunes the aggregation store and periodically runs audit log GC.
  - SettlementService: the cadence trigger. It settles the last completed
    daily or weekly period once the ledger watermark has reached its end,
    then retries pending payments.

All services return ctx.Err() on shutdown and log through the logging
package with a component field.
*/
package services

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

/*
Package api exposes Encore over HTTP.

Routes (all under /api/v1 except /metrics):

	POST /events                                   record one stream event
	GET  /aggregates/windows/{windowStart}         sealed buckets of a window
	GET  /aggregates/{artistID}/{trackID}/{windowStart}
	POST /settlements/run                          settle a period (idempotent)
	POST /settlements/retry-payments
	GET  /statements/{statementID}                 statement, lines, transitions, payment
	POST /statements/{statementID}/approve|reject|dispute
	GET  /artists/{artistID}/statements
	PUT  /artists/{artistID}/profile
	PUT  /tracks/{trackID}
	POST /payouts/callback                         payment processor webhook
	GET  /health/live, /health/ready
	GET  /metrics                                  Prometheus exposition

Every JSON response uses the models.APIResponse envelope. Errors carry a
stable code (VALIDATION_FAILED, DUPLICATE_EVENT, NOT_FOUND, ...) and the
request ID so that a client report can be matched to server logs.

Windows and periods are addressed by RFC3339 timestamps.

Middleware order: request ID, real IP, recoverer, Prometheus metrics, CORS
(when origins are configured), then per-group httprate limits. Ingestion has
its own, larger limit.
*/
package api

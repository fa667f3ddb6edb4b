// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

/*
Package models defines the data shared by every Encore component.

Key Components:

  - StreamEvent and RecordResult: one play as reported by a client and the
    outcome of recording it
  - FraudAnalysisResult and Verdict: the analyzer's score and flags
  - AuditRecord: the append-only entry written for every accepted event
  - AggregateBucket and BucketKey: per-window play counts per (artist, track)
  - ArtistTierProfile and Track: reference data for rates and track length
  - RoyaltyStatement, StatementLine and PaymentStatus: settlement output and
    the state machines that govern it
  - APIResponse: the HTTP response envelope

Money is held in integer minor units. Rates that need fractional precision
use shopspring/decimal and are rounded once, at the statement line.

Errors:

ValidationError, DuplicateEventError, WindowSealedError and
TransientStoreError classify ingestion failures. ManualReviewError and
PaymentSubmissionError classify settlement outcomes. Use errors.As to
inspect them; IsTransient reports whether a retry is worthwhile.
*/
package models

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrRequiresManualReview marks a statement held at CALCULATED for sign-off.
var ErrRequiresManualReview = errors.New("statement requires manual review")

// ValidationError reports a malformed stream event. It is never retried.
type ValidationError struct {
	Field   string
	Message string
	Details interface{}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// DuplicateEventError reports an eventId that was already recorded. It is an
// idempotent no-op, not a failure.
type DuplicateEventError struct {
	EventID string
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("event %s already recorded", e.EventID)
}

// WindowSealedError reports an increment against a sealed window.
type WindowSealedError struct {
	WindowStart time.Time
}

func (e *WindowSealedError) Error() string {
	return fmt.Sprintf("window %s is sealed", e.WindowStart.UTC().Format(time.RFC3339))
}

// TransientStoreError wraps an aggregation or persistence failure that the
// caller may retry with bounded backoff.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

// ManualReviewError carries the amounts that exceeded the ceiling.
type ManualReviewError struct {
	StatementID string
	ArtistID    string
	NetAmount   int64
	Ceiling     int64
}

func (e *ManualReviewError) Error() string {
	return fmt.Sprintf("statement %s for artist %s: net %d exceeds ceiling %d",
		e.StatementID, e.ArtistID, e.NetAmount, e.Ceiling)
}

func (e *ManualReviewError) Unwrap() error {
	return ErrRequiresManualReview
}

// PaymentSubmissionError reports a payout boundary failure for a statement.
type PaymentSubmissionError struct {
	StatementID string
	Attempt     int
	Exhausted   bool
	Err         error
}

func (e *PaymentSubmissionError) Error() string {
	return fmt.Sprintf("payout submission for statement %s failed (attempt %d): %v",
		e.StatementID, e.Attempt, e.Err)
}

func (e *PaymentSubmissionError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var tse *TransientStoreError
	return errors.As(err, &tse)
}

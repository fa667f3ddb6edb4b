// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package models

import (
	"errors"
	"testing"
	"time"
)

func TestStatementStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from StatementStatus
		to   StatementStatus
		want bool
	}{
		{StatementPending, StatementCalculated, true},
		{StatementCalculated, StatementApproved, true},
		{StatementCalculated, StatementFailed, true},
		{StatementApproved, StatementPaid, true},
		{StatementApproved, StatementFailed, true},
		{StatementPaid, StatementDisputed, true},

		{StatementPending, StatementApproved, false},
		{StatementPending, StatementPaid, false},
		{StatementCalculated, StatementPaid, false},
		{StatementApproved, StatementCalculated, false},
		{StatementPaid, StatementApproved, false},
		{StatementPaid, StatementFailed, false},
		{StatementFailed, StatementApproved, false},
		{StatementFailed, StatementCalculated, false},
		{StatementDisputed, StatementPaid, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatementStatus_Terminal(t *testing.T) {
	terminal := map[StatementStatus]bool{
		StatementPending:    false,
		StatementCalculated: false,
		StatementApproved:   false,
		StatementPaid:       false,
		StatementFailed:     true,
		StatementDisputed:   true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestPaymentState_CanTransition(t *testing.T) {
	tests := []struct {
		from PaymentState
		to   PaymentState
		want bool
	}{
		{PaymentPending, PaymentProcessing, true},
		{PaymentProcessing, PaymentPaid, true},
		{PaymentProcessing, PaymentFailed, true},
		{PaymentFailed, PaymentProcessing, true},
		{PaymentPending, PaymentPaid, false},
		{PaymentPaid, PaymentProcessing, false},
		{PaymentPaid, PaymentFailed, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestRoyaltyStatement_IdempotencyKey(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	regular := &RoyaltyStatement{ArtistID: "artist-1", PeriodStart: start, PeriodEnd: end, Kind: StatementKindRegular}
	same := &RoyaltyStatement{ArtistID: "artist-1", PeriodStart: start.In(time.FixedZone("X", 3600)), PeriodEnd: end, Kind: StatementKindRegular}
	other := &RoyaltyStatement{ArtistID: "artist-2", PeriodStart: start, PeriodEnd: end, Kind: StatementKindRegular}
	correction := &RoyaltyStatement{ArtistID: "artist-1", PeriodStart: start, PeriodEnd: end,
		Kind: StatementKindCorrection, CorrectsStatementID: "stmt-1"}

	if regular.IdempotencyKey() != same.IdempotencyKey() {
		t.Errorf("keys differ across time zones: %q vs %q", regular.IdempotencyKey(), same.IdempotencyKey())
	}
	if regular.IdempotencyKey() == other.IdempotencyKey() {
		t.Error("different artists must not share a key")
	}
	if got := correction.IdempotencyKey(); got != "correction:stmt-1" {
		t.Errorf("correction key = %q, want correction:stmt-1", got)
	}
	if regular.IdempotencyKey() != PeriodKey("artist-1", start, end) {
		t.Error("regular key should equal PeriodKey")
	}
}

func TestManualReviewError_UnwrapsSentinel(t *testing.T) {
	err := error(&ManualReviewError{StatementID: "s", ArtistID: "a", NetAmount: 11, Ceiling: 10})
	if !errors.Is(err, ErrRequiresManualReview) {
		t.Error("ManualReviewError should match ErrRequiresManualReview")
	}
}

func TestIsTransient(t *testing.T) {
	base := errors.New("disk busy")
	if !IsTransient(&TransientStoreError{Op: "append", Err: base}) {
		t.Error("TransientStoreError should be transient")
	}
	if IsTransient(&DuplicateEventError{EventID: "e"}) {
		t.Error("DuplicateEventError should not be transient")
	}
	if IsTransient(nil) {
		t.Error("nil should not be transient")
	}
}

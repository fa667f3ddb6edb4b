// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StatementStatus is the lifecycle state of a RoyaltyStatement.
type StatementStatus string

const (
	StatementPending    StatementStatus = "PENDING"
	StatementCalculated StatementStatus = "CALCULATED"
	StatementApproved   StatementStatus = "APPROVED"
	StatementPaid       StatementStatus = "PAID"
	StatementFailed     StatementStatus = "FAILED"
	StatementDisputed   StatementStatus = "DISPUTED"
)

// statementTransitions is the only source of allowed status changes.
var statementTransitions = map[StatementStatus][]StatementStatus{
	StatementPending:    {StatementCalculated},
	StatementCalculated: {StatementApproved, StatementFailed},
	StatementApproved:   {StatementPaid, StatementFailed},
	StatementPaid:       {StatementDisputed},
}

// CanTransition reports whether s may move to next.
func (s StatementStatus) CanTransition(next StatementStatus) bool {
	for _, allowed := range statementTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s StatementStatus) Terminal() bool {
	return len(statementTransitions[s]) == 0
}

// InvalidTransitionError is returned when a status change is not in the
// transition table or the stored status no longer matches the expected one.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %s: invalid transition %s -> %s", e.Entity, e.ID, e.From, e.To)
}

// StatementKind separates regular period statements from offsetting corrections.
type StatementKind string

const (
	StatementKindRegular    StatementKind = "REGULAR"
	StatementKindCorrection StatementKind = "CORRECTION"
)

// RoyaltyStatement is the auditable record of what is owed to an artist for
// a settlement period. Amounts are integer minor currency units.
type RoyaltyStatement struct {
	StatementID         string          `json:"statement_id"`
	ArtistID            string          `json:"artist_id"`
	PeriodStart         time.Time       `json:"period_start"`
	PeriodEnd           time.Time       `json:"period_end"`
	Kind                StatementKind   `json:"kind"`
	CorrectsStatementID string          `json:"corrects_statement_id,omitempty"`
	GrossAmount         int64           `json:"gross_amount"`
	FraudDeduction      int64           `json:"fraud_deduction"`
	NetAmount           int64           `json:"net_amount"`
	Currency            string          `json:"currency"`
	Status              StatementStatus `json:"status"`
	RequiresReview      bool            `json:"requires_review"`
	Tier                ArtistTier      `json:"tier"`
	BaseRatePerPlay     int64           `json:"base_rate_per_play"`
	TierMultiplier      decimal.Decimal `json:"tier_multiplier"`
	ValidPlayCount      int64           `json:"valid_play_count"`
	FlaggedPlayCount    int64           `json:"flagged_play_count"`
	Note                string          `json:"note,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	FinalizedAt         *time.Time      `json:"finalized_at,omitempty"`
}

// IdempotencyKey is the persistence-level uniqueness key. Regular statements
// are unique per (artist, periodStart, periodEnd); a correction is unique per
// corrected statement.
func (s *RoyaltyStatement) IdempotencyKey() string {
	if s.Kind == StatementKindCorrection {
		return "correction:" + s.CorrectsStatementID
	}
	return PeriodKey(s.ArtistID, s.PeriodStart, s.PeriodEnd)
}

// PeriodKey builds the regular statement key for an artist and period.
func PeriodKey(artistID string, start, end time.Time) string {
	return fmt.Sprintf("%s|%d|%d", artistID, start.UTC().Unix(), end.UTC().Unix())
}

// StatementLine is one sealed input bucket of a statement with its unrounded
// per-bucket amounts.
type StatementLine struct {
	StatementID      string          `json:"statement_id"`
	TrackID          string          `json:"track_id"`
	WindowStart      time.Time       `json:"window_start"`
	ValidPlayCount   int64           `json:"valid_play_count"`
	FlaggedPlayCount int64           `json:"flagged_play_count"`
	TotalDurationMs  int64           `json:"total_duration_ms"`
	Gross            decimal.Decimal `json:"gross"`
	Deduction        decimal.Decimal `json:"deduction"`
}

// StatementTransition is an append-only history row.
type StatementTransition struct {
	StatementID string          `json:"statement_id"`
	From        StatementStatus `json:"from"`
	To          StatementStatus `json:"to"`
	Reason      string          `json:"reason,omitempty"`
	At          time.Time       `json:"at"`
}

// PaymentState is the status of the hand-off to the payout processor.
type PaymentState string

const (
	PaymentPending    PaymentState = "PENDING"
	PaymentProcessing PaymentState = "PROCESSING"
	PaymentPaid       PaymentState = "PAID"
	PaymentFailed     PaymentState = "FAILED"
)

var paymentTransitions = map[PaymentState][]PaymentState{
	PaymentPending:    {PaymentProcessing},
	PaymentProcessing: {PaymentPaid, PaymentFailed},
	PaymentFailed:     {PaymentProcessing},
}

// CanTransition reports whether p may move to next.
func (p PaymentState) CanTransition(next PaymentState) bool {
	for _, allowed := range paymentTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentStatus tracks the payout hand-off for one statement.
type PaymentStatus struct {
	StatementID   string       `json:"statement_id"`
	Status        PaymentState `json:"status"`
	Attempts      int          `json:"attempts"`
	LastAttemptAt *time.Time   `json:"last_attempt_at,omitempty"`
	ReferenceID   string       `json:"reference_id,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

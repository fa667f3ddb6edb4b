// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/encore/internal/ledger"
	"github.com/tomtom215/encore/internal/logging"
	"github.com/tomtom215/encore/internal/models"
)

// StatementDetails is a statement with everything recorded about it.
type StatementDetails struct {
	Statement   *models.RoyaltyStatement     `json:"statement"`
	Lines       []models.StatementLine       `json:"lines"`
	Transitions []models.StatementTransition `json:"transitions"`
	Payment     *models.PaymentStatus        `json:"payment,omitempty"`
}

// Statement returns a statement with its lines, transitions and payment.
func (e *Engine) Statement(ctx context.Context, statementID string) (*StatementDetails, error) {
	stmt, err := e.db.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	lines, err := e.db.StatementLines(ctx, statementID)
	if err != nil {
		return nil, err
	}
	transitions, err := e.db.StatementTransitions(ctx, statementID)
	if err != nil {
		return nil, err
	}
	details := &StatementDetails{Statement: stmt, Lines: lines, Transitions: transitions}

	payment, err := e.db.GetPayment(ctx, statementID)
	switch {
	case err == nil:
		details.Payment = payment
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, err
	}
	return details, nil
}

// ArtistStatements lists an artist's statements, newest period first.
func (e *Engine) ArtistStatements(ctx context.Context, artistID string, limit int) ([]models.RoyaltyStatement, error) {
	return e.db.ListArtistStatements(ctx, artistID, limit)
}

// Approve signs off a CALCULATED statement and submits its payout. A failed
// submission does not undo the approval; the retry pass picks it up.
func (e *Engine) Approve(ctx context.Context, statementID, reason string) (*models.RoyaltyStatement, error) {
	if reason == "" {
		reason = "manually approved"
	}
	if err := e.db.ApproveStatement(ctx, statementID, reason, e.now()); err != nil {
		return nil, err
	}
	stmt, err := e.db.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Info().
		Str("statement_id", statementID).
		Str("artist_id", stmt.ArtistID).
		Int64("net", stmt.NetAmount).
		Str("reason", reason).
		Msg("Statement manually approved")

	if err := e.submitPayment(ctx, stmt); err != nil {
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("statement_id", statementID).
			Msg("Payout after approval failed, retry pass will resubmit")
	}
	return e.db.GetStatement(ctx, statementID)
}

// Reject moves a CALCULATED statement to FAILED.
func (e *Engine) Reject(ctx context.Context, statementID, reason string) (*models.RoyaltyStatement, error) {
	if reason == "" {
		reason = "manually rejected"
	}
	if err := e.db.TransitionStatement(ctx, statementID, models.StatementCalculated, models.StatementFailed, reason, e.now()); err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Warn().Str("statement_id", statementID).Str("reason", reason).Msg("Statement rejected")
	return e.db.GetStatement(ctx, statementID)
}

// Dispute moves a PAID statement to DISPUTED and creates a CALCULATED
// correction with negated amounts and lines that references it. The
// correction goes through manual review like any held statement.
func (e *Engine) Dispute(ctx context.Context, statementID, reason string) (*models.RoyaltyStatement, error) {
	if reason == "" {
		return nil, &models.ValidationError{Field: "reason", Message: "a dispute needs a reason"}
	}
	orig, err := e.db.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	if orig.Status != models.StatementPaid {
		return nil, &models.InvalidTransitionError{Entity: "statement", ID: statementID,
			From: string(orig.Status), To: string(models.StatementDisputed)}
	}
	lines, err := e.db.StatementLines(ctx, statementID)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	correction := &models.RoyaltyStatement{
		StatementID:         e.newID(),
		ArtistID:            orig.ArtistID,
		PeriodStart:         orig.PeriodStart,
		PeriodEnd:           orig.PeriodEnd,
		Kind:                models.StatementKindCorrection,
		CorrectsStatementID: orig.StatementID,
		GrossAmount:         -orig.GrossAmount,
		FraudDeduction:      -orig.FraudDeduction,
		NetAmount:           -orig.NetAmount,
		Currency:            orig.Currency,
		Status:              models.StatementCalculated,
		RequiresReview:      true,
		Tier:                orig.Tier,
		BaseRatePerPlay:     orig.BaseRatePerPlay,
		TierMultiplier:      orig.TierMultiplier,
		ValidPlayCount:      -orig.ValidPlayCount,
		FlaggedPlayCount:    -orig.FlaggedPlayCount,
		Note:                reason,
		CreatedAt:           now,
	}
	negated := make([]models.StatementLine, len(lines))
	for i, l := range lines {
		negated[i] = models.StatementLine{
			StatementID:      correction.StatementID,
			TrackID:          l.TrackID,
			WindowStart:      l.WindowStart,
			ValidPlayCount:   -l.ValidPlayCount,
			FlaggedPlayCount: -l.FlaggedPlayCount,
			TotalDurationMs:  -l.TotalDurationMs,
			Gross:            l.Gross.Neg(),
			Deduction:        l.Deduction.Neg(),
		}
	}

	if err := e.db.DisputeStatement(ctx, statementID, reason, correction, negated, now); err != nil {
		logging.Ctx(ctx).Error().
			Err(err).
			Str("statement_id", statementID).
			Str("artist_id", orig.ArtistID).
			Int64("net", orig.NetAmount).
			Msg("Failed to record dispute")
		return nil, fmt.Errorf("dispute statement %s: %w", statementID, err)
	}
	logging.Ctx(ctx).Warn().
		Str("statement_id", statementID).
		Str("correction_id", correction.StatementID).
		Str("artist_id", orig.ArtistID).
		Int64("net", orig.NetAmount).
		Str("reason", reason).
		Msg("Statement disputed, correction created")
	return e.db.GetStatement(ctx, correction.StatementID)
}

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/encore/internal/logging"
	"github.com/tomtom215/encore/internal/metrics"
	"github.com/tomtom215/encore/internal/models"
	"github.com/tomtom215/encore/internal/payout"
)

// recordTimeout bounds writing a payout outcome after the caller's context
// has been cancelled.
const recordTimeout = 10 * time.Second

// RetryReport summarizes one RetryPayments pass.
type RetryReport struct {
	Considered int `json:"considered"`
	Submitted  int `json:"submitted"`
	Accepted   int `json:"accepted"`
	Failed     int `json:"failed"`
	Exhausted  int `json:"exhausted"`
	Reclaimed  int `json:"reclaimed"`
}

// submitPayment claims the statement's payment, hands it to the gateway and
// records the answer. A refused or failed submission leaves the payment
// FAILED for the next retry pass, or moves the statement to FAILED once
// MaxPaymentAttempts is reached. The outcome is recorded even if ctx is
// cancelled during the gateway call, so a claim is never left PROCESSING.
func (e *Engine) submitPayment(ctx context.Context, stmt *models.RoyaltyStatement) error {
	log := logging.Ctx(ctx).With().
		Str("statement_id", stmt.StatementID).
		Str("artist_id", stmt.ArtistID).
		Int64("net", stmt.NetAmount).
		Logger()

	p, err := e.db.ClaimPayment(ctx, stmt.StatementID, e.now())
	if err != nil {
		log.Error().Err(err).Msg("Failed to claim payment")
		return fmt.Errorf("claim payment: %w", err)
	}

	res, err := e.gateway.SubmitPayout(ctx, stmt)
	if err == nil && !res.Accepted {
		err = payout.ErrRejected
	}

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err == nil {
		if rerr := e.db.RecordPaymentAccepted(recCtx, stmt.StatementID, res.ReferenceID, e.now()); rerr != nil {
			log.Error().Err(rerr).Str("reference_id", res.ReferenceID).Msg("Payout accepted but reference not stored")
			return fmt.Errorf("record payout reference: %w", rerr)
		}
		metrics.RecordPayout(metrics.PayoutAccepted)
		log.Info().Str("reference_id", res.ReferenceID).Int("attempt", p.Attempts).Msg("Payout submitted")
		return nil
	}

	exhausted := p.Attempts >= e.cfg.MaxPaymentAttempts || errors.Is(err, payout.ErrPermanent)
	if rerr := e.db.RecordPaymentFailure(recCtx, stmt.StatementID, err.Error(), exhausted, e.now()); rerr != nil {
		log.Error().Err(rerr).Msg("Failed to record payout failure")
	}
	subErr := &models.PaymentSubmissionError{
		StatementID: stmt.StatementID,
		Attempt:     p.Attempts,
		Exhausted:   exhausted,
		Err:         err,
	}
	if exhausted {
		metrics.RecordPayout(metrics.PayoutExhausted)
		log.Error().Err(subErr).Int("attempts", p.Attempts).Msg("Payout attempts exhausted, statement failed and needs manual resolution")
	} else {
		metrics.RecordPayout(metrics.PayoutFailed)
		log.Warn().Err(subErr).Int("attempt", p.Attempts).Msg("Payout submission failed, will retry")
	}
	return subErr
}

// RetryPayments resubmits every APPROVED statement whose payment is PENDING,
// or FAILED with attempts left. A payment claimed longer than PaymentLease
// ago that never got a processor reference is released to FAILED first.
// Payments already at MaxPaymentAttempts move their statement to FAILED.
func (e *Engine) RetryPayments(ctx context.Context) (*RetryReport, error) {
	staleBefore := e.now().Add(-e.cfg.PaymentLease)
	pending, err := e.db.ListRetryablePayments(ctx, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("list retryable payments: %w", err)
	}

	report := &RetryReport{Considered: len(pending)}
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rp := &pending[i]

		if rp.Payment.Status == models.PaymentProcessing {
			if err := e.db.ReleaseStalePayment(ctx, rp.Statement.StatementID, staleBefore, e.now()); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("statement_id", rp.Statement.StatementID).Msg("Failed to reclaim stale payment")
				continue
			}
			logging.Ctx(ctx).Warn().
				Str("statement_id", rp.Statement.StatementID).
				Int("attempts", rp.Payment.Attempts).
				Msg("Reclaimed payment stuck in PROCESSING")
			report.Reclaimed++
			rp.Payment.Status = models.PaymentFailed
		}

		if rp.Payment.Status == models.PaymentFailed && rp.Payment.Attempts >= e.cfg.MaxPaymentAttempts {
			reason := fmt.Sprintf("payment failed after %d attempts: %s", rp.Payment.Attempts, rp.Payment.LastError)
			if err := e.db.FailStatementPayment(ctx, rp.Statement.StatementID, reason, e.now()); err != nil {
				logging.Ctx(ctx).Error().Err(err).Str("statement_id", rp.Statement.StatementID).Msg("Failed to fail exhausted statement")
				continue
			}
			metrics.RecordPayout(metrics.PayoutExhausted)
			logging.Ctx(ctx).Error().
				Str("statement_id", rp.Statement.StatementID).
				Str("artist_id", rp.Statement.ArtistID).
				Int64("net", rp.Statement.NetAmount).
				Int("attempts", rp.Payment.Attempts).
				Str("last_error", rp.Payment.LastError).
				Msg("Statement failed after exhausting payout attempts, needs manual resolution")
			report.Exhausted++
			continue
		}

		report.Submitted++
		err := e.submitPayment(ctx, &rp.Statement)
		var subErr *models.PaymentSubmissionError
		switch {
		case err == nil:
			report.Accepted++
		case errors.As(err, &subErr) && subErr.Exhausted:
			report.Exhausted++
		default:
			report.Failed++
		}
	}

	if report.Considered > 0 {
		logging.Ctx(ctx).Info().
			Int("considered", report.Considered).
			Int("accepted", report.Accepted).
			Int("failed", report.Failed).
			Int("exhausted", report.Exhausted).
			Msg("Payment retry pass finished")
	}
	return report, nil
}

// HandlePaymentCallback applies the processor's confirmation. A repeated PAID
// callback for an already paid statement is a no-op.
func (e *Engine) HandlePaymentCallback(ctx context.Context, cb *payout.Callback) error {
	p, err := e.db.GetPayment(ctx, cb.StatementID)
	if err != nil {
		return err
	}
	if cb.Succeeded() && p.Status == models.PaymentPaid {
		return nil
	}

	log := logging.Ctx(ctx).With().
		Str("statement_id", cb.StatementID).
		Str("reference_id", cb.ReferenceID).
		Str("status", cb.Status).
		Logger()

	if cb.Succeeded() {
		if err := e.db.RecordPaymentSuccess(ctx, cb.StatementID, cb.ReferenceID, e.now()); err != nil {
			log.Error().Err(err).Msg("Failed to record confirmed payment")
			return err
		}
		log.Info().Msg("Payment confirmed")
		return nil
	}

	exhausted := p.Attempts >= e.cfg.MaxPaymentAttempts
	reason := cb.Reason
	if reason == "" {
		reason = "processor reported failure"
	}
	if err := e.db.RecordPaymentFailure(ctx, cb.StatementID, reason, exhausted, e.now()); err != nil {
		log.Error().Err(err).Msg("Failed to record failed payment")
		return err
	}
	if exhausted {
		metrics.RecordPayout(metrics.PayoutExhausted)
		log.Error().Int("attempts", p.Attempts).Str("reason", reason).Msg("Payment failed on final attempt, statement failed")
	} else {
		metrics.RecordPayout(metrics.PayoutFailed)
		log.Warn().Int("attempt", p.Attempts).Str("reason", reason).Msg("Payment failed, will retry")
	}
	return nil
}

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomtom215/encore/internal/models"
)

const paymentColumns = `statement_id, status, attempts, last_attempt_at, reference_id, last_error, updated_at`

func scanPayment(row rowScanner) (*models.PaymentStatus, error) {
	var (
		p           models.PaymentStatus
		status      string
		lastAttempt sql.NullTime
		reference   sql.NullString
		lastError   sql.NullString
	)
	if err := row.Scan(&p.StatementID, &status, &p.Attempts, &lastAttempt, &reference, &lastError, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = models.PaymentState(status)
	p.ReferenceID = reference.String
	p.LastError = lastError.String
	p.UpdatedAt = p.UpdatedAt.UTC()
	if lastAttempt.Valid {
		t := lastAttempt.Time.UTC()
		p.LastAttemptAt = &t
	}
	return &p, nil
}

func insertPendingPayment(ctx context.Context, tx *sql.Tx, statementID string, at time.Time) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO payment_status (statement_id, status, attempts, updated_at)
		VALUES (?, ?, 0, ?)`,
		statementID, string(models.PaymentPending), at.UTC()); err != nil {
		return fmt.Errorf("insert payment status: %w", err)
	}
	return nil
}

// GetPayment returns the payment row for a statement or ErrNotFound.
func (db *DB) GetPayment(ctx context.Context, statementID string) (*models.PaymentStatus, error) {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	p, err := scanPayment(db.conn.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payment_status WHERE statement_id = ?`, statementID))
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", statementID, err)
	}
	return p, nil
}

// ClaimPayment moves a PENDING or FAILED payment to PROCESSING and counts
// the attempt. Only one caller can claim a given attempt.
func (db *DB) ClaimPayment(ctx context.Context, statementID string, at time.Time) (*models.PaymentStatus, error) {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	p, err := scanPayment(db.conn.QueryRowContext(ctx, `
		UPDATE payment_status
		SET status = ?, attempts = attempts + 1, last_attempt_at = ?, updated_at = ?
		WHERE statement_id = ? AND status IN (?, ?)
		RETURNING `+paymentColumns,
		string(models.PaymentProcessing), at.UTC(), at.UTC(), statementID,
		string(models.PaymentPending), string(models.PaymentFailed)))
	if isNoRows(err) {
		current, gerr := db.GetPayment(ctx, statementID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, &models.InvalidTransitionError{Entity: "payment", ID: statementID,
			From: string(current.Status), To: string(models.PaymentProcessing)}
	}
	if err != nil {
		return nil, fmt.Errorf("claim payment %s: %w", statementID, err)
	}
	return p, nil
}

// RecordPaymentAccepted stores the processor reference for a PROCESSING
// payment. The payment stays PROCESSING until the callback arrives.
func (db *DB) RecordPaymentAccepted(ctx context.Context, statementID, referenceID string, at time.Time) error {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE payment_status SET reference_id = ?, last_error = NULL, updated_at = ?
		WHERE statement_id = ? AND status = ?`,
		referenceID, at.UTC(), statementID, string(models.PaymentProcessing))
	if err != nil {
		return fmt.Errorf("record payment reference: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &models.InvalidTransitionError{Entity: "payment", ID: statementID,
			From: "not PROCESSING", To: string(models.PaymentProcessing)}
	}
	return nil
}

// RecordPaymentFailure marks a PROCESSING payment FAILED. When exhausted is
// true the statement moves APPROVED→FAILED in the same transaction.
func (db *DB) RecordPaymentFailure(ctx context.Context, statementID, reason string, exhausted bool, at time.Time) error {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	return db.inTx(ctx, func(tx *sql.Tx) error {
		if err := paymentTransitionTx(ctx, tx, statementID, models.PaymentProcessing, models.PaymentFailed, "", reason, at); err != nil {
			return err
		}
		if !exhausted {
			return nil
		}
		return transitionTx(ctx, tx, statementID, models.StatementApproved, models.StatementFailed,
			"payment attempts exhausted: "+reason, at)
	})
}

// RecordPaymentSuccess marks a PROCESSING payment PAID and the statement
// APPROVED→PAID in one transaction.
func (db *DB) RecordPaymentSuccess(ctx context.Context, statementID, referenceID string, at time.Time) error {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	return db.inTx(ctx, func(tx *sql.Tx) error {
		if err := paymentTransitionTx(ctx, tx, statementID, models.PaymentProcessing, models.PaymentPaid, referenceID, "", at); err != nil {
			return err
		}
		return transitionTx(ctx, tx, statementID, models.StatementApproved, models.StatementPaid, "payment confirmed", at)
	})
}

// FailStatementPayment moves an APPROVED statement whose payment already sits
// at FAILED to FAILED. Used when a retry pass finds attempts exhausted.
func (db *DB) FailStatementPayment(ctx context.Context, statementID, reason string, at time.Time) error {
	return db.TransitionStatement(ctx, statementID, models.StatementApproved, models.StatementFailed, reason, at)
}

func paymentTransitionTx(ctx context.Context, tx *sql.Tx, statementID string, from, to models.PaymentState, referenceID, lastError string, at time.Time) error {
	if !from.CanTransition(to) {
		return &models.InvalidTransitionError{Entity: "payment", ID: statementID, From: string(from), To: string(to)}
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE payment_status
		SET status = ?, reference_id = COALESCE(NULLIF(?, ''), reference_id), last_error = NULLIF(?, ''), updated_at = ?
		WHERE statement_id = ? AND status = ?`,
		string(to), referenceID, lastError, at.UTC(), statementID, string(from))
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM payment_status WHERE statement_id = ?`, statementID).Scan(&current)
		if isNoRows(err) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read payment status: %w", err)
		}
		return &models.InvalidTransitionError{Entity: "payment", ID: statementID, From: current, To: string(to)}
	}
	return nil
}

// RetryablePayment pairs a payment row with its statement.
type RetryablePayment struct {
	Payment   models.PaymentStatus
	Statement models.RoyaltyStatement
}

// ReleaseStalePayment moves a PROCESSING payment that has no processor
// reference and was last claimed before staleBefore back to FAILED, so the
// next attempt can claim it. The expired claim keeps its attempt count.
func (db *DB) ReleaseStalePayment(ctx context.Context, statementID string, staleBefore, at time.Time) error {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE payment_status SET status = ?, last_error = ?, updated_at = ?
		WHERE statement_id = ? AND status = ? AND reference_id IS NULL AND last_attempt_at < ?`,
		string(models.PaymentFailed), "payout claim expired without a processor reference", at.UTC(),
		statementID, string(models.PaymentProcessing), staleBefore.UTC())
	if err != nil {
		return classify("release stale payment", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, gerr := db.GetPayment(ctx, statementID)
		if gerr != nil {
			return gerr
		}
		return &models.InvalidTransitionError{Entity: "payment", ID: statementID,
			From: string(current.Status), To: string(models.PaymentFailed)}
	}
	return nil
}

// ListRetryablePayments returns APPROVED statements whose payment is PENDING
// or FAILED, plus those stuck in PROCESSING without a processor reference
// since before staleBefore. The caller decides by attempt count whether to
// resubmit or give up.
func (db *DB) ListRetryablePayments(ctx context.Context, staleBefore time.Time) ([]RetryablePayment, error) {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT p.statement_id, p.status, p.attempts, p.last_attempt_at, p.reference_id, p.last_error, p.updated_at
		FROM payment_status p
		JOIN royalty_statements s ON s.statement_id = p.statement_id
		WHERE s.status = ?
		  AND (p.status IN (?, ?)
		       OR (p.status = ? AND p.reference_id IS NULL AND p.last_attempt_at < ?))
		ORDER BY p.updated_at`,
		string(models.StatementApproved), string(models.PaymentPending), string(models.PaymentFailed),
		string(models.PaymentProcessing), staleBefore.UTC())
	if err != nil {
		return nil, fmt.Errorf("query retryable payments: %w", err)
	}

	var payments []models.PaymentStatus
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	rows.Close()

	out := make([]RetryablePayment, 0, len(payments))
	for _, p := range payments {
		s, err := db.GetStatement(ctx, p.StatementID)
		if err != nil {
			return nil, err
		}
		out = append(out, RetryablePayment{Payment: p, Statement: *s})
	}
	return out, nil
}

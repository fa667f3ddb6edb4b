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

	"github.com/shopspring/decimal"

	"github.com/tomtom215/encore/internal/models"
)

const statementColumns = `statement_id, artist_id, period_start, period_end, kind, corrects_statement_id,
	gross_amount, fraud_deduction, net_amount, currency, status, requires_review, tier,
	base_rate_per_play, tier_multiplier, valid_play_count, flagged_play_count, note,
	created_at, finalized_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStatement(row rowScanner) (*models.RoyaltyStatement, error) {
	var (
		s          models.RoyaltyStatement
		kind       string
		status     string
		tier       string
		multiplier string
		corrects   sql.NullString
		note       sql.NullString
		finalized  sql.NullTime
	)
	if err := row.Scan(&s.StatementID, &s.ArtistID, &s.PeriodStart, &s.PeriodEnd, &kind, &corrects,
		&s.GrossAmount, &s.FraudDeduction, &s.NetAmount, &s.Currency, &status, &s.RequiresReview, &tier,
		&s.BaseRatePerPlay, &multiplier, &s.ValidPlayCount, &s.FlaggedPlayCount, &note,
		&s.CreatedAt, &finalized); err != nil {
		return nil, err
	}

	s.Kind = models.StatementKind(kind)
	s.Status = models.StatementStatus(status)
	s.Tier = models.ArtistTier(tier)
	s.CorrectsStatementID = corrects.String
	s.Note = note.String
	s.PeriodStart = s.PeriodStart.UTC()
	s.PeriodEnd = s.PeriodEnd.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	if finalized.Valid {
		t := finalized.Time.UTC()
		s.FinalizedAt = &t
	}
	m, err := decimal.NewFromString(multiplier)
	if err != nil {
		return nil, fmt.Errorf("parse tier multiplier: %w", err)
	}
	s.TierMultiplier = m
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateStatement inserts s with its lines and initial transition history in
// one transaction. The status path is derived from s.Status: every statement
// records PENDING→CALCULATED, and an APPROVED statement also records
// CALCULATED→APPROVED and gets a PENDING payment row.
//
// It returns created=false, with no error, when a statement with the same
// idempotency key already exists.
func (db *DB) CreateStatement(ctx context.Context, s *models.RoyaltyStatement, lines []models.StatementLine, reason string) (bool, error) {
	if s.Status != models.StatementCalculated && s.Status != models.StatementApproved {
		return false, fmt.Errorf("statement %s: cannot be created in status %s", s.StatementID, s.Status)
	}

	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	created := false
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		if s.Kind == models.StatementKindRegular {
			var overlapping int
			if err := tx.QueryRowContext(ctx, overlapQuery+` AND artist_id = ?`,
				string(models.StatementKindRegular), s.PeriodEnd.UTC(), s.PeriodStart.UTC(),
				s.PeriodStart.UTC(), s.PeriodEnd.UTC(), s.ArtistID).Scan(&overlapping); err != nil {
				return fmt.Errorf("check overlapping statements: %w", err)
			}
			if overlapping > 0 {
				return fmt.Errorf("%w: artist %s, period %s..%s", ErrPeriodOverlap, s.ArtistID,
					s.PeriodStart.UTC().Format(time.RFC3339), s.PeriodEnd.UTC().Format(time.RFC3339))
			}
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO royalty_statements (`+statementColumns+`, idempotency_key)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			s.StatementID, s.ArtistID, s.PeriodStart.UTC(), s.PeriodEnd.UTC(), string(s.Kind),
			nullString(s.CorrectsStatementID), s.GrossAmount, s.FraudDeduction, s.NetAmount, s.Currency,
			string(s.Status), s.RequiresReview, string(s.Tier), s.BaseRatePerPlay, s.TierMultiplier.String(),
			s.ValidPlayCount, s.FlaggedPlayCount, nullString(s.Note), s.CreatedAt.UTC(), nil,
			s.IdempotencyKey())
		if err != nil {
			return fmt.Errorf("insert statement: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		created = true

		for i := range lines {
			l := &lines[i]
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO statement_lines
					(statement_id, track_id, window_start, valid_play_count, flagged_play_count, total_duration_ms, gross, deduction)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				s.StatementID, l.TrackID, l.WindowStart.UTC(), l.ValidPlayCount, l.FlaggedPlayCount,
				l.TotalDurationMs, l.Gross.String(), l.Deduction.String()); err != nil {
				return fmt.Errorf("insert statement line: %w", err)
			}
		}

		path := []models.StatementStatus{models.StatementPending, models.StatementCalculated}
		if s.Status == models.StatementApproved {
			path = append(path, models.StatementApproved)
		}
		for i := 1; i < len(path); i++ {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO statement_transitions (statement_id, seq, from_status, to_status, reason, transitioned_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				s.StatementID, i, string(path[i-1]), string(path[i]), nullString(reason), s.CreatedAt.UTC()); err != nil {
				return fmt.Errorf("insert transition: %w", err)
			}
		}

		if s.Status == models.StatementApproved {
			if err := insertPendingPayment(ctx, tx, s.StatementID, s.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// A concurrent creator that committed the same key first surfaces
		// here as a constraint or conflict error rather than a no-op.
		if exists, xerr := db.StatementExists(context.WithoutCancel(ctx), s.IdempotencyKey()); xerr == nil && exists {
			return false, nil
		}
		return false, fmt.Errorf("create statement %s: %w", s.StatementID, err)
	}
	return created, nil
}

// overlapQuery counts regular statements that share time with a period
// without being that exact period. Identical periods are deduplicated by the
// idempotency key instead.
const overlapQuery = `SELECT COUNT(*) FROM royalty_statements
	WHERE kind = ? AND period_start < ? AND period_end > ?
	AND NOT (period_start = ? AND period_end = ?)`

// OverlappingStatements counts regular statements, for any artist, that
// overlap [start, end) without matching it exactly.
func (db *DB) OverlappingStatements(ctx context.Context, start, end time.Time) (int, error) {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	var n int
	if err := db.conn.QueryRowContext(ctx, overlapQuery,
		string(models.StatementKindRegular), end.UTC(), start.UTC(), start.UTC(), end.UTC()).Scan(&n); err != nil {
		return 0, classify("count overlapping statements", err)
	}
	return n, nil
}

// GetStatement returns a statement by ID or ErrNotFound.
func (db *DB) GetStatement(ctx context.Context, statementID string) (*models.RoyaltyStatement, error) {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	s, err := scanStatement(db.conn.QueryRowContext(ctx,
		`SELECT `+statementColumns+` FROM royalty_statements WHERE statement_id = ?`, statementID))
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get statement %s: %w", statementID, err)
	}
	return s, nil
}

// GetStatementByKey returns the statement holding an idempotency key.
func (db *DB) GetStatementByKey(ctx context.Context, key string) (*models.RoyaltyStatement, error) {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	s, err := scanStatement(db.conn.QueryRowContext(ctx,
		`SELECT `+statementColumns+` FROM royalty_statements WHERE idempotency_key = ?`, key))
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get statement by key: %w", err)
	}
	return s, nil
}

// StatementExists reports whether key is taken.
func (db *DB) StatementExists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	var n int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM royalty_statements WHERE idempotency_key = ?`, key).Scan(&n); err != nil {
		return false, fmt.Errorf("check statement key: %w", err)
	}
	return n > 0, nil
}

// ListArtistStatements returns an artist's statements, newest period first.
func (db *DB) ListArtistStatements(ctx context.Context, artistID string, limit int) ([]models.RoyaltyStatement, error) {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.QueryContext(ctx, `SELECT `+statementColumns+` FROM royalty_statements
		WHERE artist_id = ?
		ORDER BY period_start DESC, created_at DESC
		LIMIT ?`, artistID, limit)
	if err != nil {
		return nil, fmt.Errorf("list statements for %s: %w", artistID, err)
	}
	defer rows.Close()

	out := []models.RoyaltyStatement{}
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan statement: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// StatementLines returns the input buckets of a statement.
func (db *DB) StatementLines(ctx context.Context, statementID string) ([]models.StatementLine, error) {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT statement_id, track_id, window_start, valid_play_count, flagged_play_count, total_duration_ms, gross, deduction
		FROM statement_lines WHERE statement_id = ?
		ORDER BY window_start, track_id`, statementID)
	if err != nil {
		return nil, fmt.Errorf("query statement lines: %w", err)
	}
	defer rows.Close()

	lines := []models.StatementLine{}
	for rows.Next() {
		var (
			l                models.StatementLine
			gross, deduction string
		)
		if err := rows.Scan(&l.StatementID, &l.TrackID, &l.WindowStart, &l.ValidPlayCount,
			&l.FlaggedPlayCount, &l.TotalDurationMs, &gross, &deduction); err != nil {
			return nil, fmt.Errorf("scan statement line: %w", err)
		}
		l.WindowStart = l.WindowStart.UTC()
		if l.Gross, err = decimal.NewFromString(gross); err != nil {
			return nil, fmt.Errorf("parse line gross: %w", err)
		}
		if l.Deduction, err = decimal.NewFromString(deduction); err != nil {
			return nil, fmt.Errorf("parse line deduction: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// StatementTransitions returns a statement's status history in order.
func (db *DB) StatementTransitions(ctx context.Context, statementID string) ([]models.StatementTransition, error) {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT statement_id, from_status, to_status, reason, transitioned_at
		FROM statement_transitions WHERE statement_id = ?
		ORDER BY seq`, statementID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	out := []models.StatementTransition{}
	for rows.Next() {
		var (
			tr       models.StatementTransition
			from, to string
			reason   sql.NullString
		)
		if err := rows.Scan(&tr.StatementID, &from, &to, &reason, &tr.At); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.From = models.StatementStatus(from)
		tr.To = models.StatementStatus(to)
		tr.Reason = reason.String
		tr.At = tr.At.UTC()
		out = append(out, tr)
	}
	return out, rows.Err()
}

// TransitionStatement moves a statement from one status to another if it is
// still in from. PAID and FAILED stamp finalized_at.
func (db *DB) TransitionStatement(ctx context.Context, statementID string, from, to models.StatementStatus, reason string, at time.Time) error {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	return db.inTx(ctx, func(tx *sql.Tx) error {
		return transitionTx(ctx, tx, statementID, from, to, reason, at)
	})
}

// ApproveStatement moves a CALCULATED statement to APPROVED and opens its
// payment row.
func (db *DB) ApproveStatement(ctx context.Context, statementID, reason string, at time.Time) error {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	return db.inTx(ctx, func(tx *sql.Tx) error {
		if err := transitionTx(ctx, tx, statementID, models.StatementCalculated, models.StatementApproved, reason, at); err != nil {
			return err
		}
		return insertPendingPayment(ctx, tx, statementID, at)
	})
}

// DisputeStatement moves a PAID statement to DISPUTED and creates the
// offsetting correction in the same transaction.
func (db *DB) DisputeStatement(ctx context.Context, statementID, reason string, correction *models.RoyaltyStatement, lines []models.StatementLine, at time.Time) error {
	if correction.Kind != models.StatementKindCorrection || correction.CorrectsStatementID != statementID {
		return fmt.Errorf("correction must reference statement %s", statementID)
	}

	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	return db.inTx(ctx, func(tx *sql.Tx) error {
		if err := transitionTx(ctx, tx, statementID, models.StatementPaid, models.StatementDisputed, reason, at); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO royalty_statements (`+statementColumns+`, idempotency_key)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			correction.StatementID, correction.ArtistID, correction.PeriodStart.UTC(), correction.PeriodEnd.UTC(),
			string(correction.Kind), nullString(correction.CorrectsStatementID), correction.GrossAmount,
			correction.FraudDeduction, correction.NetAmount, correction.Currency, string(correction.Status),
			correction.RequiresReview, string(correction.Tier), correction.BaseRatePerPlay,
			correction.TierMultiplier.String(), correction.ValidPlayCount, correction.FlaggedPlayCount,
			nullString(correction.Note), correction.CreatedAt.UTC(), nil, correction.IdempotencyKey()); err != nil {
			return fmt.Errorf("insert correction: %w", err)
		}

		for i := range lines {
			l := &lines[i]
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO statement_lines
					(statement_id, track_id, window_start, valid_play_count, flagged_play_count, total_duration_ms, gross, deduction)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				correction.StatementID, l.TrackID, l.WindowStart.UTC(), l.ValidPlayCount, l.FlaggedPlayCount,
				l.TotalDurationMs, l.Gross.String(), l.Deduction.String()); err != nil {
				return fmt.Errorf("insert correction line: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO statement_transitions (statement_id, seq, from_status, to_status, reason, transitioned_at)
			VALUES (?, 1, ?, ?, ?, ?)`,
			correction.StatementID, string(models.StatementPending), string(models.StatementCalculated),
			nullString("correction of "+statementID), at.UTC()); err != nil {
			return fmt.Errorf("insert correction transition: %w", err)
		}
		return nil
	})
}

// transitionTx performs the compare-and-set status update plus its history
// row inside tx.
func transitionTx(ctx context.Context, tx *sql.Tx, statementID string, from, to models.StatementStatus, reason string, at time.Time) error {
	if !from.CanTransition(to) {
		return &models.InvalidTransitionError{Entity: "statement", ID: statementID, From: string(from), To: string(to)}
	}

	var (
		res sql.Result
		err error
	)
	if to == models.StatementPaid || to == models.StatementFailed {
		res, err = tx.ExecContext(ctx, `
			UPDATE royalty_statements SET status = ?, finalized_at = ?
			WHERE statement_id = ? AND status = ?`,
			string(to), at.UTC(), statementID, string(from))
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE royalty_statements SET status = ?
			WHERE statement_id = ? AND status = ?`,
			string(to), statementID, string(from))
	}
	if err != nil {
		return fmt.Errorf("update statement status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, cerr := currentStatus(ctx, tx, statementID)
		if cerr != nil {
			return cerr
		}
		return &models.InvalidTransitionError{Entity: "statement", ID: statementID, From: string(current), To: string(to)}
	}

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM statement_transitions WHERE statement_id = ?`, statementID).
		Scan(&seq); err != nil {
		return fmt.Errorf("next transition seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO statement_transitions (statement_id, seq, from_status, to_status, reason, transitioned_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		statementID, seq, string(from), string(to), nullString(reason), at.UTC()); err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

func currentStatus(ctx context.Context, tx *sql.Tx, statementID string) (models.StatementStatus, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM royalty_statements WHERE statement_id = ?`, statementID).Scan(&status)
	if isNoRows(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read statement status: %w", err)
	}
	return models.StatementStatus(status), nil
}

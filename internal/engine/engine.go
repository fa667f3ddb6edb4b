// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

/*
Package engine turns sealed aggregate buckets into royalty statements and
drives their payment.

RunPeriod is idempotent: a statement is created at most once per artist and
period because the ledger enforces a unique key, and an artist that already
has a statement is skipped. Re-running a period, in full or after a crash
part-way through, only fills in the missing artists. The engine has no timer
of its own; the settlement scheduler service calls RunPeriod.

Statement status follows PENDING → CALCULATED → APPROVED → PAID. A statement
whose net exceeds the artist's ceiling stays CALCULATED until Approve or
Reject. PAID statements can be disputed, which creates an offsetting
correction statement and leaves the original untouched.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/encore/internal/ledger"
	"github.com/tomtom215/encore/internal/logging"
	"github.com/tomtom215/encore/internal/metrics"
	"github.com/tomtom215/encore/internal/models"
	"github.com/tomtom215/encore/internal/payout"
	"github.com/tomtom215/encore/internal/royalty"
)

var (
	// ErrPeriodNotSealed is returned when the sealed watermark has not yet
	// reached the end of the requested period.
	ErrPeriodNotSealed = errors.New("period is not fully sealed")

	// ErrInvalidPeriod is returned for an empty or inverted period, or one
	// that is not exactly one period of the configured cadence.
	ErrInvalidPeriod = errors.New("invalid settlement period")
)

const createRetries = 3

// Outcome is the per-artist result of a run.
type Outcome string

const (
	OutcomeApproved     Outcome = "APPROVED"
	OutcomeManualReview Outcome = "REQUIRES_MANUAL_REVIEW"
	OutcomeSkipped      Outcome = "SKIPPED"
	OutcomeError        Outcome = "ERROR"
)

// ArtistResult reports what RunPeriod did for one artist.
type ArtistResult struct {
	ArtistID     string  `json:"artist_id"`
	StatementID  string  `json:"statement_id,omitempty"`
	Outcome      Outcome `json:"outcome"`
	GrossAmount  int64   `json:"gross_amount"`
	NetAmount    int64   `json:"net_amount"`
	Error        string  `json:"error,omitempty"`
	PaymentError string  `json:"payment_error,omitempty"`
}

// RunReport summarizes one RunPeriod call.
type RunReport struct {
	PeriodStart  time.Time      `json:"period_start"`
	PeriodEnd    time.Time      `json:"period_end"`
	Artists      int            `json:"artists"`
	Approved     int            `json:"approved"`
	ManualReview int            `json:"manual_review"`
	Skipped      int            `json:"skipped"`
	Errors       int            `json:"errors"`
	Incomplete   bool           `json:"incomplete,omitempty"`
	Results      []ArtistResult `json:"results"`
	Duration     time.Duration  `json:"duration"`
}

// Engine settles periods and manages statement and payment state.
type Engine struct {
	cfg     Config
	cadence Cadence
	royalty royalty.Config
	db      *ledger.DB
	gateway payout.Gateway

	now   func() time.Time
	newID func() string
}

// New creates an Engine.
func New(cfg Config, rcfg royalty.Config, db *ledger.DB, gateway payout.Gateway) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	cadence, err := ParseCadence(cfg.Cadence)
	if err != nil {
		return nil, err
	}
	if err := rcfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid royalty config: %w", err)
	}
	if db == nil || gateway == nil {
		return nil, errors.New("engine requires a ledger and a payout gateway")
	}
	return &Engine{
		cfg:     cfg,
		cadence: cadence,
		royalty: rcfg,
		db:      db,
		gateway: gateway,
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// RunPeriod settles every artist with sealed buckets in [start, end).
// The period must be exactly one cadence period and must not overlap a
// regular statement that was settled for a different period.
//
// Artists are processed in parallel up to Concurrency. Cancelling ctx stops
// new artists from starting; the report then has Incomplete set and ctx's
// error is returned alongside it. Per-artist failures are reported in the
// results and never abort the run.
func (e *Engine) RunPeriod(ctx context.Context, start, end time.Time) (*RunReport, error) {
	began := time.Now()
	start, end = start.UTC(), end.UTC()
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end must be after start", ErrInvalidPeriod)
	}
	if !Aligned(e.cadence, start, end) {
		return nil, fmt.Errorf("%w: %s..%s is not a %s period", ErrInvalidPeriod,
			start.Format(time.RFC3339), end.Format(time.RFC3339), e.cadence)
	}

	through, err := e.db.SealedThrough(ctx)
	if err != nil {
		return nil, fmt.Errorf("read sealed watermark: %w", err)
	}
	if through.Before(end) {
		return nil, fmt.Errorf("%w: sealed through %s, period ends %s", ErrPeriodNotSealed,
			through.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	overlapping, err := e.db.OverlappingStatements(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("check overlapping statements: %w", err)
	}
	if overlapping > 0 {
		return nil, fmt.Errorf("%w: %d statements already cover part of %s..%s", ledger.ErrPeriodOverlap,
			overlapping, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	artists, err := e.db.ArtistsWithSealedBuckets(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list artists: %w", err)
	}

	log := logging.Ctx(ctx).With().
		Time("period_start", start).
		Time("period_end", end).
		Logger()
	log.Info().Int("artists", len(artists)).Msg("Settlement run started")

	results := make([]ArtistResult, len(artists))
	started := make([]bool, len(artists))

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, artistID := range artists {
		if ctx.Err() != nil {
			break
		}
		started[i] = true
		g.Go(func() error {
			results[i] = e.settleArtist(ctx, artistID, start, end)
			return nil
		})
	}
	_ = g.Wait()

	report := &RunReport{PeriodStart: start, PeriodEnd: end, Results: make([]ArtistResult, 0, len(artists))}
	for i := range results {
		if !started[i] {
			report.Incomplete = true
			continue
		}
		r := results[i]
		report.Results = append(report.Results, r)
		report.Artists++
		switch r.Outcome {
		case OutcomeApproved:
			report.Approved++
		case OutcomeManualReview:
			report.ManualReview++
		case OutcomeSkipped:
			report.Skipped++
		default:
			report.Errors++
		}
	}
	sort.Slice(report.Results, func(i, j int) bool {
		return report.Results[i].ArtistID < report.Results[j].ArtistID
	})
	report.Duration = time.Since(began)
	metrics.RecordRun(report.Duration)

	log.Info().
		Int("approved", report.Approved).
		Int("manual_review", report.ManualReview).
		Int("skipped", report.Skipped).
		Int("errors", report.Errors).
		Bool("incomplete", report.Incomplete).
		Dur("duration", report.Duration).
		Msg("Settlement run finished")

	if report.Incomplete {
		return report, ctx.Err()
	}
	return report, nil
}

func (e *Engine) settleArtist(ctx context.Context, artistID string, start, end time.Time) ArtistResult {
	result := ArtistResult{ArtistID: artistID}
	log := logging.Ctx(ctx).With().
		Str("artist_id", artistID).
		Time("period_start", start).
		Time("period_end", end).
		Logger()

	fail := func(err error, msg string) ArtistResult {
		metrics.RecordStatement(metrics.OutcomeError)
		log.Error().Err(err).Msg(msg)
		result.Outcome = OutcomeError
		result.Error = err.Error()
		return result
	}

	key := models.PeriodKey(artistID, start, end)
	existing, err := e.db.GetStatementByKey(ctx, key)
	switch {
	case err == nil:
		metrics.RecordStatement(metrics.OutcomeSkipped)
		result.Outcome = OutcomeSkipped
		result.StatementID = existing.StatementID
		result.GrossAmount = existing.GrossAmount
		result.NetAmount = existing.NetAmount
		return result
	case !errors.Is(err, ledger.ErrNotFound):
		return fail(err, "Failed to check for an existing statement")
	}

	profile, err := e.db.GetProfile(ctx, artistID)
	if errors.Is(err, ledger.ErrNotFound) {
		return fail(fmt.Errorf("artist %s has no tier profile", artistID), "Cannot settle artist without a tier profile")
	}
	if err != nil {
		return fail(err, "Failed to load tier profile")
	}

	buckets, err := e.db.SealedBuckets(ctx, artistID, start, end)
	if err != nil {
		return fail(err, "Failed to load sealed buckets")
	}

	settlement := royalty.Settle(buckets, profile, e.royalty)
	ceiling := e.ceilingFor(profile)
	approve := settlement.Net >= 0 && settlement.Net <= ceiling

	now := e.now().UTC()
	stmt := &models.RoyaltyStatement{
		StatementID:      e.newID(),
		ArtistID:         artistID,
		PeriodStart:      start,
		PeriodEnd:        end,
		Kind:             models.StatementKindRegular,
		GrossAmount:      settlement.Gross,
		FraudDeduction:   settlement.Deduction,
		NetAmount:        settlement.Net,
		Currency:         e.royalty.Currency,
		Status:           models.StatementCalculated,
		RequiresReview:   !approve,
		Tier:             profile.Tier,
		BaseRatePerPlay:  profile.BaseRatePerPlay,
		TierMultiplier:   profile.TierMultiplier,
		ValidPlayCount:   settlement.ValidPlays,
		FlaggedPlayCount: settlement.FlaggedPlays,
		CreatedAt:        now,
	}
	reason := "calculated"
	if approve {
		stmt.Status = models.StatementApproved
		reason = "auto-approved within ceiling"
	}
	result.StatementID = stmt.StatementID
	result.GrossAmount = stmt.GrossAmount
	result.NetAmount = stmt.NetAmount

	created, err := e.createStatement(ctx, stmt, settlement.Lines, reason)
	if err != nil {
		log.Error().
			Err(err).
			Interface("buckets", buckets).
			Int64("gross", settlement.Gross).
			Int64("deduction", settlement.Deduction).
			Int64("net", settlement.Net).
			Msg("Failed to persist royalty statement")
		metrics.RecordStatement(metrics.OutcomeError)
		result.Outcome = OutcomeError
		result.Error = err.Error()
		return result
	}
	if !created {
		// Another run created it between our check and insert.
		metrics.RecordStatement(metrics.OutcomeSkipped)
		result.Outcome = OutcomeSkipped
		if s, gerr := e.db.GetStatementByKey(ctx, key); gerr == nil {
			result.StatementID = s.StatementID
		}
		return result
	}

	if !approve {
		review := &models.ManualReviewError{
			StatementID: stmt.StatementID,
			ArtistID:    artistID,
			NetAmount:   settlement.Net,
			Ceiling:     ceiling,
		}
		log.Warn().
			Err(review).
			Str("statement_id", stmt.StatementID).
			Interface("buckets", buckets).
			Int64("gross", settlement.Gross).
			Int64("deduction", settlement.Deduction).
			Int64("net", settlement.Net).
			Int64("ceiling", ceiling).
			Msg("Statement held for manual review")
		metrics.RecordStatement(metrics.OutcomeManualReview)
		result.Outcome = OutcomeManualReview
		result.Error = review.Error()
		return result
	}

	metrics.RecordStatement(metrics.OutcomeApproved)
	result.Outcome = OutcomeApproved
	log.Info().
		Str("statement_id", stmt.StatementID).
		Int64("net", settlement.Net).
		Msg("Statement approved")

	if err := e.submitPayment(ctx, stmt); err != nil {
		result.PaymentError = err.Error()
	}
	return result
}

// createStatement retries ledger write conflicts and transient store errors
// with exponential backoff. Any other error is returned at once.
func (e *Engine) createStatement(ctx context.Context, stmt *models.RoyaltyStatement, lines []models.StatementLine, reason string) (bool, error) {
	var created bool
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, createRetries), ctx)

	err := backoff.Retry(func() error {
		var err error
		created, err = e.db.CreateStatement(ctx, stmt, lines, reason)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ledger.ErrConflict), models.IsTransient(err):
			logging.Ctx(ctx).Warn().Err(err).Str("statement_id", stmt.StatementID).Msg("Retrying statement write")
			return err
		default:
			return backoff.Permanent(err)
		}
	}, policy)
	return created, err
}

func (e *Engine) ceilingFor(p *models.ArtistTierProfile) int64 {
	if p.PayoutCeiling > 0 {
		return p.PayoutCeiling
	}
	return e.cfg.DefaultCeiling
}

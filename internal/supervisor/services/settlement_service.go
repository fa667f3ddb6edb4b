// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package services

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/encore/internal/engine"
	"github.com/tomtom215/encore/internal/ledger"
	"github.com/tomtom215/encore/internal/logging"
)

// Settler is satisfied by *engine.Engine.
type Settler interface {
	RunPeriod(ctx context.Context, start, end time.Time) (*engine.RunReport, error)
	RetryPayments(ctx context.Context) (*engine.RetryReport, error)
}

// Watermark reports how far windows have been sealed and settled; satisfied
// by *ledger.DB.
type Watermark interface {
	SealedThrough(ctx context.Context) (time.Time, error)
	EarliestSealedWindow(ctx context.Context) (time.Time, error)
	SettledThrough(ctx context.Context) (time.Time, error)
}

// SettlementService is the cadence trigger for settlement.
//
// On every tick it runs each period from the oldest unsettled one up to the
// last completed period, stopping at the first period the sealed watermark
// has not reached or that does not finish cleanly. RunPeriod is idempotent,
// so after a restart the scheduler re-runs the latest settled period and
// then catches up on any it missed. Each tick ends with a payment retry pass.
type SettlementService struct {
	settler    Settler
	watermark  Watermark
	cadence    engine.Cadence
	interval   time.Duration
	runTimeout time.Duration
	now        func() time.Time
	name       string

	// next is the start of the oldest period not yet run to completion.
	// Zero until the first tick finds a starting point.
	next time.Time
}

// NewSettlementService creates the scheduler from the engine configuration.
func NewSettlementService(settler Settler, watermark Watermark, cfg engine.Config) (*SettlementService, error) {
	cadence, err := engine.ParseCadence(cfg.Cadence)
	if err != nil {
		return nil, err
	}
	return &SettlementService{
		settler:    settler,
		watermark:  watermark,
		cadence:    cadence,
		interval:   cfg.ScheduleInterval,
		runTimeout: cfg.RunTimeout,
		now:        time.Now,
		name:       "settlement-scheduler",
	}, nil
}

// Serve implements suture.Service.
func (s *SettlementService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick runs one scheduling pass.
func (s *SettlementService) tick(ctx context.Context) {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	log := logging.Ctx(ctx).With().Str("component", s.name).Logger()

	s.catchUp(ctx)

	if ctx.Err() != nil {
		return
	}
	if _, err := s.settler.RetryPayments(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Payment retry pass failed")
	}
}

// catchUp settles every pending period in order, up to the last completed
// one.
func (s *SettlementService) catchUp(ctx context.Context) {
	_, last := engine.LastCompletedPeriod(s.cadence, s.now().UTC())
	if s.next.IsZero() {
		next, ok := s.startingPeriod(ctx)
		if !ok {
			return
		}
		s.next = next
	}

	for ctx.Err() == nil {
		start, end := engine.PeriodContaining(s.cadence, s.next)
		if end.After(last) {
			return
		}
		if !s.settle(ctx, start, end) {
			return
		}
		s.next = end
	}
}

// startingPeriod picks where a fresh scheduler begins: the latest settled
// period, or the period holding the oldest sealed window when nothing has
// been settled. It reports false when there is nothing to settle yet.
func (s *SettlementService) startingPeriod(ctx context.Context) (time.Time, bool) {
	log := logging.Ctx(ctx).With().Str("component", s.name).Logger()

	settled, err := s.watermark.SettledThrough(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read settled watermark")
		return time.Time{}, false
	}
	if !settled.IsZero() {
		start, _ := engine.PeriodContaining(s.cadence, settled.Add(-time.Nanosecond))
		return start, true
	}

	earliest, err := s.watermark.EarliestSealedWindow(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read earliest sealed window")
		return time.Time{}, false
	}
	if earliest.IsZero() {
		return time.Time{}, false
	}
	start, _ := engine.PeriodContaining(s.cadence, earliest)
	return start, true
}

// settle runs one period and reports whether the scheduler may move past it.
func (s *SettlementService) settle(ctx context.Context, start, end time.Time) bool {
	log := logging.Ctx(ctx).With().
		Str("component", s.name).
		Time("period_start", start).
		Time("period_end", end).
		Logger()

	through, err := s.watermark.SealedThrough(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read sealed watermark")
		return false
	}
	if through.Before(end) {
		log.Debug().Time("sealed_through", through).Msg("Period not sealed yet, waiting")
		return false
	}

	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	report, err := s.settler.RunPeriod(runCtx, start, end)
	switch {
	case errors.Is(err, engine.ErrPeriodNotSealed):
		log.Debug().Msg("Period not sealed yet, waiting")
		return false
	case errors.Is(err, ledger.ErrPeriodOverlap):
		// Only a cadence change leaves a partly settled period behind.
		log.Error().Err(err).Msg("Period overlaps settled statements and needs manual settlement, skipping")
		return true
	case err != nil:
		log.Error().Err(err).Msg("Scheduled settlement run did not complete")
		return false
	case report.Errors > 0:
		// Artists that failed are retried on the next tick.
		log.Warn().Int("errors", report.Errors).Msg("Scheduled settlement run finished with errors")
		return false
	default:
		return true
	}
}

// String implements fmt.Stringer for suture's log messages.
func (s *SettlementService) String() string {
	return s.name
}

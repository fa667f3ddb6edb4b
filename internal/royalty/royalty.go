// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

// Package royalty converts sealed play counts into money.
//
// Every function here is pure. Amounts are integer minor currency units,
// but per-bucket values stay unrounded decimals: rounding happens once, half
// up, when a statement's totals are settled.
package royalty

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tomtom215/encore/internal/models"
)

// Config holds the settlement parameters that are not per-artist.
type Config struct {
	// PenaltyPerFlaggedPlay is deducted for each SUSPICIOUS play, in minor units.
	PenaltyPerFlaggedPlay int64  `koanf:"penalty_per_flagged_play"`
	Currency              string `koanf:"currency"`
}

// DefaultConfig returns the default settlement parameters.
func DefaultConfig() Config {
	return Config{
		PenaltyPerFlaggedPlay: 50,
		Currency:              "USD",
	}
}

// Validate checks the settlement parameters.
func (c Config) Validate() error {
	if c.PenaltyPerFlaggedPlay < 0 {
		return fmt.Errorf("penalty_per_flagged_play must not be negative, got %d", c.PenaltyPerFlaggedPlay)
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("currency must be a three-letter ISO code, got %q", c.Currency)
	}
	return nil
}

// ComputeGross returns validPlayCount × baseRatePerPlay × tierMultiplier.
func ComputeGross(b *models.AggregateBucket, p *models.ArtistTierProfile) decimal.Decimal {
	return decimal.NewFromInt(b.ValidPlayCount).
		Mul(decimal.NewFromInt(p.BaseRatePerPlay)).
		Mul(p.TierMultiplier)
}

// ComputeFraudDeduction returns flaggedPlayCount × penalty.
func ComputeFraudDeduction(b *models.AggregateBucket, penaltyPerFlaggedPlay int64) decimal.Decimal {
	return decimal.NewFromInt(b.FlaggedPlayCount).Mul(decimal.NewFromInt(penaltyPerFlaggedPlay))
}

// ComputeNet returns max(0, gross − deduction).
func ComputeNet(gross, deduction decimal.Decimal) decimal.Decimal {
	net := gross.Sub(deduction)
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}

var half = decimal.New(5, -1)

// RoundHalfUp rounds d to the nearest integer, halves rounding up.
func RoundHalfUp(d decimal.Decimal) int64 {
	return d.Add(half).Floor().IntPart()
}

// Settlement is the outcome of settling one artist's period.
type Settlement struct {
	Gross        int64
	Deduction    int64
	Net          int64
	ValidPlays   int64
	FlaggedPlays int64
	Lines        []models.StatementLine
}

// Settle totals buckets for one artist. Per-bucket amounts are kept exact in
// Lines; the statement totals are rounded once and net is computed from the
// rounded values, so Net = max(0, Gross − Deduction) holds on the statement.
func Settle(buckets []models.AggregateBucket, profile *models.ArtistTierProfile, cfg Config) Settlement {
	var (
		gross     = decimal.Zero
		deduction = decimal.Zero
		s         = Settlement{Lines: make([]models.StatementLine, 0, len(buckets))}
	)
	for i := range buckets {
		b := &buckets[i]
		g := ComputeGross(b, profile)
		d := ComputeFraudDeduction(b, cfg.PenaltyPerFlaggedPlay)
		gross = gross.Add(g)
		deduction = deduction.Add(d)
		s.ValidPlays += b.ValidPlayCount
		s.FlaggedPlays += b.FlaggedPlayCount
		s.Lines = append(s.Lines, models.StatementLine{
			TrackID:          b.TrackID,
			WindowStart:      b.WindowStart,
			ValidPlayCount:   b.ValidPlayCount,
			FlaggedPlayCount: b.FlaggedPlayCount,
			TotalDurationMs:  b.TotalDurationMs,
			Gross:            g,
			Deduction:        d,
		})
	}

	s.Gross = RoundHalfUp(gross)
	s.Deduction = RoundHalfUp(deduction)
	s.Net = RoundHalfUp(ComputeNet(decimal.NewFromInt(s.Gross), decimal.NewFromInt(s.Deduction)))
	return s
}

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ArtistTier is the commercial tier of an artist.
type ArtistTier string

const (
	TierStandard  ArtistTier = "STANDARD"
	TierVerified  ArtistTier = "VERIFIED"
	TierExclusive ArtistTier = "EXCLUSIVE"
)

// Valid reports whether t is a known artist tier.
func (t ArtistTier) Valid() bool {
	switch t {
	case TierStandard, TierVerified, TierExclusive:
		return true
	}
	return false
}

// ArtistTierProfile is slow-changing reference data read by the engine.
// BaseRatePerPlay is in minor currency units. PayoutCeiling overrides the
// engine's default auto-approval ceiling when positive.
type ArtistTierProfile struct {
	ArtistID        string          `json:"artist_id"`
	Tier            ArtistTier      `json:"tier"`
	BaseRatePerPlay int64           `json:"base_rate_per_play"`
	TierMultiplier  decimal.Decimal `json:"tier_multiplier"`
	PayoutCeiling   int64           `json:"payout_ceiling,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Track is catalog reference data used by the short-play heuristic.
type Track struct {
	TrackID  string `json:"track_id"`
	ArtistID string `json:"artist_id"`
	LengthMs int64  `json:"length_ms"`
}

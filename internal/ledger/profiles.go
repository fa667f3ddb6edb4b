// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tomtom215/encore/internal/models"
)

// UpsertProfile creates or replaces an artist's tier profile.
func (db *DB) UpsertProfile(ctx context.Context, p *models.ArtistTierProfile) error {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO artist_tier_profiles (artist_id, tier, base_rate_per_play, tier_multiplier, payout_ceiling, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (artist_id) DO UPDATE SET
			tier = excluded.tier,
			base_rate_per_play = excluded.base_rate_per_play,
			tier_multiplier = excluded.tier_multiplier,
			payout_ceiling = excluded.payout_ceiling,
			updated_at = excluded.updated_at`,
		p.ArtistID, string(p.Tier), p.BaseRatePerPlay, p.TierMultiplier.String(), p.PayoutCeiling, p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.ArtistID, err)
	}
	return nil
}

// GetProfile returns the tier profile for artistID or ErrNotFound.
func (db *DB) GetProfile(ctx context.Context, artistID string) (*models.ArtistTierProfile, error) {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	var (
		p          models.ArtistTierProfile
		tier       string
		multiplier string
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT artist_id, tier, base_rate_per_play, tier_multiplier, payout_ceiling, updated_at
		FROM artist_tier_profiles WHERE artist_id = ?`, artistID).
		Scan(&p.ArtistID, &tier, &p.BaseRatePerPlay, &multiplier, &p.PayoutCeiling, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", artistID, err)
	}

	p.Tier = models.ArtistTier(tier)
	p.TierMultiplier, err = decimal.NewFromString(multiplier)
	if err != nil {
		return nil, fmt.Errorf("parse tier multiplier for %s: %w", artistID, err)
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// UpsertTrack creates or replaces a catalog entry.
func (db *DB) UpsertTrack(ctx context.Context, t *models.Track) error {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO tracks (track_id, artist_id, length_ms, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (track_id) DO UPDATE SET
			artist_id = excluded.artist_id,
			length_ms = excluded.length_ms,
			updated_at = excluded.updated_at`,
		t.TrackID, t.ArtistID, t.LengthMs, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert track %s: %w", t.TrackID, err)
	}
	return nil
}

// GetTrack returns the catalog entry for trackID or ErrNotFound.
func (db *DB) GetTrack(ctx context.Context, trackID string) (*models.Track, error) {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	var t models.Track
	err := db.conn.QueryRowContext(ctx,
		`SELECT track_id, artist_id, length_ms FROM tracks WHERE track_id = ?`, trackID).
		Scan(&t.TrackID, &t.ArtistID, &t.LengthMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get track %s: %w", trackID, err)
	}
	return &t, nil
}

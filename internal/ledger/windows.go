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

	"github.com/tomtom215/encore/internal/models"
)

// PersistSealedWindow stores a sealed window's snapshot and its
// sealed_windows row in one transaction. Persisting the same window again is
// a no-op, so a sealer retry after a partial failure is safe.
func (db *DB) PersistSealedWindow(ctx context.Context, start, end time.Time, buckets []models.AggregateBucket, sealedAt time.Time) error {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	start, end = start.UTC(), end.UTC()
	return db.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sealed_windows (window_start, window_end, bucket_count, sealed_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			start, end, len(buckets), sealedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert sealed window: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		for i := range buckets {
			b := &buckets[i]
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO aggregate_buckets
					(artist_id, track_id, window_start, window_end, valid_play_count, flagged_play_count, total_duration_ms)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				b.ArtistID, b.TrackID, start, end, b.ValidPlayCount, b.FlaggedPlayCount, b.TotalDurationMs); err != nil {
				return fmt.Errorf("insert bucket %s: %w", b.Key(), err)
			}
		}
		return nil
	})
}

// SealedThrough returns the end of the latest persisted window. The sealer
// persists windows contiguously, so this is the sealed watermark. The zero
// time means nothing has been sealed.
func (db *DB) SealedThrough(ctx context.Context) (time.Time, error) {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	var through sql.NullTime
	err := db.conn.QueryRowContext(ctx, `SELECT MAX(window_end) FROM sealed_windows`).Scan(&through)
	if err != nil {
		return time.Time{}, fmt.Errorf("query sealed watermark: %w", err)
	}
	if !through.Valid {
		return time.Time{}, nil
	}
	return through.Time.UTC(), nil
}

// EarliestSealedWindow returns the start of the oldest persisted window, or
// the zero time when nothing has been sealed.
func (db *DB) EarliestSealedWindow(ctx context.Context) (time.Time, error) {
	return db.scanTime(ctx, "query earliest sealed window", `SELECT MIN(window_start) FROM sealed_windows`)
}

// SettledThrough returns the latest period end of any regular statement, or
// the zero time before the first settlement.
func (db *DB) SettledThrough(ctx context.Context) (time.Time, error) {
	return db.scanTime(ctx, "query settled watermark",
		`SELECT MAX(period_end) FROM royalty_statements WHERE kind = 'REGULAR'`)
}

func (db *DB) scanTime(ctx context.Context, op, query string) (time.Time, error) {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	var t sql.NullTime
	if err := db.conn.QueryRowContext(ctx, query).Scan(&t); err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}
	if !t.Valid {
		return time.Time{}, nil
	}
	return t.Time.UTC(), nil
}

// IsWindowSealed reports whether the window starting at start is persisted.
func (db *DB) IsWindowSealed(ctx context.Context, start time.Time) (bool, error) {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sealed_windows WHERE window_start = ?`, start.UTC()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query sealed window: %w", err)
	}
	return n > 0, nil
}

// ArtistsWithSealedBuckets lists artists having any sealed bucket whose
// window lies in [start, end).
func (db *DB) ArtistsWithSealedBuckets(ctx context.Context, start, end time.Time) ([]string, error) {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT DISTINCT artist_id FROM aggregate_buckets
		WHERE window_start >= ? AND window_start < ?
		ORDER BY artist_id`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query artists: %w", err)
	}
	defer rows.Close()

	var artists []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan artist: %w", err)
		}
		artists = append(artists, id)
	}
	return artists, rows.Err()
}

// SealedBuckets returns an artist's sealed buckets with windows in
// [start, end), ordered by window then track.
func (db *DB) SealedBuckets(ctx context.Context, artistID string, start, end time.Time) ([]models.AggregateBucket, error) {
	return db.queryBuckets(ctx, `
		SELECT artist_id, track_id, window_start, window_end, valid_play_count, flagged_play_count, total_duration_ms
		FROM aggregate_buckets
		WHERE artist_id = ? AND window_start >= ? AND window_start < ?
		ORDER BY window_start, track_id`, artistID, start.UTC(), end.UTC())
}

// WindowBuckets returns every sealed bucket of one window.
func (db *DB) WindowBuckets(ctx context.Context, windowStart time.Time) ([]models.AggregateBucket, error) {
	return db.queryBuckets(ctx, `
		SELECT artist_id, track_id, window_start, window_end, valid_play_count, flagged_play_count, total_duration_ms
		FROM aggregate_buckets
		WHERE window_start = ?
		ORDER BY artist_id, track_id`, windowStart.UTC())
}

// SealedBucket returns one sealed bucket or ErrNotFound.
func (db *DB) SealedBucket(ctx context.Context, key models.BucketKey) (*models.AggregateBucket, error) {
	buckets, err := db.queryBuckets(ctx, `
		SELECT artist_id, track_id, window_start, window_end, valid_play_count, flagged_play_count, total_duration_ms
		FROM aggregate_buckets
		WHERE artist_id = ? AND track_id = ? AND window_start = ?`,
		key.ArtistID, key.TrackID, key.WindowStart.UTC())
	if err != nil {
		return nil, err
	}
	if len(buckets) == 0 {
		return nil, ErrNotFound
	}
	return &buckets[0], nil
}

func (db *DB) queryBuckets(ctx context.Context, query string, args ...interface{}) ([]models.AggregateBucket, error) {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	defer rows.Close()

	buckets := []models.AggregateBucket{}
	for rows.Next() {
		var b models.AggregateBucket
		if err := rows.Scan(&b.ArtistID, &b.TrackID, &b.WindowStart, &b.WindowEnd,
			&b.ValidPlayCount, &b.FlaggedPlayCount, &b.TotalDurationMs); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		b.WindowStart = b.WindowStart.UTC()
		b.WindowEnd = b.WindowEnd.UTC()
		b.Sealed = true
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}
	return buckets, nil
}

// isNoRows reports sql.ErrNoRows.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

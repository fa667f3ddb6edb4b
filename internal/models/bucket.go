// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package models

import (
	"fmt"
	"time"
)

// BucketKey identifies an aggregate bucket.
type BucketKey struct {
	ArtistID    string
	TrackID     string
	WindowStart time.Time
}

// String renders the key for logs and map keys.
func (k BucketKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.ArtistID, k.TrackID, k.WindowStart.Unix())
}

// Delta is the change applied to a bucket by a single recorded event.
type Delta struct {
	ValidPlays   int64
	FlaggedPlays int64
	DurationMs   int64
}

// DeltaFor maps a verdict onto bucket counters. REJECTED events produce a
// zero delta and ok=false: they never touch a bucket.
func DeltaFor(verdict Verdict, durationMs int64) (Delta, bool) {
	switch verdict {
	case VerdictClean:
		return Delta{ValidPlays: 1, DurationMs: durationMs}, true
	case VerdictSuspicious:
		return Delta{FlaggedPlays: 1, DurationMs: durationMs}, true
	default:
		return Delta{}, false
	}
}

// AggregateBucket holds windowed counters for an (artist, track) pair.
type AggregateBucket struct {
	ArtistID         string    `json:"artist_id"`
	TrackID          string    `json:"track_id"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	ValidPlayCount   int64     `json:"valid_play_count"`
	FlaggedPlayCount int64     `json:"flagged_play_count"`
	TotalDurationMs  int64     `json:"total_duration_ms"`
	Sealed           bool      `json:"sealed"`
}

// Key returns the bucket's identity.
func (b AggregateBucket) Key() BucketKey {
	return BucketKey{ArtistID: b.ArtistID, TrackID: b.TrackID, WindowStart: b.WindowStart}
}

// WindowStartFor truncates t to the start of its fixed-size window in UTC.
func WindowStartFor(t time.Time, size time.Duration) time.Time {
	return t.UTC().Truncate(size)
}

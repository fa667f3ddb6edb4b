// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

/*
Package aggregation holds windowed play counters per artist, track and time
bucket, plus the bounded recent listening history the fraud analyzer reads.

# Windows

Windows are fixed-size (hourly by default) and keyed by their UTC start.
Each window carries its own read/write lock. Increments hold the read lock
and update per-bucket atomic counters, so increments to different buckets
never contend and increments to the same bucket never lose updates. Seal
takes the write lock, marks the window sealed and snapshots its buckets.
Once Seal returns, every later Increment for that window fails with
*models.WindowSealedError.

# Watermark

The store tracks a sealed watermark: every window that starts before it is
sealed. Sealing windows in order advances the watermark. Increments below
the watermark are rejected even after the window itself has been pruned.

# History

Observe records an event into a per-listener and a per-device ring, each
bounded in length. RecentHistory returns the union of both rings since a
cutoff, deduplicated and ordered by timestamp.

# Usage

	store := aggregation.NewMemoryStore(aggregation.DefaultConfig())
	key := models.BucketKey{ArtistID: "a1", TrackID: "t1", WindowStart: ws}
	if err := store.Increment(ctx, key, models.Delta{ValidPlays: 1}); err != nil {
	    var sealed *models.WindowSealedError
	    if errors.As(err, &sealed) {
	        // late event
	    }
	}
	buckets, err := store.Seal(ctx, ws, ws.Add(time.Hour))
*/
package aggregation

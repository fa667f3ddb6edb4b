// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/encore/internal/logging"
	"github.com/tomtom215/encore/internal/models"
)

// Rebuild restores in-memory state after a restart. The store watermark is
// set from the ledger, then audit records are replayed: records in windows
// at or after the watermark restore open-window counters, and records within
// the fraud lookback before it restore listener and device history only.
//
// Rebuild must run before the first Record call.
func (t *Tracker) Rebuild(ctx context.Context) (int, error) {
	started := time.Now()

	through, err := t.windows.SealedThrough(ctx)
	if err != nil {
		return 0, fmt.Errorf("read sealed watermark: %w", err)
	}
	t.store.RestoreWatermark(through)

	size := t.store.WindowSize()
	from := time.Unix(0, 0).UTC()
	if !through.IsZero() {
		from = models.WindowStartFor(through.Add(-t.analyzer.Config().Lookback()), size)
	}
	to := models.WindowStartFor(t.now().Add(t.cfg.MaxClockSkew), size).Add(size)

	restored := 0
	n, err := t.log.Replay(ctx, from, to, func(rec *models.AuditRecord) error {
		if err := t.store.Observe(ctx, &rec.Event); err != nil {
			return err
		}
		if !through.IsZero() && rec.WindowStart.Before(through) {
			return nil
		}
		delta, ok := models.DeltaFor(rec.Analysis.Verdict, rec.Event.DurationMs)
		if !ok {
			return nil
		}
		key := models.BucketKey{ArtistID: rec.Event.ArtistID, TrackID: rec.Event.TrackID, WindowStart: rec.WindowStart}
		if err := t.store.Increment(ctx, key, delta); err != nil {
			var sealed *models.WindowSealedError
			if errors.As(err, &sealed) {
				return nil
			}
			return err
		}
		restored++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("replay audit log: %w", err)
	}

	logging.Info().
		Int("replayed", n).
		Int("restored", restored).
		Time("sealed_through", through).
		Dur("duration", time.Since(started)).
		Msg("Tracker state rebuilt from audit log")
	return n, nil
}

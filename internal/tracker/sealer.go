// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/encore/internal/aggregation"
	"github.com/tomtom215/encore/internal/logging"
	"github.com/tomtom215/encore/internal/metrics"
	"github.com/tomtom215/encore/internal/models"
)

// Sealer closes due windows and persists their snapshots to the ledger.
type Sealer struct {
	store   aggregation.Store
	windows WindowLedger
	grace   time.Duration
	now     func() time.Time

	mu   sync.Mutex
	next time.Time // start of the next window to seal; zero until known
}

// NewSealer creates a Sealer. Windows are sealed once end+grace has passed.
func NewSealer(store aggregation.Store, windows WindowLedger, grace time.Duration) *Sealer {
	return &Sealer{
		store:   store,
		windows: windows,
		grace:   grace,
		now:     time.Now,
	}
}

// SealDue seals every due window in order, starting at the persisted
// watermark, and returns how many were sealed. When a snapshot fails to
// persist the loop stops; the next call seals the same window again, which
// returns the same snapshot, and retries the write.
func (s *Sealer) SealDue(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next.IsZero() {
		through, err := s.windows.SealedThrough(ctx)
		if err != nil {
			return 0, &models.TransientStoreError{Op: "read sealed watermark", Err: err}
		}
		if through.IsZero() {
			earliest, ok := s.store.EarliestOpenWindow()
			if !ok {
				return 0, nil
			}
			through = earliest
		}
		s.next = through.UTC()
	}

	size := s.store.WindowSize()
	now := s.now().UTC()
	sealed := 0
	for {
		if err := ctx.Err(); err != nil {
			return sealed, err
		}
		start := s.next
		end := start.Add(size)
		if end.Add(s.grace).After(now) {
			return sealed, nil
		}

		buckets, err := s.store.Seal(ctx, start, end)
		if err != nil {
			return sealed, fmt.Errorf("seal window %s: %w", start.Format(time.RFC3339), err)
		}
		if err := s.windows.PersistSealedWindow(ctx, start, end, buckets, now); err != nil {
			logging.Error().
				Err(err).
				Time("window_start", start).
				Int("buckets", len(buckets)).
				Msg("Failed to persist sealed window")
			return sealed, &models.TransientStoreError{Op: "persist sealed window", Err: err}
		}

		metrics.RecordWindowSealed(len(buckets), end)
		logging.Debug().
			Time("window_start", start).
			Int("buckets", len(buckets)).
			Msg("Window sealed")
		s.next = end
		sealed++
	}
}

// Next returns the start of the next window the sealer will close.
func (s *Sealer) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

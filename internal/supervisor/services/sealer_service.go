// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package services

import (
	"context"
	"time"

	"github.com/tomtom215/encore/internal/logging"
)

// WindowSealer is satisfied by *tracker.Sealer.
type WindowSealer interface {
	SealDue(ctx context.Context) (int, error)
}

// StorePruner is satisfied by *aggregation.MemoryStore.
type StorePruner interface {
	Prune(now time.Time) (windows, entries int)
}

// GarbageCollector is satisfied by *auditlog.BadgerLog.
type GarbageCollector interface {
	RunGC() error
}

// gcEvery is how many seal ticks pass between audit log GC runs.
const gcEvery = 20

// SealerService seals due aggregation windows on a fixed interval.
//
// Each tick runs SealDue and then prunes sealed windows and listener
// history the store no longer needs. Every gcEvery ticks it also reclaims
// audit log value-log space. Sealing failures are logged and retried on the
// next tick; the sealer resumes from the same window.
type SealerService struct {
	sealer   WindowSealer
	store    StorePruner
	gc       GarbageCollector
	interval time.Duration
	now      func() time.Time
	name     string
}

// NewSealerService creates the sealing loop. store and gc may be nil.
func NewSealerService(sealer WindowSealer, store StorePruner, gc GarbageCollector, interval time.Duration) *SealerService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SealerService{
		sealer:   sealer,
		store:    store,
		gc:       gc,
		interval: interval,
		now:      time.Now,
		name:     "window-sealer",
	}
}

// Serve implements suture.Service.
func (s *SealerService) Serve(ctx context.Context) error {
	log := logging.WithComponent(s.name)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	ticks := 0
	for {
		s.tick(ctx, ticks%gcEvery == gcEvery-1)
		ticks++

		select {
		case <-ctx.Done():
			log.Debug().Msg("Sealer stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *SealerService) tick(ctx context.Context, runGC bool) {
	log := logging.WithComponent(s.name)

	sealed, err := s.sealer.SealDue(ctx)
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Int("sealed", sealed).Msg("Sealing pass failed, will retry")
	}

	if s.store != nil {
		windows, entries := s.store.Prune(s.now())
		if windows > 0 || entries > 0 {
			log.Debug().Int("windows", windows).Int("history_entries", entries).Msg("Pruned aggregation store")
		}
	}

	if runGC && s.gc != nil {
		if err := s.gc.RunGC(); err != nil {
			log.Warn().Err(err).Msg("Audit log GC failed")
		}
	}
}

// String implements fmt.Stringer for suture's log messages.
func (s *SealerService) String() string {
	return s.name
}

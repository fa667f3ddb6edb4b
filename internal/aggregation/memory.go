// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package aggregation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/encore/internal/models"
)

// counters is one bucket's live state.
type counters struct {
	artistID string
	trackID  string
	valid    atomic.Int64
	flagged  atomic.Int64
	duration atomic.Int64
}

// window holds every bucket for one window start.
type window struct {
	start time.Time
	end   time.Time

	mu       sync.RWMutex // read: increment, write: seal
	sealed   bool
	snapshot []models.AggregateBucket

	buckets sync.Map // bucketID -> *counters
	count   atomic.Int64
}

// sealLocked marks the window sealed and captures its snapshot once.
// w.mu must be held for writing.
func (w *window) sealLocked() {
	if w.sealed {
		return
	}
	w.sealed = true
	snap := make([]models.AggregateBucket, 0, w.count.Load())
	w.buckets.Range(func(_, v any) bool {
		snap = append(snap, w.toBucket(v.(*counters)))
		return true
	})
	sort.Slice(snap, func(i, j int) bool {
		if snap[i].ArtistID != snap[j].ArtistID {
			return snap[i].ArtistID < snap[j].ArtistID
		}
		return snap[i].TrackID < snap[j].TrackID
	})
	w.snapshot = snap
}

func bucketID(artistID, trackID string) string {
	return artistID + "\x00" + trackID
}

func (w *window) toBucket(c *counters) models.AggregateBucket {
	return models.AggregateBucket{
		ArtistID:         c.artistID,
		TrackID:          c.trackID,
		WindowStart:      w.start,
		WindowEnd:        w.end,
		ValidPlayCount:   c.valid.Load(),
		FlaggedPlayCount: c.flagged.Load(),
		TotalDurationMs:  c.duration.Load(),
		Sealed:           w.sealed,
	}
}

// MemoryStore is the in-process Store implementation.
type MemoryStore struct {
	cfg Config

	mu            sync.RWMutex
	windows       map[int64]*window
	sealedThrough time.Time

	history *historyIndex
}

// NewMemoryStore creates an empty store. Invalid sizing falls back to defaults.
func NewMemoryStore(cfg Config) *MemoryStore {
	def := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.HistoryPerKey <= 0 {
		cfg.HistoryPerKey = def.HistoryPerKey
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = def.HistoryRetention
	}
	if cfg.WindowRetention <= 0 {
		cfg.WindowRetention = def.WindowRetention
	}
	return &MemoryStore{
		cfg:     cfg,
		windows: make(map[int64]*window),
		history: newHistoryIndex(cfg.HistoryPerKey),
	}
}

// WindowSize returns the configured window length.
func (s *MemoryStore) WindowSize() time.Duration {
	return s.cfg.WindowSize
}

func (s *MemoryStore) aligned(t time.Time) bool {
	return models.WindowStartFor(t, s.cfg.WindowSize).Equal(t)
}

// lookup returns the window for start, creating it when create is true.
// Windows below the watermark are never created.
func (s *MemoryStore) lookup(start time.Time, create bool) (*window, bool) {
	start = start.UTC()
	id := start.Unix()

	s.mu.RLock()
	w, ok := s.windows[id]
	below := !s.sealedThrough.IsZero() && start.Before(s.sealedThrough)
	s.mu.RUnlock()
	if ok || !create || below {
		return w, below
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok = s.windows[id]; ok {
		return w, false
	}
	if !s.sealedThrough.IsZero() && start.Before(s.sealedThrough) {
		return nil, true
	}
	w = &window{start: start, end: start.Add(s.cfg.WindowSize)}
	s.windows[id] = w
	return w, false
}

// Increment applies delta to the bucket at key.
func (s *MemoryStore) Increment(ctx context.Context, key models.BucketKey, delta models.Delta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.aligned(key.WindowStart) {
		return fmt.Errorf("window start %s is not aligned to %s", key.WindowStart.UTC().Format(time.RFC3339), s.cfg.WindowSize)
	}

	w, below := s.lookup(key.WindowStart, true)
	if below {
		return &models.WindowSealedError{WindowStart: key.WindowStart.UTC()}
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.sealed {
		return &models.WindowSealedError{WindowStart: w.start}
	}

	id := bucketID(key.ArtistID, key.TrackID)
	v, ok := w.buckets.Load(id)
	if !ok {
		var loaded bool
		v, loaded = w.buckets.LoadOrStore(id, &counters{artistID: key.ArtistID, trackID: key.TrackID})
		if !loaded {
			w.count.Add(1)
		}
	}
	c := v.(*counters)
	c.valid.Add(delta.ValidPlays)
	c.flagged.Add(delta.FlaggedPlays)
	c.duration.Add(delta.DurationMs)
	return nil
}

// Seal closes the window starting at start. end must equal start plus the
// window size.
func (s *MemoryStore) Seal(ctx context.Context, start, end time.Time) ([]models.AggregateBucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start, end = start.UTC(), end.UTC()
	if !s.aligned(start) || !end.Equal(start.Add(s.cfg.WindowSize)) {
		return nil, fmt.Errorf("seal range %s..%s does not match a %s window",
			start.Format(time.RFC3339), end.Format(time.RFC3339), s.cfg.WindowSize)
	}

	w, below := s.lookup(start, true)
	if w == nil && below {
		// Already sealed and pruned; nothing remains in memory.
		return []models.AggregateBucket{}, nil
	}

	w.mu.Lock()
	w.sealLocked()
	out := make([]models.AggregateBucket, len(w.snapshot))
	copy(out, w.snapshot)
	w.mu.Unlock()

	s.advanceWatermark()
	return out, nil
}

// advanceWatermark moves sealedThrough forward across contiguous sealed
// windows. With no watermark yet it starts at the oldest known window, so an
// older window that is still open holds the watermark at zero.
func (s *MemoryStore) advanceWatermark() {
	s.mu.Lock()
	defer s.mu.Unlock()

	through := s.sealedThrough
	if through.IsZero() {
		for _, w := range s.windows {
			if through.IsZero() || w.start.Before(through) {
				through = w.start
			}
		}
	}
	for {
		w, ok := s.windows[through.Unix()]
		if !ok {
			return
		}
		w.mu.RLock()
		sealed := w.sealed
		w.mu.RUnlock()
		if !sealed {
			return
		}
		through = w.end
		s.sealedThrough = through
	}
}

// Get returns the bucket at key or nil.
func (s *MemoryStore) Get(ctx context.Context, key models.BucketKey) (*models.AggregateBucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, _ := s.lookup(key.WindowStart, false)
	if w == nil {
		return nil, nil
	}
	v, ok := w.buckets.Load(bucketID(key.ArtistID, key.TrackID))
	if !ok {
		return nil, nil
	}
	w.mu.RLock()
	b := w.toBucket(v.(*counters))
	w.mu.RUnlock()
	return &b, nil
}

// SealedThrough returns the watermark.
func (s *MemoryStore) SealedThrough() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealedThrough
}

// RestoreWatermark raises the watermark to t. Open windows below t are
// marked sealed so they reject increments.
func (s *MemoryStore) RestoreWatermark(t time.Time) {
	if t.IsZero() {
		return
	}
	t = t.UTC()

	s.mu.Lock()
	if t.After(s.sealedThrough) {
		s.sealedThrough = t
	}
	var stale []*window
	for _, w := range s.windows {
		if w.start.Before(t) {
			stale = append(stale, w)
		}
	}
	s.mu.Unlock()

	for _, w := range stale {
		w.mu.Lock()
		w.sealLocked()
		w.mu.Unlock()
	}
}

// EarliestOpenWindow returns the oldest window that is not sealed.
func (s *MemoryStore) EarliestOpenWindow() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var earliest time.Time
	found := false
	for _, w := range s.windows {
		w.mu.RLock()
		sealed := w.sealed
		w.mu.RUnlock()
		if sealed {
			continue
		}
		if !found || w.start.Before(earliest) {
			earliest = w.start
			found = true
		}
	}
	return earliest, found
}

// Observe records event into the history rings.
func (s *MemoryStore) Observe(ctx context.Context, event *models.StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.history.add(event)
	return nil
}

// RecentHistory returns events for listenerID or deviceID after since.
func (s *MemoryStore) RecentHistory(ctx context.Context, listenerID, deviceID string, since time.Time) ([]models.StreamEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.history.since(listenerID, deviceID, since), nil
}

// Prune drops sealed windows that ended before now minus WindowRetention and
// history older than now minus HistoryRetention. Windows at or above the
// watermark are never pruned.
func (s *MemoryStore) Prune(now time.Time) (windows, entries int) {
	cutoff := now.Add(-s.cfg.WindowRetention)

	s.mu.Lock()
	for id, w := range s.windows {
		if w.end.After(s.sealedThrough) || w.end.After(cutoff) {
			continue
		}
		w.mu.RLock()
		sealed := w.sealed
		w.mu.RUnlock()
		if sealed {
			delete(s.windows, id)
			windows++
		}
	}
	s.mu.Unlock()

	entries = s.history.prune(now.Add(-s.cfg.HistoryRetention))
	return windows, entries
}

// Stats returns occupancy counts.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	st := Stats{SealedThrough: s.sealedThrough}
	for _, w := range s.windows {
		w.mu.RLock()
		if w.sealed {
			st.SealedWindows++
		} else {
			st.OpenWindows++
		}
		w.mu.RUnlock()
		st.Buckets += int(w.count.Load())
	}
	s.mu.RUnlock()

	st.TrackedKeys, st.HistoryEntries = s.history.size()
	return st
}

var _ Store = (*MemoryStore)(nil)

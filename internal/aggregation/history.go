// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package aggregation

import (
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/encore/internal/models"
)

// ring is a fixed-capacity buffer of events; the oldest insert is
// overwritten once full.
type ring struct {
	events []models.StreamEvent
	next   int
	full   bool
}

func newRing(capacity int) *ring {
	return &ring{events: make([]models.StreamEvent, capacity)}
}

func (r *ring) add(e *models.StreamEvent) {
	r.events[r.next] = *e
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.events)
	}
	return r.next
}

// each visits stored events in insertion order.
func (r *ring) each(fn func(e *models.StreamEvent)) {
	if r.full {
		for i := r.next; i < len(r.events); i++ {
			fn(&r.events[i])
		}
	}
	for i := 0; i < r.next; i++ {
		fn(&r.events[i])
	}
}

// newest returns the latest timestamp held.
func (r *ring) newest() time.Time {
	var t time.Time
	r.each(func(e *models.StreamEvent) {
		if e.Timestamp.After(t) {
			t = e.Timestamp
		}
	})
	return t
}

// historyIndex keys rings by listener and by device.
type historyIndex struct {
	mu         sync.RWMutex
	capacity   int
	byListener map[string]*ring
	byDevice   map[string]*ring
}

func newHistoryIndex(capacity int) *historyIndex {
	return &historyIndex{
		capacity:   capacity,
		byListener: make(map[string]*ring),
		byDevice:   make(map[string]*ring),
	}
}

func (h *historyIndex) add(e *models.StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	lr, ok := h.byListener[e.ListenerID]
	if !ok {
		lr = newRing(h.capacity)
		h.byListener[e.ListenerID] = lr
	}
	lr.add(e)

	dr, ok := h.byDevice[e.DeviceID]
	if !ok {
		dr = newRing(h.capacity)
		h.byDevice[e.DeviceID] = dr
	}
	dr.add(e)
}

// since merges both rings, dropping duplicates and anything at or before
// cutoff, ordered by timestamp then eventId.
func (h *historyIndex) since(listenerID, deviceID string, cutoff time.Time) []models.StreamEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []models.StreamEvent
	collect := func(e *models.StreamEvent) {
		if !e.Timestamp.After(cutoff) {
			return
		}
		if _, dup := seen[e.EventID]; dup {
			return
		}
		seen[e.EventID] = struct{}{}
		out = append(out, *e)
	}
	if r, ok := h.byListener[listenerID]; ok {
		r.each(collect)
	}
	if r, ok := h.byDevice[deviceID]; ok {
		r.each(collect)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].EventID < out[j].EventID
	})
	return out
}

// prune removes rings whose newest event is at or before cutoff and returns
// the number of events dropped.
func (h *historyIndex) prune(cutoff time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0
	for _, m := range []map[string]*ring{h.byListener, h.byDevice} {
		for k, r := range m {
			if r.newest().After(cutoff) {
				continue
			}
			dropped += r.len()
			delete(m, k)
		}
	}
	return dropped
}

func (h *historyIndex) size() (keys, entries int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, m := range []map[string]*ring{h.byListener, h.byDevice} {
		for _, r := range m {
			keys++
			entries += r.len()
		}
	}
	return keys, entries
}

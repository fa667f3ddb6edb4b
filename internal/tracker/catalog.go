// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tomtom215/encore/internal/ledger"
	"github.com/tomtom215/encore/internal/logging"
	"github.com/tomtom215/encore/internal/models"
)

// Catalog resolves track metadata. *ledger.DB satisfies it.
type Catalog interface {
	GetTrack(ctx context.Context, trackID string) (*models.Track, error)
}

// TrackCatalog caches track lengths in front of a Catalog. Unknown tracks
// are cached as length 0 so repeated plays of an uncatalogued track do not
// hit the ledger.
type TrackCatalog struct {
	source Catalog
	cache  *expirable.LRU[string, int64]
}

// NewTrackCatalog wraps source with an LRU of size entries expiring after ttl.
func NewTrackCatalog(source Catalog, size int, ttl time.Duration) *TrackCatalog {
	return &TrackCatalog{
		source: source,
		cache:  expirable.NewLRU[string, int64](size, nil, ttl),
	}
}

// LengthMs returns the known length of trackID, or 0 when unknown. Lookup
// failures other than not-found are not cached.
func (c *TrackCatalog) LengthMs(ctx context.Context, trackID string) int64 {
	if c == nil || c.source == nil {
		return 0
	}
	if length, ok := c.cache.Get(trackID); ok {
		return length
	}

	t, err := c.source.GetTrack(ctx, trackID)
	switch {
	case err == nil:
		c.cache.Add(trackID, t.LengthMs)
		return t.LengthMs
	case errors.Is(err, ledger.ErrNotFound):
		c.cache.Add(trackID, 0)
		return 0
	default:
		logging.Debug().Err(err).Str("track_id", trackID).Msg("Track length lookup failed")
		return 0
	}
}

// Invalidate drops the cached entry for trackID.
func (c *TrackCatalog) Invalidate(trackID string) {
	if c == nil {
		return
	}
	c.cache.Remove(trackID)
}

// Len returns the number of cached entries.
func (c *TrackCatalog) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/encore/internal/models"
)

// Store is the aggregation contract used by the tracker and the sealer.
type Store interface {
	// Increment atomically applies delta to the bucket at key.
	Increment(ctx context.Context, key models.BucketKey, delta models.Delta) error

	// Seal closes the window [start, end) and returns its immutable snapshot.
	// Sealing an already sealed window returns the same snapshot.
	Seal(ctx context.Context, start, end time.Time) ([]models.AggregateBucket, error)

	// Get returns the bucket at key, or nil when it has never been incremented.
	Get(ctx context.Context, key models.BucketKey) (*models.AggregateBucket, error)

	// Observe adds event to the listener and device history.
	Observe(ctx context.Context, event *models.StreamEvent) error

	// RecentHistory returns events by listenerID or on deviceID after since.
	RecentHistory(ctx context.Context, listenerID, deviceID string, since time.Time) ([]models.StreamEvent, error)

	// SealedThrough is the sealed watermark. The zero time means nothing is sealed.
	SealedThrough() time.Time

	// RestoreWatermark sets the watermark after a restart.
	RestoreWatermark(t time.Time)

	// EarliestOpenWindow reports the oldest unsealed window holding data.
	EarliestOpenWindow() (time.Time, bool)

	// WindowSize is the fixed window length.
	WindowSize() time.Duration
}

// Config controls window sizing and history bounds.
type Config struct {
	WindowSize time.Duration `koanf:"window_size"`

	// HistoryPerKey bounds each listener and device ring.
	HistoryPerKey int `koanf:"history_per_key"`

	// HistoryRetention drops history older than this on Prune.
	HistoryRetention time.Duration `koanf:"history_retention"`

	// WindowRetention keeps sealed windows readable through Get for this long
	// after their end.
	WindowRetention time.Duration `koanf:"window_retention"`
}

// DefaultConfig returns hourly windows with two hours of history.
func DefaultConfig() Config {
	return Config{
		WindowSize:       time.Hour,
		HistoryPerKey:    256,
		HistoryRetention: 2 * time.Hour,
		WindowRetention:  48 * time.Hour,
	}
}

// Validate checks the store configuration.
func (c Config) Validate() error {
	if c.WindowSize < time.Minute {
		return fmt.Errorf("window_size must be at least 1m, got %s", c.WindowSize)
	}
	if time.Hour%c.WindowSize != 0 && c.WindowSize%time.Hour != 0 {
		return fmt.Errorf("window_size must divide or be a multiple of 1h, got %s", c.WindowSize)
	}
	if c.HistoryPerKey <= 0 {
		return fmt.Errorf("history_per_key must be positive")
	}
	if c.HistoryRetention <= 0 || c.WindowRetention <= 0 {
		return fmt.Errorf("history_retention and window_retention must be positive")
	}
	return nil
}

// Stats is a point-in-time view of store occupancy.
type Stats struct {
	OpenWindows    int
	SealedWindows  int
	Buckets        int
	TrackedKeys    int
	HistoryEntries int
	SealedThrough  time.Time
}

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package fraud

import (
	"fmt"
	"time"
)

// Config holds the analyzer thresholds and per-heuristic score weights.
type Config struct {
	// VelocityWindowSec and VelocityMaxPlays bound plays per listener.
	VelocityWindowSec int     `json:"velocity_window_sec" koanf:"velocity_window_sec"`
	VelocityMaxPlays  int     `json:"velocity_max_plays" koanf:"velocity_max_plays"`
	VelocityWeight    float64 `json:"velocity_weight" koanf:"velocity_weight"`

	// MinValidListenRatio is the fraction of the track's known length a play
	// must reach. MinValidListenMs applies when the length is unknown.
	MinValidListenRatio float64 `json:"min_valid_listen_ratio" koanf:"min_valid_listen_ratio"`
	MinValidListenMs    int64   `json:"min_valid_listen_ms" koanf:"min_valid_listen_ms"`
	ShortPlayWeight     float64 `json:"short_play_weight" koanf:"short_play_weight"`

	// FanoutWindowSec and FanoutMaxDevices bound distinct devices or source
	// IPs used by one listener.
	FanoutWindowSec  int     `json:"fanout_window_sec" koanf:"fanout_window_sec"`
	FanoutMaxDevices int     `json:"fanout_max_devices" koanf:"fanout_max_devices"`
	FanoutWeight     float64 `json:"fanout_weight" koanf:"fanout_weight"`

	// RepeatWindowSec and RepeatMaxPlays bound replays of one track by one listener.
	RepeatWindowSec int     `json:"repeat_window_sec" koanf:"repeat_window_sec"`
	RepeatMaxPlays  int     `json:"repeat_max_plays" koanf:"repeat_max_plays"`
	RepeatWeight    float64 `json:"repeat_weight" koanf:"repeat_weight"`

	// CleanMax and SuspiciousMax are the verdict thresholds.
	CleanMax      float64 `json:"clean_max" koanf:"clean_max"`
	SuspiciousMax float64 `json:"suspicious_max" koanf:"suspicious_max"`
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() Config {
	return Config{
		VelocityWindowSec:   60,
		VelocityMaxPlays:    5,
		VelocityWeight:      0.35,
		MinValidListenRatio: 0.15,
		MinValidListenMs:    30_000,
		ShortPlayWeight:     0.2,
		FanoutWindowSec:     3600,
		FanoutMaxDevices:    3,
		FanoutWeight:        0.35,
		RepeatWindowSec:     3600,
		RepeatMaxPlays:      8,
		RepeatWeight:        0.25,
		CleanMax:            0.3,
		SuspiciousMax:       0.7,
	}
}

// Validate checks threshold ranges.
func (c Config) Validate() error {
	if c.VelocityWindowSec <= 0 || c.VelocityMaxPlays <= 0 {
		return fmt.Errorf("velocity_window_sec and velocity_max_plays must be positive")
	}
	if c.MinValidListenRatio < 0 || c.MinValidListenRatio > 1 {
		return fmt.Errorf("min_valid_listen_ratio must be between 0 and 1, got %v", c.MinValidListenRatio)
	}
	if c.MinValidListenMs < 0 {
		return fmt.Errorf("min_valid_listen_ms must not be negative")
	}
	if c.FanoutWindowSec <= 0 || c.FanoutMaxDevices <= 0 {
		return fmt.Errorf("fanout_window_sec and fanout_max_devices must be positive")
	}
	if c.RepeatWindowSec <= 0 || c.RepeatMaxPlays <= 0 {
		return fmt.Errorf("repeat_window_sec and repeat_max_plays must be positive")
	}
	for name, w := range map[string]float64{
		"velocity_weight":   c.VelocityWeight,
		"short_play_weight": c.ShortPlayWeight,
		"fanout_weight":     c.FanoutWeight,
		"repeat_weight":     c.RepeatWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, w)
		}
	}
	if c.CleanMax <= 0 || c.SuspiciousMax <= c.CleanMax || c.SuspiciousMax > 1 {
		return fmt.Errorf("thresholds must satisfy 0 < clean_max (%v) < suspicious_max (%v) <= 1",
			c.CleanMax, c.SuspiciousMax)
	}
	return nil
}

// Lookback is the widest window any heuristic inspects. Callers size their
// history queries with it.
func (c Config) Lookback() time.Duration {
	widest := c.VelocityWindowSec
	if c.FanoutWindowSec > widest {
		widest = c.FanoutWindowSec
	}
	if c.RepeatWindowSec > widest {
		widest = c.RepeatWindowSec
	}
	return time.Duration(widest) * time.Second
}

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package fraud

import (
	"time"

	"github.com/tomtom215/encore/internal/models"
)

// input is what every heuristic sees. history is already restricted to the
// event's listener, excludes the event itself, and holds nothing newer than
// the event.
type input struct {
	event         *models.StreamEvent
	history       []models.StreamEvent
	trackLengthMs int64
}

// heuristic is one scoring rule. It reports whether it triggered; the
// analyzer owns the weights.
type heuristic interface {
	Flag() models.FlagCode
	Triggered(cfg *Config, in *input) bool
}

// since returns the history entries strictly after event time minus window.
func (in *input) since(windowSec int) []models.StreamEvent {
	cutoff := in.event.Timestamp.Add(-time.Duration(windowSec) * time.Second)
	out := make([]models.StreamEvent, 0, len(in.history))
	for i := range in.history {
		if in.history[i].Timestamp.After(cutoff) {
			out = append(out, in.history[i])
		}
	}
	return out
}

// velocityRule flags listeners exceeding the allowed plays per window.
type velocityRule struct{}

func (velocityRule) Flag() models.FlagCode { return models.FlagHighVelocity }

func (velocityRule) Triggered(cfg *Config, in *input) bool {
	plays := len(in.since(cfg.VelocityWindowSec)) + 1
	return plays > cfg.VelocityMaxPlays
}

// shortPlayRule flags plays below the minimum valid listen.
type shortPlayRule struct{}

func (shortPlayRule) Flag() models.FlagCode { return models.FlagShortPlay }

func (shortPlayRule) Triggered(cfg *Config, in *input) bool {
	threshold := float64(cfg.MinValidListenMs)
	if in.trackLengthMs > 0 {
		threshold = cfg.MinValidListenRatio * float64(in.trackLengthMs)
	}
	if threshold <= 0 {
		return false
	}
	return float64(in.event.DurationMs) < threshold
}

// fanoutRule flags one listener spread over too many devices or addresses.
type fanoutRule struct{}

func (fanoutRule) Flag() models.FlagCode { return models.FlagDeviceFanout }

func (fanoutRule) Triggered(cfg *Config, in *input) bool {
	devices := map[string]struct{}{in.event.DeviceID: {}}
	ips := map[string]struct{}{in.event.SourceIP: {}}
	for _, e := range in.since(cfg.FanoutWindowSec) {
		devices[e.DeviceID] = struct{}{}
		ips[e.SourceIP] = struct{}{}
	}
	return len(devices) > cfg.FanoutMaxDevices || len(ips) > cfg.FanoutMaxDevices
}

// repeatRule flags the same track replayed faster than a person listens.
type repeatRule struct{}

func (repeatRule) Flag() models.FlagCode { return models.FlagRepeatAbuse }

func (repeatRule) Triggered(cfg *Config, in *input) bool {
	plays := 1
	for _, e := range in.since(cfg.RepeatWindowSec) {
		if e.TrackID == in.event.TrackID {
			plays++
		}
	}
	return plays > cfg.RepeatMaxPlays
}

// weight returns the configured contribution of a flag.
func (c *Config) weight(flag models.FlagCode) float64 {
	switch flag {
	case models.FlagHighVelocity:
		return c.VelocityWeight
	case models.FlagShortPlay:
		return c.ShortPlayWeight
	case models.FlagDeviceFanout:
		return c.FanoutWeight
	case models.FlagRepeatAbuse:
		return c.RepeatWeight
	}
	return 0
}

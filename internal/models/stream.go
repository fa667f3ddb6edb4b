// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

// Package models defines the domain types shared across the tracker, the
// aggregation store, the audit log, the ledger and the calculation engine.
package models

import (
	"time"
)

// SubscriptionTier is the listener's subscription plan at playback time.
type SubscriptionTier string

const (
	SubscriptionFree     SubscriptionTier = "FREE"
	SubscriptionStandard SubscriptionTier = "STANDARD"
	SubscriptionPremium  SubscriptionTier = "PREMIUM"
	SubscriptionFamily   SubscriptionTier = "FAMILY"
)

// Valid reports whether t is a known subscription tier.
func (t SubscriptionTier) Valid() bool {
	switch t {
	case SubscriptionFree, SubscriptionStandard, SubscriptionPremium, SubscriptionFamily:
		return true
	}
	return false
}

// StreamEvent is one recorded playback of a track by a listener.
// It is immutable once recorded.
type StreamEvent struct {
	EventID          string           `json:"event_id" validate:"required,max=128"`
	TrackID          string           `json:"track_id" validate:"required,max=128"`
	ArtistID         string           `json:"artist_id" validate:"required,max=128"`
	ListenerID       string           `json:"listener_id" validate:"required,max=128"`
	DeviceID         string           `json:"device_id" validate:"required,max=128"`
	Timestamp        time.Time        `json:"timestamp" validate:"required"`
	DurationMs       int64            `json:"duration_ms" validate:"gte=0"`
	SubscriptionTier SubscriptionTier `json:"subscription_tier" validate:"required,oneof=FREE STANDARD PREMIUM FAMILY"`
	SourceIP         string           `json:"source_ip" validate:"required,ip"`
}

// Verdict classifies a stream event after fraud analysis.
type Verdict string

const (
	VerdictClean      Verdict = "CLEAN"
	VerdictSuspicious Verdict = "SUSPICIOUS"
	VerdictRejected   Verdict = "REJECTED"
)

// FlagCode is a reason code attached by a fraud heuristic.
type FlagCode string

const (
	FlagHighVelocity FlagCode = "HIGH_VELOCITY"
	FlagShortPlay    FlagCode = "SHORT_PLAY"
	FlagDeviceFanout FlagCode = "DEVICE_FANOUT"
	FlagRepeatAbuse  FlagCode = "REPEAT_ABUSE"
)

// FraudAnalysisResult is attached 1:1 to a StreamEvent and never mutated.
type FraudAnalysisResult struct {
	EventID string     `json:"event_id"`
	Score   float64    `json:"score"`
	Flags   []FlagCode `json:"flags"`
	Verdict Verdict    `json:"verdict"`
}

// HasFlag reports whether the result carries the given flag.
func (r FraudAnalysisResult) HasFlag(flag FlagCode) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// AuditRecord is the durable unit written to the audit log: the event, its
// analysis and the aggregation window it belongs to.
type AuditRecord struct {
	Event       StreamEvent         `json:"event"`
	Analysis    FraudAnalysisResult `json:"analysis"`
	WindowStart time.Time           `json:"window_start"`
	RecordedAt  time.Time           `json:"recorded_at"`
	HistorySize int                 `json:"history_size"`
	Degraded    bool                `json:"degraded,omitempty"`
}

// RecordResult is returned by the tracker for every accepted event.
type RecordResult struct {
	EventID  string              `json:"event_id"`
	Accepted bool                `json:"accepted"`
	Verdict  Verdict             `json:"verdict"`
	Score    float64             `json:"score"`
	Flags    []FlagCode          `json:"flags,omitempty"`
	Late     bool                `json:"late,omitempty"`
	Degraded bool                `json:"degraded,omitempty"`
	Analysis FraudAnalysisResult `json:"-"`
}

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

// Package fraud scores individual stream events for suspicious listening
// patterns.
//
// The Analyzer is a pure function of its inputs: the event, the caller's
// recent history for the same listener or device, and the track's known
// length. It holds no mutable state and is safe for concurrent use.
//
// Heuristics, in evaluation order:
//
//   - HIGH_VELOCITY: too many plays by one listener in a short window
//   - SHORT_PLAY: duration below the minimum valid listen
//   - DEVICE_FANOUT: one listener on too many devices or source IPs
//   - REPEAT_ABUSE: one track replayed beyond a human listening rate
//
// Contributions are summed and capped at 1.0. The verdict is CLEAN below
// CleanMax, SUSPICIOUS below SuspiciousMax and REJECTED otherwise.
package fraud

import (
	"fmt"
	"math"

	"github.com/tomtom215/encore/internal/models"
)

// Analyzer evaluates stream events against the configured heuristics.
type Analyzer struct {
	config     Config
	heuristics []heuristic
}

// NewAnalyzer creates an analyzer after validating cfg.
func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fraud configuration: %w", err)
	}
	return &Analyzer{
		config: cfg,
		heuristics: []heuristic{
			velocityRule{},
			shortPlayRule{},
			fanoutRule{},
			repeatRule{},
		},
	}, nil
}

// Config returns the analyzer configuration.
func (a *Analyzer) Config() Config {
	return a.config
}

// Analyze scores event against history. trackLengthMs is the catalog length
// of the track, or zero when unknown.
func (a *Analyzer) Analyze(event *models.StreamEvent, history []models.StreamEvent, trackLengthMs int64) models.FraudAnalysisResult {
	in := &input{
		event:         event,
		history:       listenerHistory(event, history),
		trackLengthMs: trackLengthMs,
	}

	score := 0.0
	flags := make([]models.FlagCode, 0, len(a.heuristics))
	for _, h := range a.heuristics {
		if h.Triggered(&a.config, in) {
			flags = append(flags, h.Flag())
			score += a.config.weight(h.Flag())
		}
	}

	score = math.Min(score, 1.0)
	// Scores carry four decimal places.
	score = math.Round(score*10000) / 10000

	return models.FraudAnalysisResult{
		EventID: event.EventID,
		Score:   score,
		Flags:   flags,
		Verdict: a.Verdict(score),
	}
}

// Verdict maps a score onto CLEAN, SUSPICIOUS or REJECTED.
func (a *Analyzer) Verdict(score float64) models.Verdict {
	switch {
	case score < a.config.CleanMax:
		return models.VerdictClean
	case score < a.config.SuspiciousMax:
		return models.VerdictSuspicious
	default:
		return models.VerdictRejected
	}
}

// listenerHistory keeps only prior plays by the same listener, never the
// event itself and never anything after it.
func listenerHistory(event *models.StreamEvent, history []models.StreamEvent) []models.StreamEvent {
	out := make([]models.StreamEvent, 0, len(history))
	for i := range history {
		h := &history[i]
		if h.EventID == event.EventID || h.ListenerID != event.ListenerID {
			continue
		}
		if h.Timestamp.After(event.Timestamp) {
			continue
		}
		out = append(out, *h)
	}
	return out
}

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package tracker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tomtom215/encore/internal/fraud"
	"github.com/tomtom215/encore/internal/models"
)

func TestRebuild_RestoresOpenWindows(t *testing.T) {
	ctx := context.Background()
	log := openLog(t)
	first := newEnv(t, DefaultConfig(), fraud.DefaultConfig(), log)

	for i := 0; i < 3; i++ {
		ev := play(fmt.Sprintf("w0-%d", i), window0.Add(time.Duration(i)*10*time.Minute))
		if _, err := first.tracker.Record(ctx, ev); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		ev := play(fmt.Sprintf("w1-%d", i), window0.Add(time.Hour+time.Duration(i)*10*time.Minute))
		if _, err := first.tracker.Record(ctx, ev); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	// Restart with nothing sealed: every window is rebuilt.
	second := newEnv(t, DefaultConfig(), fraud.DefaultConfig(), log)
	n, err := second.tracker.Rebuild(ctx)
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if n != 5 {
		t.Errorf("replayed = %d, want 5", n)
	}
	if got := second.bucket(t, window0).ValidPlayCount; got != 3 {
		t.Errorf("window0 ValidPlayCount = %d, want 3", got)
	}
	if got := second.bucket(t, window0.Add(time.Hour)).ValidPlayCount; got != 2 {
		t.Errorf("window1 ValidPlayCount = %d, want 2", got)
	}

	// Restart with window0 persisted: only window1 counters come back, and
	// window0 rejects increments.
	third := newEnv(t, DefaultConfig(), fraud.DefaultConfig(), log)
	third.windows.through = window0.Add(time.Hour)
	if _, err := third.tracker.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if b := third.bucket(t, window0); b.ValidPlayCount != 0 {
		t.Errorf("sealed window0 restored: %+v", b)
	}
	if got := third.bucket(t, window0.Add(time.Hour)).ValidPlayCount; got != 2 {
		t.Errorf("window1 ValidPlayCount = %d, want 2", got)
	}
	if !third.store.SealedThrough().Equal(window0.Add(time.Hour)) {
		t.Errorf("store watermark = %v, want %v", third.store.SealedThrough(), window0.Add(time.Hour))
	}

	// History from before the watermark is restored for fraud analysis.
	hist, err := third.store.RecentHistory(ctx, "listener-1", "device-1", window0.Add(-time.Minute))
	if err != nil {
		t.Fatalf("RecentHistory() error = %v", err)
	}
	if len(hist) != 5 {
		t.Errorf("history = %d events, want 5", len(hist))
	}
}

func TestRebuild_DuplicatesStillDetected(t *testing.T) {
	ctx := context.Background()
	log := openLog(t)
	first := newEnv(t, DefaultConfig(), fraud.DefaultConfig(), log)
	if _, err := first.tracker.Record(ctx, play("once", window0.Add(time.Minute))); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	second := newEnv(t, DefaultConfig(), fraud.DefaultConfig(), log)
	if _, err := second.tracker.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	_, err := second.tracker.Record(ctx, play("once", window0.Add(time.Minute)))
	if _, ok := err.(*models.DuplicateEventError); !ok {
		t.Errorf("Record() after rebuild error = %v, want DuplicateEventError", err)
	}
	if got := second.bucket(t, window0).ValidPlayCount; got != 1 {
		t.Errorf("ValidPlayCount = %d, want 1", got)
	}
}

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package auditlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/encore/internal/models"
)

var testWindow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func openTestLog(t *testing.T) *BadgerLog {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.SyncWrites = false
	l, err := Open(&cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func record(id string, ws time.Time) *models.AuditRecord {
	return &models.AuditRecord{
		Event: models.StreamEvent{
			EventID:          id,
			TrackID:          "track-1",
			ArtistID:         "artist-1",
			ListenerID:       "listener-1",
			DeviceID:         "device-1",
			Timestamp:        ws.Add(5 * time.Minute),
			DurationMs:       180_000,
			SubscriptionTier: models.SubscriptionPremium,
			SourceIP:         "203.0.113.5",
		},
		Analysis: models.FraudAnalysisResult{
			EventID: id,
			Verdict: models.VerdictClean,
			Flags:   []models.FlagCode{},
		},
		WindowStart: ws,
		RecordedAt:  ws.Add(5 * time.Minute),
	}
}

func TestAppendAndGet(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)

	if err := l.Append(ctx, record("e1", testWindow)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := l.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Event.EventID != "e1" || got.Event.DurationMs != 180_000 {
		t.Errorf("Get() = %+v", got.Event)
	}
	if !got.WindowStart.Equal(testWindow) {
		t.Errorf("WindowStart = %v, want %v", got.WindowStart, testWindow)
	}
	if got.Analysis.Verdict != models.VerdictClean {
		t.Errorf("Verdict = %s, want CLEAN", got.Analysis.Verdict)
	}

	exists, err := l.Exists(ctx, "e1")
	if err != nil || !exists {
		t.Errorf("Exists(e1) = %v, %v; want true, nil", exists, err)
	}
	exists, err = l.Exists(ctx, "missing")
	if err != nil || exists {
		t.Errorf("Exists(missing) = %v, %v; want false, nil", exists, err)
	}

	if _, err := l.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestAppendDuplicate(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)

	if err := l.Append(ctx, record("dup", testWindow)); err != nil {
		t.Fatalf("first Append() error = %v", err)
	}
	err := l.Append(ctx, record("dup", testWindow.Add(time.Hour)))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second Append() error = %v, want ErrDuplicate", err)
	}

	n, err := l.Replay(ctx, testWindow, testWindow.Add(2*time.Hour), func(*models.AuditRecord) error { return nil })
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Replay() visited %d records, want 1", n)
	}

	st := l.Stats()
	if st.TotalAppends != 1 || st.TotalDuplicates != 1 {
		t.Errorf("Stats() = %+v, want 1 append and 1 duplicate", st)
	}
}

func TestAppendConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)

	var (
		wg        sync.WaitGroup
		successes atomic.Int64
		dups      atomic.Int64
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Append(ctx, record("race", testWindow))
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrDuplicate):
				dups.Add(1)
			default:
				t.Errorf("Append() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 {
		t.Errorf("successful appends = %d, want exactly 1", successes.Load())
	}
	if successes.Load()+dups.Load() != 16 {
		t.Errorf("successes %d + duplicates %d != 16", successes.Load(), dups.Load())
	}
}

func TestAppendRejectsEmptyID(t *testing.T) {
	l := openTestLog(t)
	if err := l.Append(context.Background(), record("", testWindow)); !errors.Is(err, ErrEmptyEventID) {
		t.Errorf("Append() error = %v, want ErrEmptyEventID", err)
	}
	if err := l.Append(context.Background(), nil); !errors.Is(err, ErrEmptyEventID) {
		t.Errorf("Append(nil) error = %v, want ErrEmptyEventID", err)
	}
}

func TestReplayRange(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)

	for h := 0; h < 4; h++ {
		ws := testWindow.Add(time.Duration(h) * time.Hour)
		for i := 0; i < 3; i++ {
			if err := l.Append(ctx, record(fmt.Sprintf("h%d-e%d", h, i), ws)); err != nil {
				t.Fatalf("Append() error = %v", err)
			}
		}
	}

	var seen []string
	n, err := l.Replay(ctx, testWindow.Add(time.Hour), testWindow.Add(3*time.Hour), func(rec *models.AuditRecord) error {
		seen = append(seen, rec.Event.EventID)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if n != 6 || len(seen) != 6 {
		t.Fatalf("Replay() visited %d records (%v), want 6", n, seen)
	}
	want := []string{"h1-e0", "h1-e1", "h1-e2", "h2-e0", "h2-e1", "h2-e2"}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestReplayStopsOnCallbackError(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)
	for i := 0; i < 5; i++ {
		_ = l.Append(ctx, record(fmt.Sprintf("e%d", i), testWindow))
	}

	stop := errors.New("stop")
	n, err := l.Replay(ctx, testWindow, testWindow.Add(time.Hour), func(rec *models.AuditRecord) error {
		if rec.Event.EventID == "e2" {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Errorf("Replay() error = %v, want wrapped stop", err)
	}
	if n != 2 {
		t.Errorf("Replay() count = %d, want 2", n)
	}
}

func TestReplayHonorsCancellation(t *testing.T) {
	l := openTestLog(t)
	_ = l.Append(context.Background(), record("e1", testWindow))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Replay(ctx, testWindow, testWindow.Add(time.Hour), func(*models.AuditRecord) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Replay() error = %v, want context.Canceled", err)
	}
}

func TestReopenPersists(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.SyncWrites = false

	l, err := Open(&cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := l.Append(ctx, record("persisted", testWindow)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(&cfg)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	if err := reopened.Append(ctx, record("persisted", testWindow)); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Append() after reopen error = %v, want ErrDuplicate", err)
	}
}

func TestClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.SyncWrites = false
	l, err := Open(&cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
	if err := l.Append(context.Background(), record("e1", testWindow)); !errors.Is(err, ErrClosed) {
		t.Errorf("Append() after Close error = %v, want ErrClosed", err)
	}
}

func TestInMemory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = ""
	cfg.InMemory = true
	l, err := Open(&cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer l.Close()

	if err := l.Append(context.Background(), record("m1", testWindow)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := l.RunGC(); err != nil {
		t.Errorf("RunGC() error = %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty path", func(c *Config) { c.Path = "" }, true},
		{"empty path in memory", func(c *Config) { c.Path = ""; c.InMemory = true }, false},
		{"tiny memtable", func(c *Config) { c.MemTableSize = 1024 }, true},
		{"one compactor", func(c *Config) { c.NumCompactors = 1 }, true},
		{"gc ratio one", func(c *Config) { c.GCRatio = 1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

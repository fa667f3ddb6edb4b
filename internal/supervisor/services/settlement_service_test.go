// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/encore/internal/engine"
	"github.com/tomtom215/encore/internal/ledger"
)

type runCall struct{ start, end time.Time }

type fakeSettler struct {
	mu      sync.Mutex
	runs    []runCall
	retries int
	report  *engine.RunReport
	runErr  error
}

func (f *fakeSettler) RunPeriod(_ context.Context, start, end time.Time) (*engine.RunReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, runCall{start, end})
	if f.runErr != nil {
		return nil, f.runErr
	}
	if f.report != nil {
		return f.report, nil
	}
	return &engine.RunReport{PeriodStart: start, PeriodEnd: end}, nil
}

func (f *fakeSettler) RetryPayments(context.Context) (*engine.RetryReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
	return &engine.RetryReport{}, nil
}

func (f *fakeSettler) counts() (runs, retries int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs), f.retries
}

type fakeWatermark struct {
	mu       sync.Mutex
	through  time.Time
	earliest time.Time
	settled  time.Time
}

func (f *fakeWatermark) SealedThrough(context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.through, nil
}

func (f *fakeWatermark) EarliestSealedWindow(context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.earliest, nil
}

func (f *fakeWatermark) SettledThrough(context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled, nil
}

func (f *fakeWatermark) set(t time.Time) {
	f.mu.Lock()
	f.through = t
	f.mu.Unlock()
}

var (
	// Wednesday 2026-03-11 09:30 UTC.
	schedNow  = time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC)
	yesterday = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	today     = time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
)

func newTestSettlementService(t *testing.T, settler Settler, wm Watermark, cadence string) *SettlementService {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Cadence = cadence
	svc, err := NewSettlementService(settler, wm, cfg)
	if err != nil {
		t.Fatalf("NewSettlementService() error = %v", err)
	}
	svc.now = func() time.Time { return schedNow }
	return svc
}

func TestSettlementService_Interface(t *testing.T) {
	var _ suture.Service = (*SettlementService)(nil)
}

func TestNewSettlementService_BadCadence(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.Cadence = "monthly"
	if _, err := NewSettlementService(&fakeSettler{}, &fakeWatermark{}, cfg); err == nil {
		t.Error("NewSettlementService() error = nil, want cadence error")
	}
}

func TestSettlementService_WaitsForWatermark(t *testing.T) {
	settler := &fakeSettler{}
	wm := &fakeWatermark{through: today.Add(-time.Hour), earliest: yesterday}
	svc := newTestSettlementService(t, settler, wm, "daily")

	svc.tick(context.Background())
	runs, retries := settler.counts()
	if runs != 0 {
		t.Errorf("RunPeriod calls = %d, want 0 before the period is sealed", runs)
	}
	if retries != 1 {
		t.Errorf("RetryPayments calls = %d, want 1", retries)
	}

	wm.set(today)
	svc.tick(context.Background())
	runs, _ = settler.counts()
	if runs != 1 {
		t.Fatalf("RunPeriod calls = %d, want 1", runs)
	}
	if got := settler.runs[0]; !got.start.Equal(yesterday) || !got.end.Equal(today) {
		t.Errorf("RunPeriod(%v, %v), want (%v, %v)", got.start, got.end, yesterday, today)
	}

	// A completed period is not run again.
	svc.tick(context.Background())
	runs, retries = settler.counts()
	if runs != 1 {
		t.Errorf("RunPeriod calls = %d, want 1 after completion", runs)
	}
	if retries != 3 {
		t.Errorf("RetryPayments calls = %d, want 3", retries)
	}
}

func TestSettlementService_RerunsAfterErrors(t *testing.T) {
	tests := []struct {
		name    string
		settler *fakeSettler
	}{
		{"run error", &fakeSettler{runErr: errors.New("ledger unavailable")}},
		{"artist errors", &fakeSettler{report: &engine.RunReport{Errors: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestSettlementService(t, tt.settler, &fakeWatermark{through: today, earliest: yesterday}, "daily")
			svc.tick(context.Background())
			svc.tick(context.Background())
			if runs, _ := tt.settler.counts(); runs != 2 {
				t.Errorf("RunPeriod calls = %d, want 2", runs)
			}
		})
	}
}

func TestSettlementService_WeeklyCadence(t *testing.T) {
	settler := &fakeSettler{}
	monday := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	svc := newTestSettlementService(t, settler, &fakeWatermark{through: today, earliest: monday.AddDate(0, 0, -5)}, "weekly")

	svc.tick(context.Background())
	if runs, _ := settler.counts(); runs != 1 {
		t.Fatalf("RunPeriod calls = %d, want 1", runs)
	}
	got := settler.runs[0]
	if !got.start.Equal(monday.AddDate(0, 0, -7)) || !got.end.Equal(monday) {
		t.Errorf("RunPeriod(%v, %v), want the week ending %v", got.start, got.end, monday)
	}
}

func (f *fakeSettler) starts() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, len(f.runs))
	for i, r := range f.runs {
		out[i] = r.start
	}
	return out
}

func days(from time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = from.AddDate(0, 0, i)
	}
	return out
}

func assertStarts(t *testing.T, got, want []time.Time) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("RunPeriod starts = %v, want %v", got, want)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("RunPeriod #%d start = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSettlementService_CatchesUpMissedPeriods(t *testing.T) {
	settler := &fakeSettler{}
	first := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	wm := &fakeWatermark{through: today, earliest: first.Add(5 * time.Hour)}
	svc := newTestSettlementService(t, settler, wm, "daily")

	svc.tick(context.Background())
	assertStarts(t, settler.starts(), days(first, 3))

	// Everything up to the last completed period is done.
	svc.tick(context.Background())
	if runs, _ := settler.counts(); runs != 3 {
		t.Errorf("RunPeriod calls = %d after catching up, want 3", runs)
	}
}

func TestSettlementService_ResumesFromSettledThrough(t *testing.T) {
	settler := &fakeSettler{}
	wm := &fakeWatermark{
		through:  today,
		earliest: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		settled:  time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
	}
	svc := newTestSettlementService(t, settler, wm, "daily")

	// The latest settled day is re-run, then the missed days follow.
	svc.tick(context.Background())
	assertStarts(t, settler.starts(), days(time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), 3))
}

func TestSettlementService_StopsAtUnsealedPeriod(t *testing.T) {
	settler := &fakeSettler{}
	first := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	wm := &fakeWatermark{through: yesterday, earliest: first}
	svc := newTestSettlementService(t, settler, wm, "daily")

	svc.tick(context.Background())
	assertStarts(t, settler.starts(), days(first, 2))

	wm.set(today)
	svc.tick(context.Background())
	assertStarts(t, settler.starts(), days(first, 3))
}

func TestSettlementService_RetriesFailedPeriodBeforeLaterOnes(t *testing.T) {
	settler := &fakeSettler{runErr: errors.New("ledger unavailable")}
	first := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	svc := newTestSettlementService(t, settler, &fakeWatermark{through: today, earliest: first}, "daily")

	svc.tick(context.Background())
	assertStarts(t, settler.starts(), []time.Time{first})

	settler.mu.Lock()
	settler.runErr = nil
	settler.mu.Unlock()
	svc.tick(context.Background())
	assertStarts(t, settler.starts(), []time.Time{first, first, yesterday})
}

func TestSettlementService_SkipsOverlappingPeriod(t *testing.T) {
	settler := &fakeSettler{runErr: fmt.Errorf("%w: 1 statement", ledger.ErrPeriodOverlap)}
	first := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	svc := newTestSettlementService(t, settler, &fakeWatermark{through: today, earliest: first}, "daily")

	svc.tick(context.Background())
	assertStarts(t, settler.starts(), days(first, 2))
	svc.tick(context.Background())
	if runs, _ := settler.counts(); runs != 2 {
		t.Errorf("RunPeriod calls = %d, want overlapping periods skipped for good", runs)
	}
}

func TestSettlementService_NothingSealed(t *testing.T) {
	settler := &fakeSettler{}
	svc := newTestSettlementService(t, settler, &fakeWatermark{}, "daily")

	svc.tick(context.Background())
	runs, retries := settler.counts()
	if runs != 0 || retries != 1 {
		t.Errorf("runs, retries = %d, %d, want 0, 1", runs, retries)
	}
}

func TestSettlementService_ServeStopsOnCancel(t *testing.T) {
	settler := &fakeSettler{}
	svc := newTestSettlementService(t, settler, &fakeWatermark{through: today}, "daily")
	svc.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, retries := settler.counts(); retries >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("scheduler did not tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

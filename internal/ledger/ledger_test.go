// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package ledger

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tomtom215/encore/internal/models"
)

var (
	periodStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = periodStart.Add(24 * time.Hour)
	now         = time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: "", Threads: 2, MaxMemory: "256MB"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testStatement(id, artist string, status models.StatementStatus) *models.RoyaltyStatement {
	return &models.RoyaltyStatement{
		StatementID:      id,
		ArtistID:         artist,
		PeriodStart:      periodStart,
		PeriodEnd:        periodEnd,
		Kind:             models.StatementKindRegular,
		GrossAmount:      150000,
		FraudDeduction:   0,
		NetAmount:        150000,
		Currency:         "USD",
		Status:           status,
		Tier:             models.TierVerified,
		BaseRatePerPlay:  100,
		TierMultiplier:   decimal.RequireFromString("1.5"),
		ValidPlayCount:   1000,
		FlaggedPlayCount: 0,
		CreatedAt:        now,
	}
}

func testLines() []models.StatementLine {
	return []models.StatementLine{
		{
			TrackID:         "t1",
			WindowStart:     periodStart,
			ValidPlayCount:  600,
			TotalDurationMs: 600 * 180_000,
			Gross:           decimal.RequireFromString("90000.00"),
			Deduction:       decimal.Zero,
		},
		{
			TrackID:         "t2",
			WindowStart:     periodStart.Add(time.Hour),
			ValidPlayCount:  400,
			TotalDurationMs: 400 * 180_000,
			Gross:           decimal.RequireFromString("60000.00"),
			Deduction:       decimal.Zero,
		},
	}
}

// ========================================
// Profiles and catalog
// ========================================

func TestProfileRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	p := &models.ArtistTierProfile{
		ArtistID:        "a1",
		Tier:            models.TierVerified,
		BaseRatePerPlay: 100,
		TierMultiplier:  decimal.RequireFromString("1.5"),
		PayoutCeiling:   5_000_000,
		UpdatedAt:       now,
	}
	if err := db.UpsertProfile(ctx, p); err != nil {
		t.Fatalf("UpsertProfile() error = %v", err)
	}

	got, err := db.GetProfile(ctx, "a1")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if got.Tier != models.TierVerified || got.BaseRatePerPlay != 100 || got.PayoutCeiling != 5_000_000 {
		t.Errorf("GetProfile() = %+v", got)
	}
	if !got.TierMultiplier.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("TierMultiplier = %s, want 1.5", got.TierMultiplier)
	}

	p.Tier = models.TierExclusive
	p.TierMultiplier = decimal.RequireFromString("2.25")
	if err := db.UpsertProfile(ctx, p); err != nil {
		t.Fatalf("second UpsertProfile() error = %v", err)
	}
	got, _ = db.GetProfile(ctx, "a1")
	if got.Tier != models.TierExclusive || got.TierMultiplier.String() != "2.25" {
		t.Errorf("profile not updated: %+v", got)
	}

	if _, err := db.GetProfile(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProfile(missing) error = %v, want ErrNotFound", err)
	}
}

func TestTrackRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	if err := db.UpsertTrack(ctx, &models.Track{TrackID: "t1", ArtistID: "a1", LengthMs: 200_000}); err != nil {
		t.Fatalf("UpsertTrack() error = %v", err)
	}
	got, err := db.GetTrack(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTrack() error = %v", err)
	}
	if got.LengthMs != 200_000 || got.ArtistID != "a1" {
		t.Errorf("GetTrack() = %+v", got)
	}
	if _, err := db.GetTrack(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTrack(nope) error = %v, want ErrNotFound", err)
	}
}

// ========================================
// Sealed windows
// ========================================

func TestPersistSealedWindow(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	through, err := db.SealedThrough(ctx)
	if err != nil {
		t.Fatalf("SealedThrough() error = %v", err)
	}
	if !through.IsZero() {
		t.Fatalf("SealedThrough() = %v on empty ledger, want zero", through)
	}
	if earliest, err := db.EarliestSealedWindow(ctx); err != nil || !earliest.IsZero() {
		t.Fatalf("EarliestSealedWindow() = %v, %v on empty ledger, want zero", earliest, err)
	}

	w0 := periodStart
	w1 := periodStart.Add(time.Hour)
	buckets := []models.AggregateBucket{
		{ArtistID: "a1", TrackID: "t1", ValidPlayCount: 10, FlaggedPlayCount: 1, TotalDurationMs: 1000},
		{ArtistID: "a2", TrackID: "t9", ValidPlayCount: 5},
	}
	if err := db.PersistSealedWindow(ctx, w0, w1, buckets, now); err != nil {
		t.Fatalf("PersistSealedWindow() error = %v", err)
	}
	// Re-persisting is a no-op, not a duplicate key error.
	if err := db.PersistSealedWindow(ctx, w0, w1, buckets, now); err != nil {
		t.Fatalf("second PersistSealedWindow() error = %v", err)
	}
	if err := db.PersistSealedWindow(ctx, w1, w1.Add(time.Hour), nil, now); err != nil {
		t.Fatalf("PersistSealedWindow(empty) error = %v", err)
	}

	through, _ = db.SealedThrough(ctx)
	if !through.Equal(w1.Add(time.Hour)) {
		t.Errorf("SealedThrough() = %v, want %v", through, w1.Add(time.Hour))
	}
	earliest, err := db.EarliestSealedWindow(ctx)
	if err != nil || !earliest.Equal(w0) {
		t.Errorf("EarliestSealedWindow() = %v, %v, want %v", earliest, err, w0)
	}
	sealed, _ := db.IsWindowSealed(ctx, w0)
	if !sealed {
		t.Error("IsWindowSealed(w0) = false, want true")
	}

	artists, err := db.ArtistsWithSealedBuckets(ctx, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("ArtistsWithSealedBuckets() error = %v", err)
	}
	if len(artists) != 2 || artists[0] != "a1" || artists[1] != "a2" {
		t.Errorf("ArtistsWithSealedBuckets() = %v, want [a1 a2]", artists)
	}

	got, err := db.SealedBuckets(ctx, "a1", periodStart, periodEnd)
	if err != nil {
		t.Fatalf("SealedBuckets() error = %v", err)
	}
	if len(got) != 1 || got[0].ValidPlayCount != 10 || !got[0].Sealed || !got[0].WindowStart.Equal(w0) {
		t.Errorf("SealedBuckets() = %+v", got)
	}

	window, _ := db.WindowBuckets(ctx, w0)
	if len(window) != 2 {
		t.Errorf("WindowBuckets() returned %d buckets, want 2", len(window))
	}

	one, err := db.SealedBucket(ctx, models.BucketKey{ArtistID: "a2", TrackID: "t9", WindowStart: w0})
	if err != nil || one.ValidPlayCount != 5 {
		t.Errorf("SealedBucket() = %+v, %v", one, err)
	}
	if _, err := db.SealedBucket(ctx, models.BucketKey{ArtistID: "a2", TrackID: "t9", WindowStart: w1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("SealedBucket(missing) error = %v, want ErrNotFound", err)
	}
}

// ========================================
// Statements
// ========================================

func TestCreateStatementIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	created, err := db.CreateStatement(ctx, testStatement("s1", "a1", models.StatementApproved), testLines(), "within ceiling")
	if err != nil {
		t.Fatalf("CreateStatement() error = %v", err)
	}
	if !created {
		t.Fatal("CreateStatement() created = false on first call")
	}

	created, err = db.CreateStatement(ctx, testStatement("s2", "a1", models.StatementApproved), testLines(), "within ceiling")
	if err != nil {
		t.Fatalf("second CreateStatement() error = %v", err)
	}
	if created {
		t.Error("second CreateStatement() created a statement for the same artist and period")
	}

	list, _ := db.ListArtistStatements(ctx, "a1", 0)
	if len(list) != 1 || list[0].StatementID != "s1" {
		t.Errorf("ListArtistStatements() = %+v, want only s1", list)
	}
	if _, err := db.GetStatement(ctx, "s2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetStatement(s2) error = %v, want ErrNotFound", err)
	}

	s, err := db.GetStatementByKey(ctx, models.PeriodKey("a1", periodStart, periodEnd))
	if err != nil || s.StatementID != "s1" {
		t.Errorf("GetStatementByKey() = %+v, %v", s, err)
	}
}

func TestCreateStatementConcurrent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	var (
		wg      sync.WaitGroup
		created atomic.Int64
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := db.CreateStatement(ctx, testStatement(fmt.Sprintf("s%d", i), "a1", models.StatementCalculated), testLines(), "")
			if err != nil {
				t.Errorf("CreateStatement() error = %v", err)
				return
			}
			if ok {
				created.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Errorf("created %d statements, want exactly 1", created.Load())
	}
	list, _ := db.ListArtistStatements(ctx, "a1", 0)
	if len(list) != 1 {
		t.Errorf("ledger holds %d statements, want 1", len(list))
	}
}

func TestCreateStatementPersistsDetails(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	if _, err := db.CreateStatement(ctx, testStatement("s1", "a1", models.StatementApproved), testLines(), "auto"); err != nil {
		t.Fatalf("CreateStatement() error = %v", err)
	}

	s, err := db.GetStatement(ctx, "s1")
	if err != nil {
		t.Fatalf("GetStatement() error = %v", err)
	}
	if s.Status != models.StatementApproved || s.NetAmount != 150000 || s.FinalizedAt != nil {
		t.Errorf("GetStatement() = %+v", s)
	}
	if !s.PeriodStart.Equal(periodStart) || !s.CreatedAt.Equal(now) {
		t.Errorf("timestamps did not round-trip: %v %v", s.PeriodStart, s.CreatedAt)
	}
	if !s.TierMultiplier.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("TierMultiplier = %s", s.TierMultiplier)
	}

	lines, err := db.StatementLines(ctx, "s1")
	if err != nil {
		t.Fatalf("StatementLines() error = %v", err)
	}
	if len(lines) != 2 || !lines[0].Gross.Equal(decimal.RequireFromString("90000")) {
		t.Errorf("StatementLines() = %+v", lines)
	}

	trs, err := db.StatementTransitions(ctx, "s1")
	if err != nil {
		t.Fatalf("StatementTransitions() error = %v", err)
	}
	want := []models.StatementStatus{models.StatementCalculated, models.StatementApproved}
	if len(trs) != len(want) {
		t.Fatalf("StatementTransitions() = %+v", trs)
	}
	for i, st := range want {
		if trs[i].To != st {
			t.Errorf("transition[%d].To = %s, want %s", i, trs[i].To, st)
		}
	}
	if trs[0].From != models.StatementPending {
		t.Errorf("first transition From = %s, want PENDING", trs[0].From)
	}

	p, err := db.GetPayment(ctx, "s1")
	if err != nil {
		t.Fatalf("GetPayment() error = %v", err)
	}
	if p.Status != models.PaymentPending || p.Attempts != 0 {
		t.Errorf("GetPayment() = %+v, want PENDING with 0 attempts", p)
	}
}

func TestCreateStatementRejectsInitialStatus(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.CreateStatement(context.Background(), testStatement("s1", "a1", models.StatementPaid), nil, ""); err == nil {
		t.Error("CreateStatement(PAID) should fail")
	}
}

func TestCalculatedStatementHasNoPayment(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	s := testStatement("s1", "a1", models.StatementCalculated)
	s.RequiresReview = true
	if _, err := db.CreateStatement(ctx, s, nil, "ceiling exceeded"); err != nil {
		t.Fatalf("CreateStatement() error = %v", err)
	}
	if _, err := db.GetPayment(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPayment() error = %v, want ErrNotFound", err)
	}

	if err := db.ApproveStatement(ctx, "s1", "manual sign-off", now.Add(time.Hour)); err != nil {
		t.Fatalf("ApproveStatement() error = %v", err)
	}
	got, _ := db.GetStatement(ctx, "s1")
	if got.Status != models.StatementApproved || !got.RequiresReview {
		t.Errorf("after approval = %+v", got)
	}
	if p, err := db.GetPayment(ctx, "s1"); err != nil || p.Status != models.PaymentPending {
		t.Errorf("GetPayment() = %+v, %v; want PENDING", p, err)
	}

	err := db.ApproveStatement(ctx, "s1", "again", now.Add(2*time.Hour))
	var ite *models.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Errorf("second ApproveStatement() error = %v, want InvalidTransitionError", err)
	}
}

func TestTransitionStatement(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	_, _ = db.CreateStatement(ctx, testStatement("s1", "a1", models.StatementCalculated), nil, "")

	var ite *models.InvalidTransitionError

	// Not in the table.
	err := db.TransitionStatement(ctx, "s1", models.StatementCalculated, models.StatementPaid, "", now)
	if !errors.As(err, &ite) {
		t.Errorf("CALCULATED->PAID error = %v, want InvalidTransitionError", err)
	}

	// Stale expected status.
	err = db.TransitionStatement(ctx, "s1", models.StatementApproved, models.StatementPaid, "", now)
	if !errors.As(err, &ite) || ite.From != string(models.StatementCalculated) {
		t.Errorf("stale CAS error = %v, want InvalidTransitionError from CALCULATED", err)
	}

	if err := db.TransitionStatement(ctx, "s1", models.StatementCalculated, models.StatementFailed, "rejected", now); err != nil {
		t.Fatalf("CALCULATED->FAILED error = %v", err)
	}
	got, _ := db.GetStatement(ctx, "s1")
	if got.Status != models.StatementFailed || got.FinalizedAt == nil || !got.FinalizedAt.Equal(now) {
		t.Errorf("after reject = %+v", got)
	}

	err = db.TransitionStatement(ctx, "missing", models.StatementCalculated, models.StatementFailed, "", now)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing statement error = %v, want ErrNotFound", err)
	}
}

// ========================================
// Payments
// ========================================

func TestPaymentLifecycleSuccess(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	_, _ = db.CreateStatement(ctx, testStatement("s1", "a1", models.StatementApproved), nil, "")

	p, err := db.ClaimPayment(ctx, "s1", now)
	if err != nil {
		t.Fatalf("ClaimPayment() error = %v", err)
	}
	if p.Status != models.PaymentProcessing || p.Attempts != 1 || p.LastAttemptAt == nil {
		t.Errorf("ClaimPayment() = %+v", p)
	}

	var ite *models.InvalidTransitionError
	if _, err := db.ClaimPayment(ctx, "s1", now); !errors.As(err, &ite) {
		t.Errorf("second ClaimPayment() error = %v, want InvalidTransitionError", err)
	}

	if err := db.RecordPaymentAccepted(ctx, "s1", "ref-1", now); err != nil {
		t.Fatalf("RecordPaymentAccepted() error = %v", err)
	}
	if err := db.RecordPaymentSuccess(ctx, "s1", "", now.Add(time.Minute)); err != nil {
		t.Fatalf("RecordPaymentSuccess() error = %v", err)
	}

	p, _ = db.GetPayment(ctx, "s1")
	if p.Status != models.PaymentPaid || p.ReferenceID != "ref-1" {
		t.Errorf("payment = %+v, want PAID with ref-1", p)
	}
	s, _ := db.GetStatement(ctx, "s1")
	if s.Status != models.StatementPaid || s.FinalizedAt == nil {
		t.Errorf("statement = %+v, want PAID and finalized", s)
	}

	trs, _ := db.StatementTransitions(ctx, "s1")
	if last := trs[len(trs)-1]; last.From != models.StatementApproved || last.To != models.StatementPaid {
		t.Errorf("last transition = %+v", last)
	}
}

func TestPaymentLifecycleFailure(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	_, _ = db.CreateStatement(ctx, testStatement("s1", "a1", models.StatementApproved), nil, "")

	_, _ = db.ClaimPayment(ctx, "s1", now)
	if err := db.RecordPaymentFailure(ctx, "s1", "gateway timeout", false, now); err != nil {
		t.Fatalf("RecordPaymentFailure() error = %v", err)
	}
	s, _ := db.GetStatement(ctx, "s1")
	if s.Status != models.StatementApproved {
		t.Errorf("statement = %s after a retryable failure, want APPROVED", s.Status)
	}

	retry, err := db.ListRetryablePayments(ctx, now)
	if err != nil {
		t.Fatalf("ListRetryablePayments() error = %v", err)
	}
	if len(retry) != 1 || retry[0].Payment.Status != models.PaymentFailed || retry[0].Payment.LastError != "gateway timeout" {
		t.Errorf("ListRetryablePayments() = %+v", retry)
	}

	p, err := db.ClaimPayment(ctx, "s1", now.Add(time.Minute))
	if err != nil || p.Attempts != 2 {
		t.Fatalf("ClaimPayment() retry = %+v, %v", p, err)
	}
	if err := db.RecordPaymentFailure(ctx, "s1", "declined", true, now.Add(time.Minute)); err != nil {
		t.Fatalf("RecordPaymentFailure(exhausted) error = %v", err)
	}
	s, _ = db.GetStatement(ctx, "s1")
	if s.Status != models.StatementFailed || s.FinalizedAt == nil {
		t.Errorf("statement = %+v, want FAILED", s)
	}
	retry, _ = db.ListRetryablePayments(ctx, now)
	if len(retry) != 0 {
		t.Errorf("ListRetryablePayments() = %+v after statement failed, want none", retry)
	}
}

func TestSettledThrough(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	if through, err := db.SettledThrough(ctx); err != nil || !through.IsZero() {
		t.Fatalf("SettledThrough() = %v, %v on empty ledger, want zero", through, err)
	}

	_, _ = db.CreateStatement(ctx, testStatement("s1", "a1", models.StatementCalculated), nil, "")
	later := testStatement("s2", "a2", models.StatementCalculated)
	later.PeriodStart, later.PeriodEnd = periodEnd, periodEnd.Add(24*time.Hour)
	_, _ = db.CreateStatement(ctx, later, nil, "")

	// Corrections do not move the settled watermark.
	corr := testStatement("c1", "a1", models.StatementCalculated)
	corr.Kind = models.StatementKindCorrection
	corr.CorrectsStatementID = "s1"
	corr.PeriodStart, corr.PeriodEnd = periodEnd.Add(24*time.Hour), periodEnd.Add(48*time.Hour)
	_, _ = db.CreateStatement(ctx, corr, nil, "")

	through, err := db.SettledThrough(ctx)
	if err != nil {
		t.Fatalf("SettledThrough() error = %v", err)
	}
	if !through.Equal(later.PeriodEnd) {
		t.Errorf("SettledThrough() = %v, want %v", through, later.PeriodEnd)
	}
}

func TestReleaseStalePayment(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	_, _ = db.CreateStatement(ctx, testStatement("s1", "a1", models.StatementApproved), nil, "")
	_, _ = db.CreateStatement(ctx, testStatement("s2", "a2", models.StatementApproved), nil, "")

	if _, err := db.ClaimPayment(ctx, "s1", now); err != nil {
		t.Fatalf("ClaimPayment(s1) error = %v", err)
	}
	if _, err := db.ClaimPayment(ctx, "s2", now); err != nil {
		t.Fatalf("ClaimPayment(s2) error = %v", err)
	}
	if err := db.RecordPaymentAccepted(ctx, "s2", "ref-2", now); err != nil {
		t.Fatalf("RecordPaymentAccepted(s2) error = %v", err)
	}

	// Within the lease nothing is listed.
	retry, err := db.ListRetryablePayments(ctx, now)
	if err != nil {
		t.Fatalf("ListRetryablePayments() error = %v", err)
	}
	if len(retry) != 0 {
		t.Errorf("ListRetryablePayments(now) = %+v, want none", retry)
	}
	var ite *models.InvalidTransitionError
	if err := db.ReleaseStalePayment(ctx, "s1", now, now); !errors.As(err, &ite) {
		t.Errorf("ReleaseStalePayment() inside lease error = %v, want InvalidTransitionError", err)
	}

	// Past the lease only the claim without a reference is listed.
	staleBefore := now.Add(time.Minute)
	retry, _ = db.ListRetryablePayments(ctx, staleBefore)
	if len(retry) != 1 || retry[0].Payment.StatementID != "s1" || retry[0].Payment.Status != models.PaymentProcessing {
		t.Fatalf("ListRetryablePayments(stale) = %+v, want s1 PROCESSING", retry)
	}

	if err := db.ReleaseStalePayment(ctx, "s1", staleBefore, staleBefore); err != nil {
		t.Fatalf("ReleaseStalePayment() error = %v", err)
	}
	p, _ := db.GetPayment(ctx, "s1")
	if p.Status != models.PaymentFailed || p.Attempts != 1 || p.LastError == "" {
		t.Errorf("payment = %+v, want FAILED after 1 attempt with an error", p)
	}
	if err := db.ReleaseStalePayment(ctx, "s2", staleBefore, staleBefore); !errors.As(err, &ite) {
		t.Errorf("ReleaseStalePayment(referenced) error = %v, want InvalidTransitionError", err)
	}

	if _, err := db.ClaimPayment(ctx, "s1", staleBefore); err != nil {
		t.Errorf("ClaimPayment() after release error = %v", err)
	}
}

func TestCreateStatementRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	if _, err := db.CreateStatement(ctx, testStatement("s1", "a1", models.StatementCalculated), nil, ""); err != nil {
		t.Fatalf("CreateStatement() error = %v", err)
	}

	// 2026-03-01 is a Sunday; the week starting Monday 2026-02-23 contains it.
	week := testStatement("s2", "a1", models.StatementCalculated)
	week.PeriodStart = time.Date(2026, 2, 23, 0, 0, 0, 0, time.UTC)
	week.PeriodEnd = week.PeriodStart.AddDate(0, 0, 7)
	created, err := db.CreateStatement(ctx, week, nil, "")
	if !errors.Is(err, ErrPeriodOverlap) || created {
		t.Fatalf("CreateStatement(overlapping) = %v, %v, want ErrPeriodOverlap", created, err)
	}
	if _, err := db.GetStatement(ctx, "s2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("overlapping statement was stored: %v", err)
	}

	n, err := db.OverlappingStatements(ctx, week.PeriodStart, week.PeriodEnd)
	if err != nil || n != 1 {
		t.Errorf("OverlappingStatements(week) = %d, %v, want 1", n, err)
	}
	if n, _ := db.OverlappingStatements(ctx, periodStart, periodEnd); n != 0 {
		t.Errorf("OverlappingStatements(same period) = %d, want 0", n)
	}
	if n, _ := db.OverlappingStatements(ctx, periodEnd, periodEnd.Add(24*time.Hour)); n != 0 {
		t.Errorf("OverlappingStatements(next day) = %d, want 0", n)
	}

	// Another artist and corrections are not regular statements of a1.
	other := testStatement("s3", "a2", models.StatementCalculated)
	other.PeriodStart, other.PeriodEnd = week.PeriodStart, week.PeriodEnd
	if created, err := db.CreateStatement(ctx, other, nil, ""); err != nil || !created {
		t.Errorf("CreateStatement(other artist) = %v, %v", created, err)
	}
	corr := testStatement("c1", "a1", models.StatementCalculated)
	corr.Kind = models.StatementKindCorrection
	corr.CorrectsStatementID = "s1"
	if created, err := db.CreateStatement(ctx, corr, nil, ""); err != nil || !created {
		t.Errorf("CreateStatement(correction) = %v, %v", created, err)
	}
}

func TestClassify(t *testing.T) {
	domain := &models.InvalidTransitionError{Entity: "payment", ID: "s1", From: "PAID", To: "FAILED"}
	tests := []struct {
		name      string
		err       error
		conflict  bool
		transient bool
		same      bool
	}{
		{"nil", nil, false, false, true},
		{"constraint", errors.New(`Constraint Error: Duplicate key "idempotency_key: a1"`), true, false, false},
		{"write conflict", errors.New("TransactionContext Error: Transaction conflict: cannot update"), true, false, false},
		{"bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), false, true, false},
		{"deadline", context.DeadlineExceeded, false, true, false},
		{"domain", domain, false, false, true},
		{"overlap", ErrPeriodOverlap, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", tt.err)
			if errors.Is(got, ErrConflict) != tt.conflict {
				t.Errorf("classify() = %v, conflict = %v, want %v", got, !tt.conflict, tt.conflict)
			}
			if models.IsTransient(got) != tt.transient {
				t.Errorf("classify() = %v, transient = %v, want %v", got, !tt.transient, tt.transient)
			}
			if tt.same && got != tt.err {
				t.Errorf("classify() = %v, want the input unchanged", got)
			}
			if tt.err != nil && !errors.Is(got, tt.err) {
				t.Errorf("classify() = %v does not wrap %v", got, tt.err)
			}
		})
	}
}

func TestDisputeStatement(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	_, _ = db.CreateStatement(ctx, testStatement("s1", "a1", models.StatementApproved), testLines(), "")
	_, _ = db.ClaimPayment(ctx, "s1", now)
	_ = db.RecordPaymentSuccess(ctx, "s1", "ref", now)

	corr := testStatement("c1", "a1", models.StatementCalculated)
	corr.Kind = models.StatementKindCorrection
	corr.CorrectsStatementID = "s1"
	corr.GrossAmount, corr.NetAmount = -150000, -150000
	corr.RequiresReview = true

	if err := db.DisputeStatement(ctx, "s1", "listener fraud confirmed", corr, testLines(), now.Add(time.Hour)); err != nil {
		t.Fatalf("DisputeStatement() error = %v", err)
	}

	orig, _ := db.GetStatement(ctx, "s1")
	if orig.Status != models.StatementDisputed {
		t.Errorf("original status = %s, want DISPUTED", orig.Status)
	}
	if orig.NetAmount != 150000 {
		t.Errorf("original amounts changed: %+v", orig)
	}
	got, err := db.GetStatement(ctx, "c1")
	if err != nil {
		t.Fatalf("GetStatement(c1) error = %v", err)
	}
	if got.Kind != models.StatementKindCorrection || got.CorrectsStatementID != "s1" || got.NetAmount != -150000 {
		t.Errorf("correction = %+v", got)
	}

	var ite *models.InvalidTransitionError
	corr2 := *corr
	corr2.StatementID = "c2"
	if err := db.DisputeStatement(ctx, "s1", "again", &corr2, nil, now); !errors.As(err, &ite) {
		t.Errorf("second DisputeStatement() error = %v, want InvalidTransitionError", err)
	}
}

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

/*
Package tracker ingests stream events.

Record validates an event, analyzes it against the listener's recent
history, appends the event and its analysis to the audit log and only then
increments the aggregate bucket for the event's window. The audit log is the
source of truth: a crash after the append and before the increment is
repaired by Rebuild, which replays the log for windows that were not yet
sealed into the ledger.

The Sealer closes windows once their end plus a grace period has passed and
persists each snapshot to the ledger in window order.
*/
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/tomtom215/encore/internal/aggregation"
	"github.com/tomtom215/encore/internal/auditlog"
	"github.com/tomtom215/encore/internal/fraud"
	"github.com/tomtom215/encore/internal/logging"
	"github.com/tomtom215/encore/internal/metrics"
	"github.com/tomtom215/encore/internal/models"
	"github.com/tomtom215/encore/internal/notify"
	"github.com/tomtom215/encore/internal/validation"
)

// WindowLedger is the persisted side of sealing. *ledger.DB satisfies it.
type WindowLedger interface {
	SealedThrough(ctx context.Context) (time.Time, error)
	PersistSealedWindow(ctx context.Context, start, end time.Time, buckets []models.AggregateBucket, sealedAt time.Time) error
}

// Deps are the collaborators of a Tracker. Catalog and Notifier are optional.
type Deps struct {
	Analyzer *fraud.Analyzer
	Store    aggregation.Store
	Log      auditlog.Log
	Windows  WindowLedger
	Catalog  Catalog
	Notifier notify.Notifier
}

// Tracker records stream events.
type Tracker struct {
	cfg      Config
	analyzer *fraud.Analyzer
	store    aggregation.Store
	log      auditlog.Log
	windows  WindowLedger
	catalog  *TrackCatalog
	notifier notify.Notifier

	inflight *semaphore.Weighted
	now      func() time.Time
}

// New creates a Tracker.
func New(cfg Config, deps Deps) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracker config: %w", err)
	}
	if deps.Analyzer == nil || deps.Store == nil || deps.Log == nil || deps.Windows == nil {
		return nil, errors.New("tracker requires an analyzer, a store, an audit log and a window ledger")
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}

	t := &Tracker{
		cfg:      cfg,
		analyzer: deps.Analyzer,
		store:    deps.Store,
		log:      deps.Log,
		windows:  deps.Windows,
		notifier: notifier,
		inflight: semaphore.NewWeighted(cfg.MaxConcurrent),
		now:      time.Now,
	}
	if deps.Catalog != nil {
		t.catalog = NewTrackCatalog(deps.Catalog, cfg.CatalogCacheSize, cfg.CatalogCacheTTL)
	}
	return t, nil
}

// Catalog returns the cached track catalog, or nil when none was configured.
func (t *Tracker) Catalog() *TrackCatalog {
	return t.catalog
}

// Record ingests one event.
//
// Errors: *models.ValidationError for a malformed event,
// *models.DuplicateEventError for an eventId already in the audit log, and
// *models.TransientStoreError when the audit log is unavailable or the
// tracker is shedding load. A late event whose window is already sealed is
// accepted with Late set; it stays in the audit log but not in any bucket.
func (t *Tracker) Record(ctx context.Context, event *models.StreamEvent) (*models.RecordResult, error) {
	start := time.Now()

	if event == nil {
		return nil, &models.ValidationError{Message: "event is required"}
	}
	if verr := validation.ValidateStruct(event); verr != nil {
		return nil, verr.ToModelError()
	}
	now := t.now().UTC()
	if event.Timestamp.After(now.Add(t.cfg.MaxClockSkew)) {
		return nil, &models.ValidationError{
			Field:   "timestamp",
			Message: fmt.Sprintf("timestamp is more than %s in the future", t.cfg.MaxClockSkew),
		}
	}

	if !t.inflight.TryAcquire(1) {
		metrics.RecordIngestShed()
		return nil, &models.TransientStoreError{Op: "ingest", Err: errors.New("too many in-flight events")}
	}
	defer t.inflight.Release(1)

	ev := *event
	ev.Timestamp = ev.Timestamp.UTC()

	exists, err := t.log.Exists(ctx, ev.EventID)
	if err != nil {
		return nil, &models.TransientStoreError{Op: "audit lookup", Err: err}
	}
	if exists {
		metrics.RecordDuplicate()
		return nil, &models.DuplicateEventError{EventID: ev.EventID}
	}

	history, degraded := t.recentHistory(ctx, &ev)
	analysis := t.analyzer.Analyze(&ev, history, t.catalog.LengthMs(ctx, ev.TrackID))

	rec := &models.AuditRecord{
		Event:       ev,
		Analysis:    analysis,
		WindowStart: models.WindowStartFor(ev.Timestamp, t.store.WindowSize()),
		RecordedAt:  now,
		HistorySize: len(history),
		Degraded:    degraded,
	}
	if err := t.appendWithRetry(ctx, rec); err != nil {
		if errors.Is(err, auditlog.ErrDuplicate) {
			metrics.RecordDuplicate()
			return nil, &models.DuplicateEventError{EventID: ev.EventID}
		}
		return nil, &models.TransientStoreError{Op: "audit append", Err: err}
	}

	result := &models.RecordResult{
		EventID:  ev.EventID,
		Accepted: true,
		Verdict:  analysis.Verdict,
		Score:    analysis.Score,
		Flags:    analysis.Flags,
		Degraded: degraded,
		Analysis: analysis,
	}

	// The record is durable from here on; failures below never fail the call.
	if err := t.store.Observe(ctx, &ev); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event_id", ev.EventID).Msg("Failed to add event to history")
	}
	result.Late = t.apply(ctx, rec)

	if err := t.notifier.NotifyRecorded(ctx, rec); err != nil {
		metrics.RecordNotifyFailure()
		logging.Ctx(ctx).Warn().Err(err).Str("event_id", ev.EventID).Msg("Event-recorded notification failed")
	}

	metrics.RecordEvent(string(analysis.Verdict), analysis.Score, flagStrings(analysis.Flags), time.Since(start))
	return result, nil
}

// recentHistory fetches history under HistoryTimeout. A failed or timed-out
// lookup degrades to empty history.
func (t *Tracker) recentHistory(ctx context.Context, ev *models.StreamEvent) ([]models.StreamEvent, bool) {
	hctx, cancel := context.WithTimeout(ctx, t.cfg.HistoryTimeout)
	defer cancel()

	since := ev.Timestamp.Add(-t.analyzer.Config().Lookback())
	history, err := t.store.RecentHistory(hctx, ev.ListenerID, ev.DeviceID, since)
	if err != nil {
		metrics.RecordHistoryDegraded()
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("event_id", ev.EventID).
			Str("listener_id", ev.ListenerID).
			Msg("History lookup failed, analyzing with empty history")
		return nil, true
	}
	return history, false
}

func (t *Tracker) appendWithRetry(ctx context.Context, rec *models.AuditRecord) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.RetryInitial
	b.MaxElapsedTime = t.cfg.RetryMaxElapsed
	policy := backoff.WithContext(backoff.WithMaxRetries(b, t.cfg.AppendRetries), ctx)

	return backoff.Retry(func() error {
		actx, cancel := context.WithTimeout(ctx, t.cfg.PersistTimeout)
		defer cancel()

		err := t.log.Append(actx, rec)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, auditlog.ErrDuplicate),
			errors.Is(err, auditlog.ErrClosed),
			errors.Is(err, auditlog.ErrEmptyEventID):
			return backoff.Permanent(err)
		default:
			logging.Ctx(ctx).Debug().Err(err).Str("event_id", rec.Event.EventID).Msg("Audit append failed, retrying")
			return err
		}
	}, policy)
}

// apply increments the record's bucket. It reports whether the window was
// already sealed.
func (t *Tracker) apply(ctx context.Context, rec *models.AuditRecord) bool {
	delta, ok := models.DeltaFor(rec.Analysis.Verdict, rec.Event.DurationMs)
	if !ok {
		return false
	}
	key := models.BucketKey{
		ArtistID:    rec.Event.ArtistID,
		TrackID:     rec.Event.TrackID,
		WindowStart: rec.WindowStart,
	}

	err := t.store.Increment(ctx, key, delta)
	if err == nil {
		return false
	}
	var sealed *models.WindowSealedError
	if errors.As(err, &sealed) {
		metrics.RecordLateEvent()
		logging.Ctx(ctx).Info().
			Str("event_id", rec.Event.EventID).
			Time("window_start", rec.WindowStart).
			Msg("Late event excluded from sealed window")
		return true
	}
	logging.Ctx(ctx).Error().
		Err(err).
		Str("event_id", rec.Event.EventID).
		Str("bucket", key.String()).
		Msg("Bucket increment failed after audit append, replay will restore it")
	return false
}

func flagStrings(flags []models.FlagCode) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
}

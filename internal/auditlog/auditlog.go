// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package auditlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"

	"github.com/tomtom215/encore/internal/logging"
	"github.com/tomtom215/encore/internal/models"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("audit log is closed")

	// ErrDuplicate is returned by Append when the eventId is already stored.
	ErrDuplicate = errors.New("event already recorded")

	// ErrNotFound is returned by Get for an unknown eventId.
	ErrNotFound = errors.New("audit record not found")

	// ErrEmptyEventID rejects records without an eventId.
	ErrEmptyEventID = errors.New("audit record has empty event id")
)

const (
	prefixEvent  = "evt/"
	prefixWindow = "win/"

	// maxConflictRetries bounds retries of a transaction that lost a
	// write-write conflict on the same eventId.
	maxConflictRetries = 3
)

// Log is the append-only audit log contract.
type Log interface {
	Append(ctx context.Context, rec *models.AuditRecord) error
	Exists(ctx context.Context, eventID string) (bool, error)
	Get(ctx context.Context, eventID string) (*models.AuditRecord, error)
	Replay(ctx context.Context, from, to time.Time, fn func(*models.AuditRecord) error) (int, error)
	Stats() Stats
	Close() error
}

// Stats contains audit log counters for monitoring.
type Stats struct {
	TotalAppends    int64
	TotalDuplicates int64
	TotalReplayed   int64
	LSMSizeBytes    int64
	VLogSizeBytes   int64
}

// BadgerLog implements Log on BadgerDB.
type BadgerLog struct {
	db     *badger.DB
	config Config

	totalAppends    atomic.Int64
	totalDuplicates atomic.Int64
	totalReplayed   atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the audit log described by cfg.
func Open(cfg *Config) (*BadgerLog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audit log config: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites && !cfg.InMemory
	opts.MemTableSize = cfg.MemTableSize
	opts.ValueLogFileSize = cfg.ValueLogFileSize
	opts.NumCompactors = cfg.NumCompactors
	if cfg.Compression {
		opts.Compression = options.Snappy
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", opts.SyncWrites).
		Bool("compression", cfg.Compression).
		Msg("Audit log opened")

	return &BadgerLog{db: db, config: *cfg}, nil
}

func (l *BadgerLog) checkNotClosed() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	return nil
}

func eventKey(eventID string) []byte {
	return []byte(prefixEvent + eventID)
}

func windowPrefix(windowStart time.Time) []byte {
	return []byte(fmt.Sprintf("%s%020d/", prefixWindow, windowStart.UTC().Unix()))
}

func windowKey(windowStart time.Time, eventID string) []byte {
	return append(windowPrefix(windowStart), eventID...)
}

// Append stores rec. The duplicate check and both writes happen in one
// serializable transaction, so two concurrent appends of the same eventId
// cannot both succeed.
func (l *BadgerLog) Append(ctx context.Context, rec *models.AuditRecord) error {
	start := time.Now()

	if err := l.checkNotClosed(); err != nil {
		return err
	}
	if rec == nil || rec.Event.EventID == "" {
		return ErrEmptyEventID
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	evtKey := eventKey(rec.Event.EventID)
	winKey := windowKey(rec.WindowStart, rec.Event.EventID)

	for attempt := 0; ; attempt++ {
		err = l.db.Update(func(txn *badger.Txn) error {
			_, getErr := txn.Get(evtKey)
			if getErr == nil {
				return ErrDuplicate
			}
			if !errors.Is(getErr, badger.ErrKeyNotFound) {
				return fmt.Errorf("check existing record: %w", getErr)
			}
			if setErr := txn.Set(evtKey, data); setErr != nil {
				return fmt.Errorf("set record: %w", setErr)
			}
			if setErr := txn.Set(winKey, nil); setErr != nil {
				return fmt.Errorf("set window index: %w", setErr)
			}
			return nil
		})
		if !errors.Is(err, badger.ErrConflict) || attempt >= maxConflictRetries {
			break
		}
	}

	switch {
	case err == nil:
		l.totalAppends.Add(1)
		RecordAppend(time.Since(start).Seconds())
		return nil
	case errors.Is(err, ErrDuplicate):
		l.totalDuplicates.Add(1)
		RecordDuplicate()
		return err
	default:
		RecordAppendFailure()
		return fmt.Errorf("append audit record %s: %w", rec.Event.EventID, err)
	}
}

// Exists reports whether eventID has been appended.
func (l *BadgerLog) Exists(ctx context.Context, eventID string) (bool, error) {
	if err := l.checkNotClosed(); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	found := false
	err := l.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(eventKey(eventID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("lookup event %s: %w", eventID, err)
	}
	return found, nil
}

// Get returns the record for eventID.
func (l *BadgerLog) Get(ctx context.Context, eventID string) (*models.AuditRecord, error) {
	if err := l.checkNotClosed(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec models.AuditRecord
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(eventKey(eventID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Replay calls fn for every record whose window starts in [from, to), in
// window order. It stops at the first error from fn. The returned count is
// the number of records passed to fn.
func (l *BadgerLog) Replay(ctx context.Context, from, to time.Time, fn func(*models.AuditRecord) error) (int, error) {
	if err := l.checkNotClosed(); err != nil {
		return 0, err
	}

	lower := windowPrefix(from)
	upper := windowPrefix(to)
	count := 0

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixWindow)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(lower); it.Valid(); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			key := it.Item().Key()
			if bytes.Compare(key, upper) >= 0 {
				return nil
			}

			eventID := string(key[len(lower):])
			item, err := txn.Get(eventKey(eventID))
			if errors.Is(err, badger.ErrKeyNotFound) {
				logging.Warn().Str("event_id", eventID).Msg("Audit window index points at a missing record")
				continue
			}
			if err != nil {
				return fmt.Errorf("get record %s: %w", eventID, err)
			}

			var rec models.AuditRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				logging.Warn().Err(err).Str("event_id", eventID).Msg("Audit log failed to unmarshal record")
				continue
			}

			if err := fn(&rec); err != nil {
				return err
			}
			count++
		}
		return nil
	})

	l.totalReplayed.Add(int64(count))
	RecordReplayed(count)
	if err != nil {
		return count, fmt.Errorf("replay audit log: %w", err)
	}
	return count, nil
}

// Stats returns counters and the current database size.
func (l *BadgerLog) Stats() Stats {
	st := Stats{
		TotalAppends:    l.totalAppends.Load(),
		TotalDuplicates: l.totalDuplicates.Load(),
		TotalReplayed:   l.totalReplayed.Load(),
	}
	if l.checkNotClosed() == nil {
		st.LSMSizeBytes, st.VLogSizeBytes = l.db.Size()
		UpdateDBSize(st.LSMSizeBytes + st.VLogSizeBytes)
	}
	return st
}

// RunGC reclaims value log space until BadgerDB reports nothing to rewrite.
func (l *BadgerLog) RunGC() error {
	if err := l.checkNotClosed(); err != nil {
		return err
	}
	if l.config.InMemory {
		return nil
	}

	for {
		err := l.db.RunValueLogGC(l.config.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			break
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
	RecordGCRun()
	return nil
}

// Close flushes and closes the database.
func (l *BadgerLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	timeout := l.config.CloseTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	l.mu.Unlock()

	logging.Info().Msg("Closing audit log")

	done := make(chan error, 1)
	go func() {
		done <- l.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("Audit log closed")
		return nil
	case <-time.After(timeout):
		logging.Warn().Dur("timeout", timeout).Msg("Audit log close timed out")
		return fmt.Errorf("audit log close timeout after %v", timeout)
	}
}

var _ Log = (*BadgerLog)(nil)

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package engine

import (
	"fmt"
	"strings"
	"time"
)

// Cadence is the settlement period length.
type Cadence string

const (
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
)

// ParseCadence parses "daily" or "weekly", case-insensitively.
func ParseCadence(s string) (Cadence, error) {
	switch c := Cadence(strings.ToLower(strings.TrimSpace(s))); c {
	case CadenceDaily, CadenceWeekly:
		return c, nil
	default:
		return "", fmt.Errorf("unknown cadence %q: must be daily or weekly", s)
	}
}

// PeriodContaining returns the UTC period that contains t. Weekly periods
// start on Monday.
func PeriodContaining(c Cadence, t time.Time) (start, end time.Time) {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if c == CadenceWeekly {
		offset := (int(day.Weekday()) + 6) % 7
		start = day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	}
	return day, day.AddDate(0, 0, 1)
}

// LastCompletedPeriod returns the most recent period that ended at or
// before now.
func LastCompletedPeriod(c Cadence, now time.Time) (start, end time.Time) {
	current, _ := PeriodContaining(c, now)
	if c == CadenceWeekly {
		return current.AddDate(0, 0, -7), current
	}
	return current.AddDate(0, 0, -1), current
}

// Aligned reports whether [start, end) is exactly one period of cadence c.
func Aligned(c Cadence, start, end time.Time) bool {
	ps, pe := PeriodContaining(c, start)
	return ps.Equal(start) && pe.Equal(end)
}

// NextPeriod returns the period that follows the one starting at start.
func NextPeriod(c Cadence, start time.Time) (time.Time, time.Time) {
	_, end := PeriodContaining(c, start)
	return PeriodContaining(c, end)
}

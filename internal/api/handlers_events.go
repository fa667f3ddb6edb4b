// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/encore/internal/models"
)

// eventIDNamespace scopes derived event IDs.
var eventIDNamespace = uuid.MustParse("6f1c3a52-8d0e-4b6f-9a57-1e2d3c4b5a69")

// deriveEventID returns a UUIDv5 over the fields that identify one playback,
// so that a client retrying without an event_id still deduplicates.
func deriveEventID(ev *models.StreamEvent) string {
	name := strings.Join([]string{
		ev.ListenerID,
		ev.DeviceID,
		ev.TrackID,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}, "\x1f")
	return uuid.NewSHA1(eventIDNamespace, []byte(name)).String()
}

// RecordEvent handles POST /api/v1/events.
//
// 202 with the RecordResult on acceptance (including REJECTED verdicts),
// 400 on validation failure, 409 for a duplicate event_id and 503 when the
// tracker is shedding load or the audit log is unavailable.
func (h *Handler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var ev models.StreamEvent
	if err := h.decodeJSON(w, r, &ev); err != nil {
		respondDomainError(w, r, err)
		return
	}

	if ev.EventID == "" && ev.ListenerID != "" && ev.DeviceID != "" && ev.TrackID != "" && !ev.Timestamp.IsZero() {
		ev.EventID = deriveEventID(&ev)
	}

	result, err := h.events.Record(r.Context(), &ev)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusAccepted, result)
}

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/encore/internal/models"
)

// parseTimeParam reads an RFC3339 URL parameter.
func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := chi.URLParam(r, name)
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, &models.ValidationError{Field: name, Message: "must be an RFC3339 timestamp"}
	}
	return t.UTC(), nil
}

// WindowBuckets handles GET /api/v1/aggregates/windows/{windowStart}.
func (h *Handler) WindowBuckets(w http.ResponseWriter, r *http.Request) {
	start, err := parseTimeParam(r, "windowStart")
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	sealed, err := h.windows.IsWindowSealed(r.Context(), start)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if !sealed {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "window is not sealed", nil, nil)
		return
	}

	buckets, err := h.windows.WindowBuckets(r.Context(), start)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if buckets == nil {
		buckets = []models.AggregateBucket{}
	}
	respondList(w, r, buckets, len(buckets))
}

// Bucket handles GET /api/v1/aggregates/{artistID}/{trackID}/{windowStart}.
func (h *Handler) Bucket(w http.ResponseWriter, r *http.Request) {
	start, err := parseTimeParam(r, "windowStart")
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	bucket, err := h.windows.SealedBucket(r.Context(), models.BucketKey{
		ArtistID:    chi.URLParam(r, "artistID"),
		TrackID:     chi.URLParam(r, "trackID"),
		WindowStart: start,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, bucket)
}

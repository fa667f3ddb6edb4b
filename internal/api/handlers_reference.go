// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tomtom215/encore/internal/logging"
	"github.com/tomtom215/encore/internal/models"
	"github.com/tomtom215/encore/internal/validation"
)

// ProfileRequest is the body of PUT /api/v1/artists/{artistID}/profile.
// TierMultiplier is a decimal string so that no precision is lost in JSON.
type ProfileRequest struct {
	Tier            string `json:"tier" validate:"required,oneof=STANDARD VERIFIED EXCLUSIVE"`
	BaseRatePerPlay int64  `json:"base_rate_per_play" validate:"gte=0"`
	TierMultiplier  string `json:"tier_multiplier" validate:"required,posdecimal"`
	PayoutCeiling   int64  `json:"payout_ceiling" validate:"gte=0"`
}

// TrackRequest is the body of PUT /api/v1/tracks/{trackID}.
type TrackRequest struct {
	ArtistID string `json:"artist_id" validate:"required,max=128"`
	LengthMs int64  `json:"length_ms" validate:"gte=0"`
}

// GetProfile handles GET /api/v1/artists/{artistID}/profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.reference.GetProfile(r.Context(), chi.URLParam(r, "artistID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, profile)
}

// PutProfile handles PUT /api/v1/artists/{artistID}/profile. Profiles are
// read at settlement time, so a change affects the next unsettled period.
func (h *Handler) PutProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		respondDomainError(w, r, err)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondDomainError(w, r, verr)
		return
	}

	profile := &models.ArtistTierProfile{
		ArtistID:        chi.URLParam(r, "artistID"),
		Tier:            models.ArtistTier(req.Tier),
		BaseRatePerPlay: req.BaseRatePerPlay,
		TierMultiplier:  decimal.RequireFromString(req.TierMultiplier),
		PayoutCeiling:   req.PayoutCeiling,
	}
	if err := h.reference.UpsertProfile(r.Context(), profile); err != nil {
		respondDomainError(w, r, err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("artist_id", profile.ArtistID).
		Str("tier", string(profile.Tier)).
		Int64("base_rate_per_play", profile.BaseRatePerPlay).
		Str("tier_multiplier", profile.TierMultiplier.String()).
		Msg("Artist tier profile updated")

	respondJSON(w, r, http.StatusOK, profile)
}

// PutTrack handles PUT /api/v1/tracks/{trackID}.
func (h *Handler) PutTrack(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		respondDomainError(w, r, err)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondDomainError(w, r, verr)
		return
	}

	track := &models.Track{
		TrackID:  chi.URLParam(r, "trackID"),
		ArtistID: req.ArtistID,
		LengthMs: req.LengthMs,
	}
	if err := h.reference.UpsertTrack(r.Context(), track); err != nil {
		respondDomainError(w, r, err)
		return
	}
	if h.catalog != nil {
		h.catalog.Invalidate(track.TrackID)
	}
	respondJSON(w, r, http.StatusOK, track)
}

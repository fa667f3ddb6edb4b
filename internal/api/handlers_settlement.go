// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/encore/internal/logging"
	"github.com/tomtom215/encore/internal/models"
	"github.com/tomtom215/encore/internal/validation"
)

const (
	defaultStatementLimit = 50
	maxStatementLimit     = 500
)

// RunRequest is the body of POST /api/v1/settlements/run.
type RunRequest struct {
	PeriodStart string `json:"period_start" validate:"required,rfc3339"`
	PeriodEnd   string `json:"period_end" validate:"required,rfc3339"`
}

// ReviewRequest is the optional body of the statement review actions.
type ReviewRequest struct {
	Reason string `json:"reason" validate:"max=1024"`
}

// RunSettlement handles POST /api/v1/settlements/run. Re-running a period
// that already has statements is a no-op per artist.
func (h *Handler) RunSettlement(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		respondDomainError(w, r, err)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondDomainError(w, r, verr)
		return
	}

	// Both parse: the validator accepted them.
	start, _ := time.Parse(time.RFC3339, req.PeriodStart)
	end, _ := time.Parse(time.RFC3339, req.PeriodEnd)

	ctx := logging.ContextWithNewCorrelationID(r.Context())
	report, err := h.settlement.RunPeriod(ctx, start.UTC(), end.UTC())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, report)
}

// RetryPayments handles POST /api/v1/settlements/retry-payments.
func (h *Handler) RetryPayments(w http.ResponseWriter, r *http.Request) {
	report, err := h.settlement.RetryPayments(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, report)
}

// GetStatement handles GET /api/v1/statements/{statementID}.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	details, err := h.settlement.Statement(r.Context(), chi.URLParam(r, "statementID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, details)
}

// ArtistStatements handles GET /api/v1/artists/{artistID}/statements?limit=N.
func (h *Handler) ArtistStatements(w http.ResponseWriter, r *http.Request) {
	limit := defaultStatementLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxStatementLimit {
			respondError(w, r, http.StatusBadRequest, ErrCodeValidation,
				"limit must be between 1 and "+strconv.Itoa(maxStatementLimit), nil, nil)
			return
		}
		limit = n
	}

	statements, err := h.settlement.ArtistStatements(r.Context(), chi.URLParam(r, "artistID"), limit)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if statements == nil {
		statements = []models.RoyaltyStatement{}
	}
	respondList(w, r, statements, len(statements))
}

type reviewAction func(h *Handler, r *http.Request, id, reason string) (*models.RoyaltyStatement, error)

// review decodes the optional reason and applies action to the statement.
func (h *Handler) review(w http.ResponseWriter, r *http.Request, action reviewAction) {
	var req ReviewRequest
	if err := h.decodeOptionalJSON(w, r, &req); err != nil {
		respondDomainError(w, r, err)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondDomainError(w, r, verr)
		return
	}

	stmt, err := action(h, r, chi.URLParam(r, "statementID"), req.Reason)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, stmt)
}

// ApproveStatement handles POST /api/v1/statements/{statementID}/approve.
// An approved statement is submitted for payment immediately.
func (h *Handler) ApproveStatement(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, func(h *Handler, r *http.Request, id, reason string) (*models.RoyaltyStatement, error) {
		return h.settlement.Approve(r.Context(), id, reason)
	})
}

// RejectStatement handles POST /api/v1/statements/{statementID}/reject.
func (h *Handler) RejectStatement(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, func(h *Handler, r *http.Request, id, reason string) (*models.RoyaltyStatement, error) {
		return h.settlement.Reject(r.Context(), id, reason)
	})
}

// DisputeStatement handles POST /api/v1/statements/{statementID}/dispute and
// returns the correction statement.
func (h *Handler) DisputeStatement(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, func(h *Handler, r *http.Request, id, reason string) (*models.RoyaltyStatement, error) {
		return h.settlement.Dispute(r.Context(), id, reason)
	})
}

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/encore/internal/engine"
	"github.com/tomtom215/encore/internal/ledger"
	"github.com/tomtom215/encore/internal/models"
	"github.com/tomtom215/encore/internal/validation"
)

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = "1"

// respondDomainError maps an error from the domain packages onto a status
// code and error code.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		reqErr   *validation.RequestValidationError
		valErr   *models.ValidationError
		dupErr   *models.DuplicateEventError
		transErr *models.InvalidTransitionError
		tooLarge *http.MaxBytesError
	)

	switch {
	case errors.As(err, &reqErr):
		mapped := reqErr.ToModelError()
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, mapped.Error(), mapped.Details, nil)
	case errors.As(err, &valErr):
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, valErr.Error(), valErr.Details, nil)
	case errors.As(err, &tooLarge):
		respondError(w, r, http.StatusRequestEntityTooLarge, ErrCodeRequestTooLarge, "request body too large", nil, nil)
	case errors.As(err, &dupErr):
		respondError(w, r, http.StatusConflict, ErrCodeDuplicateEvent, dupErr.Error(),
			map[string]string{"event_id": dupErr.EventID}, nil)
	case models.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		w.Header().Set("Retry-After", retryAfterSeconds)
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "temporarily unavailable, retry later", nil, err)
	case errors.Is(err, ledger.ErrNotFound):
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "resource not found", nil, nil)
	case errors.As(err, &transErr):
		respondError(w, r, http.StatusConflict, ErrCodeInvalidTransition, transErr.Error(),
			map[string]string{"from": transErr.From, "to": transErr.To}, nil)
	case errors.Is(err, engine.ErrPeriodNotSealed):
		respondError(w, r, http.StatusConflict, ErrCodePeriodNotSealed, err.Error(), nil, nil)
	case errors.Is(err, engine.ErrInvalidPeriod):
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil, nil)
	case errors.Is(err, ledger.ErrPeriodOverlap):
		respondError(w, r, http.StatusConflict, ErrCodePeriodOverlap, err.Error(), nil, nil)
	case errors.Is(err, ledger.ErrConflict):
		w.Header().Set("Retry-After", retryAfterSeconds)
		respondError(w, r, http.StatusConflict, ErrCodeConflict, "conflicting update, retry later", nil, err)
	default:
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternal, "internal server error", nil, err)
	}
}

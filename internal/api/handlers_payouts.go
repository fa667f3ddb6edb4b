// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/tomtom215/encore/internal/logging"
	"github.com/tomtom215/encore/internal/payout"
	"github.com/tomtom215/encore/internal/validation"
)

// CallbackTokenHeader carries the shared webhook secret.
const CallbackTokenHeader = "X-Callback-Token"

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// PaymentCallback handles POST /api/v1/payouts/callback. A repeated PAID
// callback for an already paid statement succeeds without changes.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var cb payout.Callback
	if err := h.decodeJSON(w, r, &cb); err != nil {
		respondDomainError(w, r, err)
		return
	}
	if verr := validation.ValidateStruct(&cb); verr != nil {
		respondDomainError(w, r, verr)
		return
	}

	if err := h.settlement.HandlePaymentCallback(r.Context(), &cb); err != nil {
		respondDomainError(w, r, err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("statement_id", cb.StatementID).
		Str("reference_id", cb.ReferenceID).
		Str("status", cb.Status).
		Msg("Payment callback applied")

	respondJSON(w, r, http.StatusOK, map[string]string{
		"statement_id": cb.StatementID,
		"status":       cb.Status,
	})
}

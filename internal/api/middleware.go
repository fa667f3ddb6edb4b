// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// noop is returned by middleware factories that are disabled.
func noop(next http.Handler) http.Handler {
	return next
}

// rateLimit returns an IP-keyed httprate limiter, or a no-op when requests
// is not positive.
func rateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	if requests <= 0 || window <= 0 {
		return noop
	}
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, r, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded", nil, nil)
		}),
	)
}

// corsHandler allows the configured browser origins. No origins means no
// CORS headers.
func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return noop
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
}

// requireCallbackToken rejects webhook calls without the shared token.
func (h *Handler) requireCallbackToken(next http.Handler) http.Handler {
	if h.callbackToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !constantTimeEqual(r.Header.Get(CallbackTokenHeader), h.callbackToken) {
			respondError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid callback token", nil, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

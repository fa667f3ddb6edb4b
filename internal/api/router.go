// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/encore/internal/config"
	"github.com/tomtom215/encore/internal/middleware"
)

// Router builds the chi route tree.
type Router struct {
	handler   *Handler
	server    config.ServerConfig
	rateLimit config.RateLimitConfig
}

// NewRouter returns a Router for h.
func NewRouter(h *Handler, server config.ServerConfig, rl config.RateLimitConfig) *Router {
	return &Router{handler: h, server: server, rateLimit: rl}
}

// Setup returns the complete HTTP handler.
func (router *Router) Setup() http.Handler {
	h := router.handler
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	r.Use(corsHandler(router.server.CORSOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "route not found", nil, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed", nil, nil)
	})

	ingestLimit := noop
	generalLimit := noop
	if router.rateLimit.Enabled {
		ingestLimit = rateLimit(router.rateLimit.IngestRequests, router.rateLimit.Window)
		generalLimit = rateLimit(router.rateLimit.Requests, router.rateLimit.Window)
	}

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/health", func(r chi.Router) {
			r.Get("/live", h.HealthLive)
			r.Get("/ready", h.HealthReady)
		})

		r.With(ingestLimit).Post("/events", h.RecordEvent)

		r.Group(func(r chi.Router) {
			r.Use(generalLimit)

			r.Route("/aggregates", func(r chi.Router) {
				r.Get("/windows/{windowStart}", h.WindowBuckets)
				r.Get("/{artistID}/{trackID}/{windowStart}", h.Bucket)
			})

			r.Route("/settlements", func(r chi.Router) {
				r.Post("/run", h.RunSettlement)
				r.Post("/retry-payments", h.RetryPayments)
			})

			r.Route("/statements/{statementID}", func(r chi.Router) {
				r.Get("/", h.GetStatement)
				r.Post("/approve", h.ApproveStatement)
				r.Post("/reject", h.RejectStatement)
				r.Post("/dispute", h.DisputeStatement)
			})

			r.Route("/artists/{artistID}", func(r chi.Router) {
				r.Get("/statements", h.ArtistStatements)
				r.Get("/profile", h.GetProfile)
				r.Put("/profile", h.PutProfile)
			})

			r.Put("/tracks/{trackID}", h.PutTrack)

			r.With(h.requireCallbackToken).Post("/payouts/callback", h.PaymentCallback)
		})
	})

	return r
}

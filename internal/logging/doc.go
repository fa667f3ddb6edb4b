// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

// Package logging is the zerolog-based structured logger shared by every
// Encore component.
//
// A global logger is configured once with Init and used through the level
// helpers:
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//	logging.Info().Str("artist_id", id).Msg("Statement created")
//	logging.Ctx(ctx).Warn().Err(err).Msg("History lookup timed out")
//
// Ctx adds the correlation and request IDs carried by the context.
//
// Two adapters route third-party logging into the same sink:
// NewSlogLogger for suture's sutureslog hook and NewWatermillLogger for the
// notification publisher.
//
// Always terminate an event with Msg or Send; an unterminated event is
// never written.
package logging

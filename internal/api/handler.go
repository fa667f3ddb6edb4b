// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package api

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/encore/internal/config"
	"github.com/tomtom215/encore/internal/engine"
	"github.com/tomtom215/encore/internal/models"
	"github.com/tomtom215/encore/internal/payout"
)

// EventRecorder ingests stream events.
type EventRecorder interface {
	Record(ctx context.Context, event *models.StreamEvent) (*models.RecordResult, error)
}

// WindowReader reads sealed aggregation windows.
type WindowReader interface {
	IsWindowSealed(ctx context.Context, start time.Time) (bool, error)
	WindowBuckets(ctx context.Context, windowStart time.Time) ([]models.AggregateBucket, error)
	SealedBucket(ctx context.Context, key models.BucketKey) (*models.AggregateBucket, error)
}

// ReferenceStore persists tier profiles and the track catalog.
type ReferenceStore interface {
	UpsertProfile(ctx context.Context, p *models.ArtistTierProfile) error
	GetProfile(ctx context.Context, artistID string) (*models.ArtistTierProfile, error)
	UpsertTrack(ctx context.Context, t *models.Track) error
}

// CatalogCache drops cached track lengths after a catalog update.
type CatalogCache interface {
	Invalidate(trackID string)
}

// Settlement runs periods, reviews statements and tracks payments.
type Settlement interface {
	RunPeriod(ctx context.Context, start, end time.Time) (*engine.RunReport, error)
	RetryPayments(ctx context.Context) (*engine.RetryReport, error)
	HandlePaymentCallback(ctx context.Context, cb *payout.Callback) error
	Statement(ctx context.Context, statementID string) (*engine.StatementDetails, error)
	ArtistStatements(ctx context.Context, artistID string, limit int) ([]models.RoyaltyStatement, error)
	Approve(ctx context.Context, statementID, reason string) (*models.RoyaltyStatement, error)
	Reject(ctx context.Context, statementID, reason string) (*models.RoyaltyStatement, error)
	Dispute(ctx context.Context, statementID, reason string) (*models.RoyaltyStatement, error)
}

// HealthCheck is one readiness probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the components the handlers call into.
type Deps struct {
	Events     EventRecorder
	Windows    WindowReader
	Reference  ReferenceStore
	Catalog    CatalogCache
	Settlement Settlement
	Checks     []HealthCheck
}

// Handler serves the HTTP API.
type Handler struct {
	events     EventRecorder
	windows    WindowReader
	reference  ReferenceStore
	catalog    CatalogCache
	settlement Settlement
	checks     []HealthCheck

	maxBodyBytes  int64
	callbackToken string
	startTime     time.Time
}

// NewHandler validates deps and returns a Handler.
func NewHandler(cfg config.ServerConfig, deps Deps) (*Handler, error) {
	switch {
	case deps.Events == nil:
		return nil, errors.New("api: event recorder is required")
	case deps.Windows == nil:
		return nil, errors.New("api: window reader is required")
	case deps.Reference == nil:
		return nil, errors.New("api: reference store is required")
	case deps.Settlement == nil:
		return nil, errors.New("api: settlement engine is required")
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	return &Handler{
		events:        deps.Events,
		windows:       deps.Windows,
		reference:     deps.Reference,
		catalog:       deps.Catalog,
		settlement:    deps.Settlement,
		checks:        deps.Checks,
		maxBodyBytes:  maxBody,
		callbackToken: cfg.CallbackToken,
		startTime:     time.Now(),
	}, nil
}

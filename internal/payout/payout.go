// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

// Package payout is the boundary between the settlement engine and the
// external payment processor.
//
// A submission only hands the statement over; the processor confirms the
// money movement later through the payout callback. Submissions carry the
// statement ID as an Idempotency-Key so a retried submission never pays
// twice.
package payout

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/encore/internal/breaker"
	"github.com/tomtom215/encore/internal/logging"
	"github.com/tomtom215/encore/internal/models"
)

var (
	// ErrRejected is returned when the processor refuses a payout. It does
	// not count against the circuit breaker.
	ErrRejected = errors.New("payout rejected by processor")

	// ErrPermanent marks a rejection that resubmitting cannot fix. The
	// engine fails the statement instead of retrying it.
	ErrPermanent = errors.New("payout permanently refused")
)

// Result is the processor's answer to a submission.
type Result struct {
	Accepted    bool   `json:"accepted"`
	ReferenceID string `json:"reference_id"`
}

// Gateway submits approved statements for payment.
type Gateway interface {
	SubmitPayout(ctx context.Context, s *models.RoyaltyStatement) (Result, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, s *models.RoyaltyStatement) (Result, error)

// SubmitPayout calls f.
func (f GatewayFunc) SubmitPayout(ctx context.Context, s *models.RoyaltyStatement) (Result, error) {
	return f(ctx, s)
}

// Callback is the processor's asynchronous confirmation of a payout.
type Callback struct {
	StatementID string `json:"statement_id" validate:"required"`
	ReferenceID string `json:"reference_id"`
	Status      string `json:"status" validate:"required,oneof=PAID FAILED"`
	Reason      string `json:"reason,omitempty"`
}

// Succeeded reports whether the processor confirmed payment.
func (c *Callback) Succeeded() bool {
	return c.Status == string(models.PaymentPaid)
}

// Config configures the HTTP gateway.
type Config struct {
	// URL is the processor's base URL. Empty selects the manual gateway.
	URL           string         `koanf:"url"`
	APIKey        string         `koanf:"api_key"`
	Timeout       time.Duration  `koanf:"timeout"`
	RatePerSecond float64        `koanf:"rate_per_second"`
	Burst         int            `koanf:"burst"`
	Breaker       breaker.Config `koanf:"breaker"`
}

// DefaultConfig returns gateway defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       15 * time.Second,
		RatePerSecond: 10,
		Burst:         5,
		Breaker:       breaker.DefaultConfig(),
	}
}

// Validate checks the gateway settings.
func (c Config) Validate() error {
	if c.URL != "" && !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("url must be http or https, got %q", c.URL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RatePerSecond <= 0 || c.Burst <= 0 {
		return fmt.Errorf("rate_per_second and burst must be positive")
	}
	return c.Breaker.Validate()
}

// New returns the HTTP gateway for cfg.URL, or the manual gateway when no
// processor is configured.
func New(cfg Config) Gateway {
	if cfg.URL == "" {
		logging.Warn().Msg("No payout processor configured; payouts are handed off for manual settlement")
		return ManualGateway{}
	}
	return NewHTTPGateway(cfg, nil)
}

// ManualGateway accepts every payout with a synthetic reference. The
// operator settles it out of band and reports back through the callback.
type ManualGateway struct{}

// SubmitPayout accepts s.
func (ManualGateway) SubmitPayout(ctx context.Context, s *models.RoyaltyStatement) (Result, error) {
	logging.Ctx(ctx).Info().
		Str("statement_id", s.StatementID).
		Str("artist_id", s.ArtistID).
		Int64("net_amount", s.NetAmount).
		Str("currency", s.Currency).
		Msg("Payout awaiting manual settlement")
	return Result{Accepted: true, ReferenceID: "manual-" + s.StatementID}, nil
}

// HTTPGateway posts payouts to the processor's REST API.
type HTTPGateway struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[Result]
}

// NewHTTPGateway creates the gateway. A nil client gets one with cfg.Timeout.
func NewHTTPGateway(cfg Config, client *http.Client) *HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPGateway{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		cb:      breaker.New[Result]("payout", cfg.Breaker),
	}
}

type payoutRequest struct {
	StatementID string    `json:"statement_id"`
	ArtistID    string    `json:"artist_id"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// SubmitPayout sends s to the processor. Submissions are throttled and run
// through the circuit breaker; 4xx answers are returned as ErrRejected and
// do not count against the breaker. A 4xx other than 408, 409 or 429 also
// wraps ErrPermanent.
func (g *HTTPGateway) SubmitPayout(ctx context.Context, s *models.RoyaltyStatement) (Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("payout throttle: %w", err)
	}

	var rejected error
	res, err := g.cb.Execute(func() (Result, error) {
		r, err := g.post(ctx, s)
		if errors.Is(err, ErrRejected) {
			rejected = err
			return Result{}, nil
		}
		return r, err
	})
	if err != nil {
		return Result{}, err
	}
	if rejected != nil {
		return Result{}, rejected
	}
	return res, nil
}

func (g *HTTPGateway) post(ctx context.Context, s *models.RoyaltyStatement) (Result, error) {
	body, err := json.Marshal(payoutRequest{
		StatementID: s.StatementID,
		ArtistID:    s.ArtistID,
		Amount:      s.NetAmount,
		Currency:    s.Currency,
		PeriodStart: s.PeriodStart,
		PeriodEnd:   s.PeriodEnd,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode payout: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.cfg.URL, "/")+"/payouts", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build payout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", s.StatementID)
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("payout request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read payout response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var res Result
		if err := json.Unmarshal(raw, &res); err != nil {
			return Result{}, fmt.Errorf("decode payout response: %w", err)
		}
		if !res.Accepted {
			return Result{}, fmt.Errorf("%w: not accepted", ErrRejected)
		}
		return res, nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, truncate(string(raw), 200))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Result{}, fmt.Errorf("%w: %w: status %d: %s", ErrRejected, ErrPermanent, resp.StatusCode, truncate(string(raw), 200))
	default:
		return Result{}, fmt.Errorf("payout processor returned status %d", resp.StatusCode)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

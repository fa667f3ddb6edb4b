// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/encore/internal/api"
	"github.com/tomtom215/encore/internal/config"
	"github.com/tomtom215/encore/internal/engine"
	"github.com/tomtom215/encore/internal/models"
)

func TestResolvePeriod(t *testing.T) {
	now := time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC) // Wednesday

	tests := []struct {
		name      string
		opts      settleOptions
		wantStart time.Time
		wantEnd   time.Time
		wantErr   bool
	}{
		{
			name:      "last completed day",
			opts:      settleOptions{cadence: "daily"},
			wantStart: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "last completed week",
			opts:      settleOptions{cadence: "weekly"},
			wantStart: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "week containing date",
			opts:      settleOptions{cadence: "weekly", date: "2026-03-11"},
			wantStart: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "explicit bounds",
			opts:      settleOptions{periodStart: "2026-03-01T00:00:00Z", periodEnd: "2026-03-01T06:00:00Z"},
			wantStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC),
		},
		{name: "start without end", opts: settleOptions{periodStart: "2026-03-01T00:00:00Z"}, wantErr: true},
		{name: "bad cadence", opts: settleOptions{cadence: "monthly"}, wantErr: true},
		{name: "bad date", opts: settleOptions{cadence: "daily", date: "11/03/2026"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := tt.opts.resolvePeriod(now)
			if tt.wantErr {
				if err == nil {
					t.Fatal("resolvePeriod() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("resolvePeriod() error = %v", err)
			}
			if !start.Equal(tt.wantStart) || !end.Equal(tt.wantEnd) {
				t.Errorf("resolvePeriod() = %v..%v, want %v..%v", start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

// fakeServer answers the admin endpoints with canned envelopes.
type fakeServer struct {
	mu     sync.Mutex
	paths  []string
	bodies []string
	status int
	data   interface{}
	apiErr *models.APIError
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.bodies = append(f.bodies, string(body))
	f.mu.Unlock()

	resp := models.APIResponse{Status: "success", Data: f.data, Metadata: models.Metadata{RequestID: "req-1"}}
	if f.apiErr != nil {
		resp.Status, resp.Data, resp.Error = "error", nil, f.apiErr
	}
	payload, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.status)
	_, _ = w.Write(payload)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSettleCommand(t *testing.T) {
	fake := &fakeServer{
		status: http.StatusOK,
		data: engine.RunReport{
			Artists:  1,
			Approved: 1,
			Results:  []engine.ArtistResult{{ArtistID: "artist-a", StatementID: "stmt-1", Outcome: engine.OutcomeApproved, NetAmount: 150000}},
		},
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	out, err := runCLI(t, "settle", "--server", srv.URL, "--period-start", "2026-03-10T00:00:00Z", "--period-end", "2026-03-11T00:00:00Z")
	if err != nil {
		t.Fatalf("settle error = %v", err)
	}
	if len(fake.paths) != 1 || fake.paths[0] != "/api/v1/settlements/run" {
		t.Fatalf("paths = %v, want one run call", fake.paths)
	}

	var req api.RunRequest
	if err := json.Unmarshal([]byte(fake.bodies[0]), &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.PeriodStart != "2026-03-10T00:00:00Z" || req.PeriodEnd != "2026-03-11T00:00:00Z" {
		t.Errorf("request = %+v", req)
	}
	if !strings.Contains(out, "1 approved") || !strings.Contains(out, "statement=stmt-1") {
		t.Errorf("output = %q", out)
	}
}

func TestSettleCommand_ServerError(t *testing.T) {
	fake := &fakeServer{
		status: http.StatusConflict,
		apiErr: &models.APIError{Code: api.ErrCodePeriodNotSealed, Message: "period is not fully sealed"},
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := runCLI(t, "settle", "--server", srv.URL, "--date", "2026-03-10")
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("settle error = %v, want *apiError", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != api.ErrCodePeriodNotSealed || apiErr.RequestID != "req-1" {
		t.Errorf("apiError = %+v", apiErr)
	}
}

func TestRetryPaymentsCommand(t *testing.T) {
	fake := &fakeServer{status: http.StatusOK, data: engine.RetryReport{Considered: 3, Submitted: 3, Accepted: 2, Failed: 1}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	out, err := runCLI(t, "retry-payments", "--server", srv.URL+"/")
	if err != nil {
		t.Fatalf("retry-payments error = %v", err)
	}
	if fake.paths[0] != "/api/v1/settlements/retry-payments" {
		t.Errorf("path = %s", fake.paths[0])
	}
	if !strings.Contains(out, "accepted 2") {
		t.Errorf("output = %q", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "encore dev") {
		t.Errorf("output = %q", out)
	}
}

// loadTestConfig loads defaults with storage under a temp dir.
func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(config.ConfigPathEnvVar, "")
	t.Setenv("DUCKDB_PATH", filepath.Join(dir, "encore.duckdb"))
	t.Setenv("AUDIT_LOG_PATH", filepath.Join(dir, "audit"))
	t.Setenv("RATE_LIMIT_ENABLED", "false")

	cfg, err := config.LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	return cfg
}

func TestNewApp_ServesAPI(t *testing.T) {
	cfg := loadTestConfig(t)

	a, err := newApp(cfg)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.close()

	if _, err := a.tracker.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		rec := httptest.NewRecorder()
		a.server.Handler.ServeHTTP(rec, req)
		return rec
	}

	event := `{"track_id":"t-1","artist_id":"a-1","listener_id":"l-1","device_id":"d-1",` +
		`"timestamp":"` + time.Now().UTC().Add(-time.Minute).Format(time.RFC3339Nano) + `",` +
		`"duration_ms":180000,"subscription_tier":"PREMIUM","source_ip":"203.0.113.7"}`

	if rec := do(http.MethodPost, "/api/v1/events", event); rec.Code != http.StatusAccepted {
		t.Fatalf("first event status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec := do(http.MethodPost, "/api/v1/events", event); rec.Code != http.StatusConflict {
		t.Errorf("replayed event status = %d, want 409", rec.Code)
	}
	if rec := do(http.MethodGet, "/api/v1/health/ready", ""); rec.Code != http.StatusOK {
		t.Errorf("ready status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec := do(http.MethodPut, "/api/v1/tracks/t-1", `{"artist_id":"a-1","length_ms":200000}`); rec.Code != http.StatusOK {
		t.Errorf("put track status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestNewApp_ClosesOnError(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Engine.Cadence = "hourly"

	if _, err := newApp(cfg); err == nil {
		t.Fatal("newApp() error = nil, want engine config error")
	}

	// The stores were released, so a second app can open them.
	cfg.Engine.Cadence = "daily"
	a, err := newApp(cfg)
	if err != nil {
		t.Fatalf("newApp() after failure error = %v", err)
	}
	a.close()
}

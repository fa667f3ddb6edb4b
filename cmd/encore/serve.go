// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomtom215/encore/internal/config"
	"github.com/tomtom215/encore/internal/logging"
	"github.com/tomtom215/encore/internal/supervisor"
)

func newServeCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Encore server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path := strings.TrimSpace(*configFlag); path != "" {
				if err := os.Setenv(config.ConfigPathEnvVar, path); err != nil {
					return err
				}
			}
			cfg, err := config.LoadWithKoanf()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

// runServe runs until ctx is cancelled.
func runServe(ctx context.Context, cfg *config.Config) error {
	logging.Init(cfg.Logging)
	logging.Info().
		Str("version", version).
		Str("addr", cfg.Server.Addr()).
		Str("db_path", cfg.Database.Path).
		Str("audit_log_path", cfg.AuditLog.Path).
		Str("cadence", cfg.Engine.Cadence).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Msg("Starting Encore")

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	replayed, err := a.tracker.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rebuild aggregation state: %w", err)
	}
	logging.Info().Int("records", replayed).Msg("Aggregation state rebuilt from audit log")

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), cfg.Supervisor)
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}
	if err := a.addServices(tree); err != nil {
		return err
	}

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	var serveErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
		serveErr = <-errCh
	case serveErr = <-errCh:
	}
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		logging.Error().Err(serveErr).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Encore stopped gracefully")
	return nil
}

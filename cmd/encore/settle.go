// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/encore/internal/api"
	"github.com/tomtom215/encore/internal/engine"
)

type settleOptions struct {
	cadence     string
	date        string
	periodStart string
	periodEnd   string
}

// resolvePeriod picks the period to settle: explicit bounds, the period
// containing --date, or the last completed period.
func (o settleOptions) resolvePeriod(now time.Time) (start, end time.Time, err error) {
	if o.periodStart != "" || o.periodEnd != "" {
		if o.periodStart == "" || o.periodEnd == "" {
			return start, end, errors.New("--period-start and --period-end must be given together")
		}
		if start, err = time.Parse(time.RFC3339, o.periodStart); err != nil {
			return start, end, fmt.Errorf("--period-start: %w", err)
		}
		if end, err = time.Parse(time.RFC3339, o.periodEnd); err != nil {
			return start, end, fmt.Errorf("--period-end: %w", err)
		}
		return start.UTC(), end.UTC(), nil
	}

	cadence, err := engine.ParseCadence(o.cadence)
	if err != nil {
		return start, end, err
	}
	if o.date != "" {
		day, err := time.Parse(time.DateOnly, o.date)
		if err != nil {
			return start, end, fmt.Errorf("--date: %w", err)
		}
		start, end = engine.PeriodContaining(cadence, day)
		return start, end, nil
	}
	start, end = engine.LastCompletedPeriod(cadence, now)
	return start, end, nil
}

func newSettleCommand(serverFlag *string) *cobra.Command {
	var opts settleOptions
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Settle one period on a running server",
		Long: "Settle one period on a running server. Re-running a period is safe: " +
			"artists that already have a statement for it are skipped.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, end, err := opts.resolvePeriod(time.Now().UTC())
			if err != nil {
				return err
			}

			var report engine.RunReport
			err = newAPIClient(*serverFlag).post(cmd.Context(), "/api/v1/settlements/run", api.RunRequest{
				PeriodStart: start.Format(time.RFC3339),
				PeriodEnd:   end.Format(time.RFC3339),
			}, &report)
			if err != nil {
				return err
			}
			return printRunReport(cmd.OutOrStdout(), &report)
		},
	}
	cmd.Flags().StringVar(&opts.cadence, "cadence", "daily", "Period cadence when no bounds are given (daily or weekly)")
	cmd.Flags().StringVar(&opts.date, "date", "", "Settle the period containing this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.periodStart, "period-start", "", "Explicit period start (RFC3339)")
	cmd.Flags().StringVar(&opts.periodEnd, "period-end", "", "Explicit period end (RFC3339)")
	return cmd
}

func newRetryPaymentsCommand(serverFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-payments",
		Short: "Resubmit pending and failed payouts on a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var report engine.RetryReport
			if err := newAPIClient(*serverFlag).post(cmd.Context(), "/api/v1/settlements/retry-payments", nil, &report); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "considered %d, submitted %d, accepted %d, failed %d, exhausted %d\n",
				report.Considered, report.Submitted, report.Accepted, report.Failed, report.Exhausted)
			return err
		},
	}
}

func printRunReport(w io.Writer, r *engine.RunReport) error {
	if _, err := fmt.Fprintf(w, "period %s .. %s: %d artists, %d approved, %d manual review, %d skipped, %d errors\n",
		r.PeriodStart.Format(time.RFC3339), r.PeriodEnd.Format(time.RFC3339),
		r.Artists, r.Approved, r.ManualReview, r.Skipped, r.Errors); err != nil {
		return err
	}
	for _, res := range r.Results {
		line := fmt.Sprintf("  %-24s %-14s net=%d", res.ArtistID, res.Outcome, res.NetAmount)
		if res.StatementID != "" {
			line += " statement=" + res.StatementID
		}
		if res.Error != "" {
			line += " error=" + res.Error
		}
		if res.PaymentError != "" {
			line += " payment_error=" + res.PaymentError
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	if r.Incomplete {
		_, err := fmt.Fprintln(w, "run was interrupted; re-run to settle the remaining artists")
		return err
	}
	return nil
}

// Encore - Stream Tracking and Royalty Settlement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/encore

package main

import (
	"github.com/spf13/cobra"
)

const defaultServerURL = "http://127.0.0.1:8470"

func newRootCommand() *cobra.Command {
	var configFlag string
	var serverFlag string

	rootCmd := &cobra.Command{
		Use:           "encore",
		Short:         "Stream tracking and royalty settlement",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (overrides CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", defaultServerURL, "Base URL of a running Encore server")

	rootCmd.AddCommand(newServeCommand(&configFlag))
	rootCmd.AddCommand(newSettleCommand(&serverFlag))
	rootCmd.AddCommand(newRetryPaymentsCommand(&serverFlag))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

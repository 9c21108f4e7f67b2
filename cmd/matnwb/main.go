// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// matnwb converts MATLAB v7.3 Neuropixels sessions into NWB files.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/OpenPSG/nwb/internal/config"
	"github.com/OpenPSG/nwb/internal/logging"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "matnwb",
		Short: "Convert MATLAB recording sessions to NWB",
		Long: `matnwb converts a Neuropixels virtual reality session, saved by MATLAB
in the v7.3 (HDF5) format, into a Neurodata Without Borders 2.x file.

Trials, position, licks, the probe geometry and the curated and template
spike sorting output are carried over.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newConvertCmd(),
		newInspectCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "matnwb version %s\n", version)
		},
	}
}

// newLogger builds the logger selected by the logging section.
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	if cfg.Format == "json" {
		return logging.NewJSONLogger(cfg.Level, w)
	}
	return logging.NewLogger(cfg.Level, w)
}

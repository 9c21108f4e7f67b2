// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package main

import (
	"fmt"

	"github.com/OpenPSG/nwb/convert"
	"github.com/OpenPSG/nwb/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a session file to NWB",
		Long: `Convert a MATLAB v7.3 session file to NWB.

Settings are read from the optional --config YAML file and may be
overridden by flags. Without a config file the baseline session defaults
are used.

Examples:
  matnwb convert --input npI5_0417_baseline_1.mat --output out.nwb
  matnwb convert --config session.yaml --subject-id npI5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}

			opts, err := cfg.Options()
			if err != nil {
				return err
			}

			logger := newLogger(cfg.Logging, cmd.ErrOrStderr())

			file, err := convert.Convert(cmd.Context(), opts, logger)
			if err != nil {
				return fmt.Errorf("conversion failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (identifier %s)\n", opts.Output, file.Identifier)
			return nil
		},
	}

	cmd.Flags().String("config", "", "YAML file describing the conversion")
	cmd.Flags().String("input", "", "MATLAB v7.3 session file")
	cmd.Flags().String("output", "", "NWB file to write")
	cmd.Flags().Bool("strict-cluster-ids", false, "Reject curated cluster ids that are not 0..n-1")
	cmd.Flags().String("file-create-timezone", "", "IANA zone of the file creation date")

	cmd.Flags().String("session-id", "", "Session identifier")
	cmd.Flags().String("session-description", "", "Session description")
	cmd.Flags().String("session-start-time", "", "Session start, RFC 3339 or local to --timezone")
	cmd.Flags().String("timezone", "", "IANA zone of the recording rig")
	cmd.Flags().String("experimenter", "", "Experimenter name")
	cmd.Flags().String("experiment-description", "", "Experiment description")
	cmd.Flags().String("institution", "", "Institution")
	cmd.Flags().String("lab", "", "Lab")

	cmd.Flags().String("subject-id", "", "Subject identifier")
	cmd.Flags().String("subject-date-of-birth", "", "Subject date of birth")
	cmd.Flags().String("subject-description", "", "Subject description")
	cmd.Flags().String("subject-sex", "", "Subject sex")
	cmd.Flags().String("subject-species", "", "Subject species")
	cmd.Flags().String("subject-weight", "", "Subject weight")

	cmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "", "Log format (text, json)")

	return cmd
}

// loadConfig reads --config, or the defaults, and applies every flag the
// user set on top.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg := config.Default()

	if path, _ := flags.GetString("config"); path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	overrides := map[string]*string{
		"input":                  &cfg.Input,
		"output":                 &cfg.Output,
		"file-create-timezone":   &cfg.FileCreateTimezone,
		"session-id":             &cfg.Session.ID,
		"session-description":    &cfg.Session.Description,
		"session-start-time":     &cfg.Session.StartTime,
		"timezone":               &cfg.Session.Timezone,
		"experimenter":           &cfg.Session.Experimenter,
		"experiment-description": &cfg.Session.ExperimentDescription,
		"institution":            &cfg.Session.Institution,
		"lab":                    &cfg.Session.Lab,
		"subject-id":             &cfg.Subject.ID,
		"subject-date-of-birth":  &cfg.Subject.DateOfBirth,
		"subject-description":    &cfg.Subject.Description,
		"subject-sex":            &cfg.Subject.Sex,
		"subject-species":        &cfg.Subject.Species,
		"subject-weight":         &cfg.Subject.Weight,
		"log-level":              &cfg.Logging.Level,
		"log-format":             &cfg.Logging.Format,
	}
	for name, dst := range overrides {
		if !flags.Changed(name) {
			continue
		}
		*dst, _ = flags.GetString(name)
	}

	if flags.Changed("strict-cluster-ids") {
		cfg.StrictClusterIDs, _ = flags.GetBool("strict-cluster-ids")
	}

	return cfg, nil
}

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
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/OpenPSG/nwb"
	"github.com/spf13/cobra"
)

// summary is what inspect reports about an NWB file.
type summary struct {
	Identifier         string    `json:"identifier"`
	SessionDescription string    `json:"session_description"`
	SessionID          string    `json:"session_id,omitempty"`
	SessionStartTime   time.Time `json:"session_start_time"`
	FileCreateDate     time.Time `json:"file_create_date"`
	SubjectID          string    `json:"subject_id,omitempty"`
	Trials             int       `json:"trials"`
	PositionSamples    int       `json:"position_samples"`
	Electrodes         int       `json:"electrodes"`
	Units              int       `json:"units"`
	TemplateUnits      int       `json:"template_units"`
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <file.nwb>",
		Short: "Summarize a converted NWB file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := inspect(args[0])
			if err != nil {
				return err
			}

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}

			printSummary(cmd.OutOrStdout(), s)
			return nil
		},
	}

	cmd.Flags().Bool("json", false, "Output as JSON")

	return cmd
}

func inspect(path string) (*summary, error) {
	r, err := nwb.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	header, err := r.Header()
	if err != nil {
		return nil, fmt.Errorf("error reading header: %w", err)
	}

	s := &summary{
		Identifier:         header.Identifier,
		SessionDescription: header.SessionDescription,
		SessionID:          header.SessionID,
		SessionStartTime:   header.SessionStartTime,
		FileCreateDate:     header.FileCreateDate,
	}
	if header.Subject != nil {
		s.SubjectID = header.Subject.SubjectID
	}

	trials, err := r.Trials()
	if err != nil {
		return nil, fmt.Errorf("error reading trials: %w", err)
	}
	s.Trials = len(trials.Rows)

	position, err := r.TimeSeries("/acquisition/Position/Position")
	if err != nil {
		return nil, fmt.Errorf("error reading position: %w", err)
	}
	s.PositionSamples = len(position.Timestamps)

	if s.Electrodes, err = r.ElectrodeCount(); err != nil {
		return nil, fmt.Errorf("error reading electrodes: %w", err)
	}

	units, err := r.Units("/units")
	if err != nil {
		return nil, fmt.Errorf("error reading units: %w", err)
	}
	s.Units = len(units.Rows)

	templates, err := r.Units("/processing/TemplateUnits/TemplateUnits")
	if err != nil {
		return nil, fmt.Errorf("error reading template units: %w", err)
	}
	s.TemplateUnits = len(templates.Rows)

	return s, nil
}

func printSummary(w io.Writer, s *summary) {
	fmt.Fprintf(w, "Identifier:       %s\n", s.Identifier)
	fmt.Fprintf(w, "Description:      %s\n", s.SessionDescription)
	if s.SessionID != "" {
		fmt.Fprintf(w, "Session:          %s\n", s.SessionID)
	}
	fmt.Fprintf(w, "Start time:       %s\n", s.SessionStartTime.Format(time.RFC3339))
	fmt.Fprintf(w, "Created:          %s\n", s.FileCreateDate.Format(time.RFC3339))
	if s.SubjectID != "" {
		fmt.Fprintf(w, "Subject:          %s\n", s.SubjectID)
	}
	fmt.Fprintf(w, "Trials:           %d\n", s.Trials)
	fmt.Fprintf(w, "Position samples: %d\n", s.PositionSamples)
	fmt.Fprintf(w, "Electrodes:       %d\n", s.Electrodes)
	fmt.Fprintf(w, "Units:            %d\n", s.Units)
	fmt.Fprintf(w, "Template units:   %d\n", s.TemplateUnits)
}
